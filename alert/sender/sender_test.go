package sender

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klaxonhq/klaxon/alert/aconf"
	"github.com/klaxonhq/klaxon/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() *Message {
	return &Message{
		Alert: &models.Alert{
			Id:              "a1",
			Fingerprint:     "fp1",
			Rule:            "high_cpu",
			Metric:          "cpu.usage",
			Source:          "host-1",
			Severity:        models.SeverityCritical,
			Value:           92,
			Threshold:       80,
			State:           models.StateActive,
			TriggerCount:    3,
			CreateAt:        time.Now().Unix() - 60,
			LastTriggerTime: time.Now().Unix(),
		},
		Kind:  "created",
		Title: "[CRITICAL] high_cpu on host-1",
		Text:  "cpu.usage = 92",
	}
}

func TestLoadTemplates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "slack.tpl"), []byte("{{.Rule}} fired on {{.Source}}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	tpls, err := LoadTemplates(dir)
	require.NoError(t, err)
	require.Contains(t, tpls, "slack")
	assert.NotContains(t, tpls, "notes")

	out := BuildTplMessage(tpls["slack"], testMessage().Alert)
	assert.Equal(t, "high_cpu fired on host-1", out)
}

func TestLoadTemplatesMissingDir(t *testing.T) {
	tpls, err := LoadTemplates(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, tpls)
}

func TestLoadTemplatesBadSyntax(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.tpl"), []byte("{{.Rule"), 0644))

	_, err := LoadTemplates(dir)
	assert.Error(t, err)
}

func TestBuildTplMessageFallback(t *testing.T) {
	out := BuildTplMessage(nil, testMessage().Alert)
	assert.Contains(t, out, "high_cpu")
	assert.Contains(t, out, "cpu.usage")
	assert.Contains(t, out, "92")
	assert.Contains(t, out, "triggered 3 times")
}

func TestBuildMessage(t *testing.T) {
	a := testMessage().Alert

	m := BuildMessage(a, "created", 0, nil)
	assert.Equal(t, "[CRITICAL] high_cpu on host-1", m.Title)
	assert.NotEmpty(t, m.Text)

	m = BuildMessage(a, "escalation", 2, nil)
	assert.Equal(t, "[ESCALATED L2] high_cpu on host-1", m.Title)
	assert.Equal(t, 2, m.Level)
}

func TestNewSenders(t *testing.T) {
	alerting := aconf.Alerting{
		SMTP: aconf.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "noc@example.com", To: []string{"ops@example.com"}},
		Channels: map[string]map[string]interface{}{
			models.Webhook:   {"url": "http://hooks.example.com/notify"},
			models.Slack:     {"webhook_url": "http://hooks.slack.example.com/T000"},
			models.Telegram:  {"tokens": []string{"123:abc/456"}},
			"carrier-pigeon": {"loft": "roof"},
		},
		Inbox: aconf.InboxConfig{MaxSize: 100},
	}

	senders := NewSenders(alerting, nil, nil)

	assert.Contains(t, senders, models.Webhook)
	assert.Contains(t, senders, models.Slack)
	assert.Contains(t, senders, models.Telegram)
	assert.Contains(t, senders, models.Email)
	assert.Contains(t, senders, models.InApp)
	assert.NotContains(t, senders, "carrier-pigeon")

	if es, ok := senders[models.Email].(*EmailSender); ok {
		es.Close()
	}
}

func TestNewSenderUnknownKey(t *testing.T) {
	assert.Nil(t, NewSender("pager-pigeon", nil, nil, aconf.SMTPConfig{}, nil, 0))
}
