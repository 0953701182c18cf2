package sender

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/errx"

	"github.com/toolkits/pkg/logger"
)

type SlackConfig struct {
	WebhookUrl string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
	Username   string `mapstructure:"username"`
	Timeout    int64  `mapstructure:"timeout"`
}

type SlackSender struct {
	conf   SlackConfig
	tpl    *template.Template
	client *http.Client
}

type slackMessage struct {
	Channel  string `json:"channel,omitempty"`
	Username string `json:"username,omitempty"`
	Text     string `json:"text"`
}

func NewSlackSender(conf SlackConfig, tpl *template.Template) *SlackSender {
	if conf.Timeout <= 0 {
		conf.Timeout = 5
	}
	return &SlackSender{
		conf:   conf,
		tpl:    tpl,
		client: &http.Client{Timeout: time.Duration(conf.Timeout) * time.Second},
	}
}

func (ss *SlackSender) Send(ctx context.Context, m *Message) error {
	if ss.conf.WebhookUrl == "" {
		return errx.NewNotification(models.Slack, fmt.Errorf("webhook_url not configured"))
	}

	text := m.Text
	if ss.tpl != nil {
		text = BuildTplMessage(ss.tpl, m.Alert)
	}

	body, code, err := doPost(ctx, ss.client, ss.conf.WebhookUrl, slackMessage{
		Channel:  ss.conf.Channel,
		Username: ss.conf.Username,
		Text:     fmt.Sprintf("*%s*\n%s", m.Title, text),
	}, nil)
	if err != nil {
		return errx.NewNotification(models.Slack, err)
	}

	// incoming webhooks answer with a literal "ok"
	if code != http.StatusOK || string(body) != "ok" {
		return errx.NewNotification(models.Slack, fmt.Errorf("unexpected response %d: %s", code, string(body)))
	}

	logger.Debugf("slack_sender: result=succ alert=%s channel=%s", m.Alert.Id, ss.conf.Channel)
	return nil
}
