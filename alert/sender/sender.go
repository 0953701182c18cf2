package sender

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path"
	"strings"

	"github.com/klaxonhq/klaxon/alert/aconf"
	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/tplx"
	"github.com/klaxonhq/klaxon/storage"

	"github.com/mitchellh/mapstructure"
	"github.com/toolkits/pkg/logger"
)

type (
	// Sender delivers one rendered notification on one channel. Implementations
	// return an error when the delivery should be retried; the dispatcher owns
	// the retry policy.
	Sender interface {
		Send(ctx context.Context, m *Message) error
	}

	// Message is the rendered notification handed to every channel of one
	// delivery. The alert inside is a snapshot owned by the message.
	Message struct {
		Alert *models.Alert
		Kind  string
		Level int
		Title string
		Text  string
	}
)

// NewSender builds the sender for one channel key. The raw map is the channel
// section from the config file; unknown keys return nil and the channel is
// skipped.
func NewSender(key string, raw map[string]interface{}, tpls map[string]*template.Template, smtp aconf.SMTPConfig, redis storage.Redis, inboxMax int64) Sender {
	switch key {
	case models.Email:
		return NewEmailSender(tpls["mailsubject"], tpls[models.Email], smtp)
	case models.Webhook:
		var conf WebhookConfig
		if err := decodeChannelConf(key, raw, &conf); err != nil {
			return nil
		}
		return NewWebhookSender(conf, tpls[models.Webhook])
	case models.Slack:
		var conf SlackConfig
		if err := decodeChannelConf(key, raw, &conf); err != nil {
			return nil
		}
		return NewSlackSender(conf, tpls[models.Slack])
	case models.Telegram:
		var conf TelegramConfig
		if err := decodeChannelConf(key, raw, &conf); err != nil {
			return nil
		}
		return NewTelegramSender(conf, tpls[models.Telegram])
	case models.Sms:
		var conf SmsConfig
		if err := decodeChannelConf(key, raw, &conf); err != nil {
			return nil
		}
		return NewSmsSender(conf, tpls[models.Sms])
	case models.Pagerduty:
		var conf PagerdutyConfig
		if err := decodeChannelConf(key, raw, &conf); err != nil {
			return nil
		}
		return NewPagerdutySender(conf)
	case models.InApp:
		return NewInappSender(redis, inboxMax)
	}
	return nil
}

// NewSenders wires every configured channel. Email joins when SMTP is
// configured, inapp is always on, the rest come from the channels section.
func NewSenders(alerting aconf.Alerting, tpls map[string]*template.Template, redis storage.Redis) map[string]Sender {
	senders := make(map[string]Sender)

	for key, raw := range alerting.Channels {
		s := NewSender(key, raw, tpls, alerting.SMTP, redis, alerting.Inbox.MaxSize)
		if s == nil {
			logger.Warningf("channel %s: unknown or misconfigured, skipped", key)
			continue
		}
		senders[key] = s
	}

	if alerting.SMTP.Host != "" {
		if _, has := senders[models.Email]; !has {
			senders[models.Email] = NewEmailSender(tpls["mailsubject"], tpls[models.Email], alerting.SMTP)
		}
	}

	if _, has := senders[models.InApp]; !has {
		senders[models.InApp] = NewInappSender(redis, alerting.Inbox.MaxSize)
	}

	return senders
}

func decodeChannelConf(key string, raw map[string]interface{}, out interface{}) error {
	if err := mapstructure.Decode(raw, out); err != nil {
		logger.Errorf("channel %s: bad config: %v", key, err)
		return err
	}
	return nil
}

const defaultTplText = `[{{.Severity}}] {{.Rule}} on {{.Source}}: {{.Metric}} = {{.Value}} (threshold {{.Threshold}}), triggered {{.TriggerCount}} times`

var defaultTpl = template.Must(template.New("default").Parse(defaultTplText))

// LoadTemplates parses every .tpl file under dir, keyed by basename. A
// missing directory is not an error, channels fall back to the builtin
// template.
func LoadTemplates(dir string) (map[string]*template.Template, error) {
	tpls := make(map[string]*template.Template)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warningf("template dir %s not found, using builtin template", dir)
			return tpls, nil
		}
		return nil, fmt.Errorf("failed to read template dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tpl") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".tpl")
		content, err := os.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", entry.Name(), err)
		}
		tpl, err := template.New(name).Funcs(template.FuncMap(tplx.TemplateFuncMap)).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", entry.Name(), err)
		}
		tpls[name] = tpl
	}

	return tpls, nil
}

// BuildTplMessage renders the alert through the channel template, falling
// back to the builtin one.
func BuildTplMessage(tpl *template.Template, a *models.Alert) string {
	if tpl == nil {
		tpl = defaultTpl
	}
	var body bytes.Buffer
	if err := tpl.Execute(&body, a); err != nil {
		logger.Errorf("failed to render template for alert %s: %v", a.Id, err)
		return err.Error()
	}
	return body.String()
}

// BuildMessage renders title and body once per notify job; every channel of
// the delivery shares the result.
func BuildMessage(a *models.Alert, kind string, level int, tpls map[string]*template.Template) *Message {
	title := fmt.Sprintf("[%s] %s on %s", strings.ToUpper(a.Severity), a.Rule, a.Source)
	if kind == "escalation" {
		title = fmt.Sprintf("[ESCALATED L%d] %s on %s", level, a.Rule, a.Source)
	}
	return &Message{
		Alert: a,
		Kind:  kind,
		Level: level,
		Title: title,
		Text:  BuildTplMessage(tpls["default"], a),
	}
}
