package sender

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/errx"

	"github.com/tidwall/gjson"
	"github.com/toolkits/pkg/logger"
)

type WebhookConfig struct {
	Url           string   `mapstructure:"url"`
	BasicAuthUser string   `mapstructure:"basic_auth_user"`
	BasicAuthPass string   `mapstructure:"basic_auth_pass"`
	Headers       []string `mapstructure:"headers"`
	SkipVerify    bool     `mapstructure:"skip_verify"`
	Timeout       int64    `mapstructure:"timeout"`
	ResultPath    string   `mapstructure:"result_path"`
	ResultValue   string   `mapstructure:"result_value"`
}

// WebhookSender posts the full alert payload to a configured endpoint.
// Headers come as flat key,value pairs; an optional gjson path on the
// response body verifies the receiver actually accepted it.
type WebhookSender struct {
	conf   WebhookConfig
	tpl    *template.Template
	client *http.Client
}

type webhookPayload struct {
	Kind    string        `json:"kind"`
	Level   int           `json:"level"`
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Alert   *models.Alert `json:"alert"`
}

func NewWebhookSender(conf WebhookConfig, tpl *template.Template) *WebhookSender {
	if conf.Timeout <= 0 {
		conf.Timeout = 5
	}
	return &WebhookSender{
		conf: conf,
		tpl:  tpl,
		client: &http.Client{
			Timeout: time.Duration(conf.Timeout) * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: conf.SkipVerify},
			},
		},
	}
}

func (ws *WebhookSender) Send(ctx context.Context, m *Message) error {
	if ws.conf.Url == "" {
		return errx.NewNotification(models.Webhook, fmt.Errorf("url not configured"))
	}

	text := m.Text
	if ws.tpl != nil {
		text = BuildTplMessage(ws.tpl, m.Alert)
	}
	payload := webhookPayload{
		Kind:    m.Kind,
		Level:   m.Level,
		Title:   m.Title,
		Message: text,
		Alert:   m.Alert,
	}

	headers := make(map[string]string)
	if len(ws.conf.Headers) > 0 && len(ws.conf.Headers)%2 == 0 {
		for i := 0; i < len(ws.conf.Headers); i += 2 {
			headers[ws.conf.Headers[i]] = ws.conf.Headers[i+1]
		}
	}
	if ws.conf.BasicAuthUser != "" && ws.conf.BasicAuthPass != "" {
		token := base64.StdEncoding.EncodeToString([]byte(ws.conf.BasicAuthUser + ":" + ws.conf.BasicAuthPass))
		headers["Authorization"] = "Basic " + token
	}

	body, code, err := doPost(ctx, ws.client, ws.conf.Url, payload, headers)
	if err != nil {
		return errx.NewNotification(models.Webhook, err)
	}

	if code == http.StatusTooManyRequests {
		return errx.NewNotification(models.Webhook, fmt.Errorf("rate limited by %s", ws.conf.Url))
	}
	if code < 200 || code >= 300 {
		return errx.NewNotification(models.Webhook, fmt.Errorf("unexpected status %d from %s: %s", code, ws.conf.Url, string(body)))
	}

	if ws.conf.ResultPath != "" {
		got := gjson.GetBytes(body, ws.conf.ResultPath).String()
		if got != ws.conf.ResultValue {
			return errx.NewNotification(models.Webhook, fmt.Errorf("result check failed: %s=%q want %q", ws.conf.ResultPath, got, ws.conf.ResultValue))
		}
	}

	logger.Debugf("webhook_sender: result=succ url=%s alert=%s code=%d", ws.conf.Url, m.Alert.Id, code)
	return nil
}
