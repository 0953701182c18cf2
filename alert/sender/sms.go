package sender

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/errx"

	"github.com/tidwall/gjson"
	"github.com/toolkits/pkg/logger"
)

type SmsConfig struct {
	// gateway endpoint accepting {"mobiles": [...], "content": "..."}
	Url         string   `mapstructure:"url"`
	Mobiles     []string `mapstructure:"mobiles"`
	Timeout     int64    `mapstructure:"timeout"`
	ResultPath  string   `mapstructure:"result_path"`
	ResultValue string   `mapstructure:"result_value"`
}

type SmsSender struct {
	conf   SmsConfig
	tpl    *template.Template
	client *http.Client
}

type smsMessage struct {
	Mobiles []string `json:"mobiles"`
	Content string   `json:"content"`
}

func NewSmsSender(conf SmsConfig, tpl *template.Template) *SmsSender {
	if conf.Timeout <= 0 {
		conf.Timeout = 5
	}
	return &SmsSender{
		conf:   conf,
		tpl:    tpl,
		client: &http.Client{Timeout: time.Duration(conf.Timeout) * time.Second},
	}
}

func (ss *SmsSender) Send(ctx context.Context, m *Message) error {
	if ss.conf.Url == "" {
		return errx.NewNotification(models.Sms, fmt.Errorf("url not configured"))
	}
	if len(ss.conf.Mobiles) == 0 {
		return errx.NewNotification(models.Sms, fmt.Errorf("no mobiles configured"))
	}

	text := m.Text
	if ss.tpl != nil {
		text = BuildTplMessage(ss.tpl, m.Alert)
	}

	body, code, err := doPost(ctx, ss.client, ss.conf.Url, smsMessage{
		Mobiles: ss.conf.Mobiles,
		Content: fmt.Sprintf("%s %s", m.Title, text),
	}, nil)
	if err != nil {
		return errx.NewNotification(models.Sms, err)
	}
	if code < 200 || code >= 300 {
		return errx.NewNotification(models.Sms, fmt.Errorf("unexpected status %d: %s", code, string(body)))
	}
	if ss.conf.ResultPath != "" {
		got := gjson.GetBytes(body, ss.conf.ResultPath).String()
		if got != ss.conf.ResultValue {
			return errx.NewNotification(models.Sms, fmt.Errorf("gateway rejected: %s=%q want %q", ss.conf.ResultPath, got, ss.conf.ResultValue))
		}
	}

	logger.Debugf("sms_sender: result=succ alert=%s mobiles=%d", m.Alert.Id, len(ss.conf.Mobiles))
	return nil
}
