package sender

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/errx"

	"github.com/tidwall/gjson"
	"github.com/toolkits/pkg/logger"
)

type TelegramConfig struct {
	// each token is either "botToken/chatId" or a full sendMessage url
	Tokens  []string `mapstructure:"tokens"`
	Timeout int64    `mapstructure:"timeout"`
}

type TelegramSender struct {
	conf   TelegramConfig
	tpl    *template.Template
	client *http.Client
}

type telegramMessage struct {
	ParseMode string `json:"parse_mode"`
	Text      string `json:"text"`
}

func NewTelegramSender(conf TelegramConfig, tpl *template.Template) *TelegramSender {
	if conf.Timeout <= 0 {
		conf.Timeout = 5
	}
	return &TelegramSender{
		conf:   conf,
		tpl:    tpl,
		client: &http.Client{Timeout: time.Duration(conf.Timeout) * time.Second},
	}
}

func (ts *TelegramSender) Send(ctx context.Context, m *Message) error {
	if len(ts.conf.Tokens) == 0 {
		return errx.NewNotification(models.Telegram, fmt.Errorf("no tokens configured"))
	}

	text := m.Text
	if ts.tpl != nil {
		text = BuildTplMessage(ts.tpl, m.Alert)
	}

	var lastErr error
	sent := 0
	for _, token := range ts.conf.Tokens {
		url, err := telegramUrl(token)
		if err != nil {
			logger.Errorf("telegram_sender: result=fail invalid token=%s", token)
			lastErr = err
			continue
		}

		body, code, err := doPost(ctx, ts.client, url, telegramMessage{
			ParseMode: "markdown",
			Text:      fmt.Sprintf("*%s*\n%s", m.Title, text),
		}, nil)
		if err != nil {
			lastErr = err
			continue
		}
		if code != http.StatusOK || !gjson.GetBytes(body, "ok").Bool() {
			lastErr = fmt.Errorf("unexpected response %d: %s", code, string(body))
			continue
		}
		sent++
	}

	if sent == 0 && lastErr != nil {
		return errx.NewNotification(models.Telegram, lastErr)
	}
	return nil
}

func telegramUrl(token string) (string, error) {
	if strings.HasPrefix(token, "https://") || strings.HasPrefix(token, "http://") {
		return token, nil
	}
	array := strings.Split(token, "/")
	if len(array) != 2 {
		return "", fmt.Errorf("invalid telegram token %q, want botToken/chatId", token)
	}
	return "https://api.telegram.org/bot" + array[0] + "/sendMessage?chat_id=" + array[1], nil
}
