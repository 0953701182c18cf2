package sender

import (
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"sync"
	"time"

	"github.com/klaxonhq/klaxon/alert/aconf"
	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/errx"

	"github.com/toolkits/pkg/logger"

	"gopkg.in/gomail.v2"
)

// EmailSender keeps one SMTP connection open across sends and closes it
// after a batch or on idle, so a burst of notifications does not redial per
// message. Errors surface to the caller for retry.
type EmailSender struct {
	subjectTpl *template.Template
	contentTpl *template.Template
	conf       aconf.SMTPConfig
	dialer     *gomail.Dialer

	mu   sync.Mutex
	cli  gomail.SendCloser
	open bool
	sent int
	last time.Time

	quit chan struct{}
	once sync.Once
}

func NewEmailSender(subjectTpl, contentTpl *template.Template, conf aconf.SMTPConfig) *EmailSender {
	d := gomail.NewDialer(conf.Host, conf.Port, conf.User, conf.Pass)
	if conf.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	es := &EmailSender{
		subjectTpl: subjectTpl,
		contentTpl: contentTpl,
		conf:       conf,
		dialer:     d,
		quit:       make(chan struct{}),
	}
	go es.idleLoop()
	return es
}

func (es *EmailSender) Send(ctx context.Context, m *Message) error {
	if es.conf.Host == "" || es.conf.Port == 0 {
		return errx.NewNotification(models.Email, fmt.Errorf("smtp not configured"))
	}
	if len(es.conf.To) == 0 {
		return errx.NewNotification(models.Email, fmt.Errorf("no recipients configured"))
	}
	if err := ctx.Err(); err != nil {
		return errx.NewNotification(models.Email, err)
	}

	subject := m.Title
	if es.subjectTpl != nil {
		subject = BuildTplMessage(es.subjectTpl, m.Alert)
	}
	content := m.Text
	if es.contentTpl != nil {
		content = BuildTplMessage(es.contentTpl, m.Alert)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", es.conf.From)
	msg.SetHeader("To", es.conf.To...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", content)

	if err := es.deliver(msg); err != nil {
		return errx.NewNotification(models.Email, err)
	}

	logger.Infof("email_sender: result=succ subject=%q to=%v", subject, es.conf.To)
	return nil
}

func (es *EmailSender) deliver(msg *gomail.Message) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.open {
		if err := es.dialLocked(); err != nil {
			return err
		}
	}

	if err := gomail.Send(es.cli, msg); err != nil {
		// stale connection: redial once before giving up
		es.closeLocked()
		if err := es.dialLocked(); err != nil {
			return err
		}
		if err := gomail.Send(es.cli, msg); err != nil {
			es.closeLocked()
			return err
		}
	}

	es.sent++
	es.last = time.Now()
	batch := es.conf.Batch
	if batch <= 0 {
		batch = 10
	}
	if es.sent >= batch {
		es.closeLocked()
	}
	return nil
}

func (es *EmailSender) dialLocked() error {
	cli, err := es.dialer.Dial()
	if err != nil {
		return fmt.Errorf("failed to dial smtp %s:%d: %w", es.conf.Host, es.conf.Port, err)
	}
	es.cli = cli
	es.open = true
	es.sent = 0
	return nil
}

func (es *EmailSender) closeLocked() {
	if es.open {
		if err := es.cli.Close(); err != nil {
			logger.Warningf("email_sender: failed to close smtp connection: %s", err)
		}
		es.open = false
		es.sent = 0
	}
}

// Close the connection to the SMTP server if no email was sent in the last
// 30 seconds.
func (es *EmailSender) idleLoop() {
	for {
		select {
		case <-es.quit:
			return
		case <-time.After(30 * time.Second):
			es.mu.Lock()
			if es.open && time.Since(es.last) >= 30*time.Second {
				es.closeLocked()
			}
			es.mu.Unlock()
		}
	}
}

func (es *EmailSender) Close() error {
	es.once.Do(func() { close(es.quit) })
	es.mu.Lock()
	es.closeLocked()
	es.mu.Unlock()
	return nil
}
