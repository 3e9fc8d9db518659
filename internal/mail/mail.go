package mail

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/watchlistpro/cardstore/internal/config"
	"gopkg.in/gomail.v2"
)

// Message is a single outbound HTML email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// Sender delivers email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New returns an SMTP sender, or a log-only sender when no SMTP host is configured.
func New(cfg config.SMTPConfig) Sender {
	if strings.TrimSpace(cfg.Host) == "" {
		return LogSender{}
	}
	return NewSMTPSender(cfg)
}

// SMTPSender sends mail through gomail.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPSender builds an SMTP sender from config.
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   from,
	}
}

// Send delivers msg. gomail does not take a context, so ctx is only checked up front.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("mail: empty recipient")
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTMLBody)
	return s.dialer.DialAndSend(m)
}

// LogSender logs messages instead of sending them.
type LogSender struct{}

// Send logs the recipient and subject.
func (LogSender) Send(_ context.Context, msg Message) error {
	log.WithFields(log.Fields{"to": msg.To, "subject": msg.Subject}).Info("mail: smtp not configured, message not sent")
	return nil
}
