package notifier

import (
	"context"

	"github.com/pkg/errors"
	"gopkg.in/gomail.v2"
)

// Dialer is satisfied by *gomail.Dialer.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPNotifier delivers plain-text mail through an SMTP relay.
type SMTPNotifier struct {
	dialer Dialer
	from   string
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// NewSMTPNotifier dials with implicit TLS, the way port 465 relays expect.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.SSL = true
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return NewSMTPNotifierWithDialer(d, from)
}

func NewSMTPNotifierWithDialer(d Dialer, from string) *SMTPNotifier {
	return &SMTPNotifier{dialer: d, from: from}
}

func (n *SMTPNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	if recipient == "" {
		return errors.New("empty recipient")
	}
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	// gomail has no context support; an abandoned send finishes in the background
	done := make(chan error, 1)
	go func() {
		done <- n.dialer.DialAndSend(m)
	}()
	select {
	case err := <-done:
		if err != nil {
			return errors.Wrapf(err, "send mail to %s", recipient)
		}
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "send mail to %s", recipient)
	}
}
