package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"onebreath/internal/config"
)

// Mailer sends notifications over SMTP with STARTTLS.
type Mailer struct {
	from       string
	recipients []string
	send       func(ctx context.Context, msg *mail.Msg) error
}

// NewMailer builds an SMTP notifier from cfg.
func NewMailer(cfg config.MailConfig) (*Mailer, error) {
	if !cfg.Enabled() {
		return nil, errors.New("mail: host and recipients required")
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
		mail.WithTimeout(20 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mail: new client: %w", err)
	}
	return &Mailer{
		from:       cfg.From,
		recipients: append([]string(nil), cfg.Recipients...),
		send: func(ctx context.Context, msg *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		},
	}, nil
}

// Notify sends one plain-text email addressed to every recipient.
func (m *Mailer) Notify(ctx context.Context, msg Message) error {
	out, err := m.build(msg)
	if err != nil {
		return err
	}
	if err := m.send(ctx, out); err != nil {
		return fmt.Errorf("mail: send: %w", err)
	}
	return nil
}

func (m *Mailer) build(msg Message) (*mail.Msg, error) {
	out := mail.NewMsg()
	if err := out.From(m.from); err != nil {
		return nil, fmt.Errorf("mail: from %q: %w", m.from, err)
	}
	if err := out.To(m.recipients...); err != nil {
		return nil, fmt.Errorf("mail: recipients: %w", err)
	}
	out.Subject(msg.Subject)
	out.SetBodyString(mail.TypeTextPlain, msg.Body)
	return out, nil
}
