package mail

import (
	"context"
	"io"
	"log/slog"

	"gopkg.in/gomail.v2"
)

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// SMTPTransport sends mail through an SMTP relay using gomail. Each
// Send dials its own connection, so the transport is stateless and
// safe to share between sender goroutines.
type SMTPTransport struct {
	dialer *gomail.Dialer
	from   string
	logger *slog.Logger
}

// NewSMTPTransport creates an SMTP transport.
func NewSMTPTransport(cfg *SMTPConfig, logger *slog.Logger) *SMTPTransport {
	return &SMTPTransport{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
		logger: logger,
	}
}

// Send builds and delivers the message. Context cancellation is
// checked before dialing; gomail itself does not take a context.
func (t *SMTPTransport) Send(ctx context.Context, msg *Message) *Outcome {
	if err := ctx.Err(); err != nil {
		return Failure("context_canceled", err.Error())
	}

	m := gomail.NewMessage()

	from := msg.From
	if from == "" {
		from = t.from
	}
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}
	m.SetBody("text/html", msg.HTML)

	for _, part := range msg.InlineParts {
		if !part.Inline || len(part.Data) == 0 {
			continue
		}
		data := part.Data
		m.Embed(part.CID(), gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	for _, att := range msg.Attachments {
		data := att.Data
		m.Attach(att.Filename, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	if err := t.dialer.DialAndSend(m); err != nil {
		t.logger.Warn("SMTP send failed",
			slog.String("to", msg.To),
			slog.String("error", err.Error()),
		)
		return Failure("smtp_error", err.Error())
	}

	return &Outcome{OK: true}
}
