package mail

import (
	"context"
	"fmt"
	"log/slog"
)

// Config selects and configures the outbound provider.
type Config struct {
	Provider string     `yaml:"provider"` // smtp, ses, or empty (disabled)
	SMTP     SMTPConfig `yaml:"smtp"`
	SES      SESConfig  `yaml:"ses"`
}

// NewFromConfig builds the configured transport. A nil transport with
// a nil error means mail is not configured; the engine treats that as
// a fatal readiness failure per job, not a startup error.
func NewFromConfig(ctx context.Context, cfg *Config, logger *slog.Logger) (Transport, error) {
	switch cfg.Provider {
	case "smtp":
		if cfg.SMTP.Host == "" {
			return nil, fmt.Errorf("smtp provider selected but host is empty")
		}
		return NewSMTPTransport(&cfg.SMTP, logger), nil
	case "ses":
		if cfg.SES.Region == "" {
			return nil, fmt.Errorf("ses provider selected but region is empty")
		}
		return NewSESTransport(ctx, &cfg.SES, logger)
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown mail provider: %s", cfg.Provider)
	}
}
