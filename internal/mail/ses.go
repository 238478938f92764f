package mail

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESConfig holds Amazon SES settings.
type SESConfig struct {
	Region string `yaml:"region"`
	From   string `yaml:"from"`
}

// SESTransport sends mail through Amazon SES. Attachments and inline
// parts are not supported by the simple SendEmail API; campaigns that
// carry them should use the SMTP provider.
type SESTransport struct {
	client *ses.Client
	from   string
	logger *slog.Logger
}

// NewSESTransport creates an SES transport using the default AWS
// credential chain.
func NewSESTransport(ctx context.Context, cfg *SESConfig, logger *slog.Logger) (*SESTransport, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}
	return &SESTransport{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.From,
		logger: logger,
	}, nil
}

// Send delivers the message through SES.
func (t *SESTransport) Send(ctx context.Context, msg *Message) *Outcome {
	from := msg.From
	if from == "" {
		from = t.from
	}

	out, err := t.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.HTML)},
			},
		},
	})
	if err != nil {
		t.logger.Warn("SES send failed",
			slog.String("to", msg.To),
			slog.String("error", err.Error()),
		)
		return Failure("ses_error", err.Error())
	}

	return &Outcome{OK: true, MessageID: aws.ToString(out.MessageId)}
}
