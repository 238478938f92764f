package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Steliosgeox/kktires-crm-sub002/shared/rabbitmq"
)

// Job lifecycle event types consumed by the CRM activity feed.
const (
	JobQueued    = "delivery.job.queued"
	JobCompleted = "delivery.job.completed"
	JobFailed    = "delivery.job.failed"
)

// JobEvent is the message published on job lifecycle transitions.
type JobEvent struct {
	Type       string    `json:"type"`
	JobID      string    `json:"job_id"`
	CampaignID string    `json:"campaign_id"`
	Total      int       `json:"total,omitempty"`
	Sent       int       `json:"sent,omitempty"`
	Failed     int       `json:"failed,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits job events to RabbitMQ. Events are informational:
// delivery correctness never depends on them, so publish failures are
// logged by the caller and otherwise ignored.
type Publisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewPublisher creates a publisher over an established client.
func NewPublisher(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// PublishJobEvent serializes and publishes one event with retry.
func (p *Publisher) PublishJobEvent(ctx context.Context, event *JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	if err := p.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}

	p.logger.Debug("Job event published",
		slog.String("type", event.Type),
		slog.String("job_id", event.JobID),
	)

	return nil
}
