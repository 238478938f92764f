package delivery

import (
	"context"
	"time"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/assets"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery/domain"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/events"
)

// Store is the persistence surface the engine drives. All
// cross-invocation coordination happens through these status-gated
// operations; there is no other shared state.
type Store interface {
	GetCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error)
	SetCampaignStatus(ctx context.Context, campaignID, status string) error
	SetCampaignSending(ctx context.Context, campaignID string, total int) error
	IncrementCampaignSent(ctx context.Context, campaignID string, n int) error
	FinalizeCampaign(ctx context.Context, campaignID, status string, total, sent int, sentAt time.Time) error

	CreateJob(ctx context.Context, job *domain.Job) error
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	FindActiveJob(ctx context.Context, campaignID string) (*domain.Job, error)
	ClaimNextDueJob(ctx context.Context, workerID string, leaseTimeout time.Duration) (*domain.Job, error)
	YieldJob(ctx context.Context, jobID, workerID string, delay time.Duration) error
	CompleteJob(ctx context.Context, jobID, workerID string) error
	FailJob(ctx context.Context, jobID, workerID, errMsg string) error

	InsertRecipients(ctx context.Context, campaignID string, targets []domain.Target) (int, error)
	CountRecipients(ctx context.Context, campaignID string) (int, error)
	CountPendingRecipients(ctx context.Context, campaignID string) (int, error)
	RecipientTotals(ctx context.Context, campaignID string) (total, sent, failed int, err error)

	ResetStaleWorkItems(ctx context.Context, jobID string) (int, error)
	CountLiveWorkItems(ctx context.Context, jobID string) (int, error)
	InsertMissingWorkItems(ctx context.Context, jobID, campaignID string) (int, error)
	FetchPendingItems(ctx context.Context, jobID string, limit int) ([]domain.PendingItem, error)
	ClaimWorkItem(ctx context.Context, itemID string) (bool, error)
	RecordItemOutcome(ctx context.Context, itemID, recipientID, status, errMsg string) error
	DeleteWorkItems(ctx context.Context, jobID string) error
}

// RecipientSource resolves a targeting rule into concrete addresses.
// Consumed read-only; the engine never mutates CRM data through it.
type RecipientSource interface {
	SelectRecipients(ctx context.Context, orgID, rule string) ([]domain.Target, error)
}

// AssetPreparer resolves a campaign's attachments and inline images
// once per job run.
type AssetPreparer interface {
	PrepareBundle(ctx context.Context, orgID, campaignID string) (*assets.Bundle, error)
}

// EventPublisher emits job lifecycle events for the CRM activity feed.
// Optional; a nil publisher disables events.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, event *events.JobEvent) error
}
