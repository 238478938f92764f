package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery/domain"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/tracking"
)

// Enqueuer is the slice of the engine the API needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, campaignID, senderID string, runAt time.Time) (*delivery.EnqueueResult, error)
}

// DeliveryReader provides the read side for status endpoints.
type DeliveryReader interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	GetCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error)
	RecipientTotals(ctx context.Context, campaignID string) (total, sent, failed int, err error)
}

// TrackingStore persists verified tracking events.
type TrackingStore interface {
	MarkRecipientOpened(ctx context.Context, campaignID, recipientID string) error
	MarkRecipientClicked(ctx context.Context, campaignID, recipientID string) error
	UnsubscribeRecipient(ctx context.Context, campaignID, recipientID string) error
}

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Logger  *slog.Logger
	Engine  Enqueuer
	Reader  DeliveryReader
	Signer  *tracking.Signer
	Tracker TrackingStore
}
