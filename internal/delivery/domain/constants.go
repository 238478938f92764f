package domain

// Campaign lifecycle statuses
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusSending   = "sending"
	CampaignStatusSent      = "sent"
	CampaignStatusFailed    = "failed"
)

// Job statuses
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// Recipient statuses
const (
	RecipientStatusPending = "pending"
	RecipientStatusSent    = "sent"
	RecipientStatusFailed  = "failed"
)

// Work item statuses
const (
	ItemStatusPending    = "pending"
	ItemStatusProcessing = "processing"
	ItemStatusSent       = "sent"
	ItemStatusFailed     = "failed"
)

// Recipient sources
const (
	RecipientSourceCustomer = "customer"
	RecipientSourceManual   = "manual"
)
