package dto

import "time"

// EnqueueRequest asks for a campaign send. RunAt is optional; empty
// means due now.
type EnqueueRequest struct {
	SenderID string     `json:"sender_id" binding:"required"`
	RunAt    *time.Time `json:"run_at"`
}

// EnqueueResponse returns the (possibly pre-existing) job.
type EnqueueResponse struct {
	JobID string    `json:"job_id"`
	RunAt time.Time `json:"run_at"`
}

// JobResponse describes one delivery job.
type JobResponse struct {
	JobID       string     `json:"job_id"`
	CampaignID  string     `json:"campaign_id"`
	SenderID    string     `json:"sender_id"`
	Status      string     `json:"status"`
	RunAt       time.Time  `json:"run_at"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
}

// DeliveryStatusResponse is the campaign-level aggregate surfaced to
// the CRM UI. Status and counts are the single source of truth for
// completion reporting.
type DeliveryStatusResponse struct {
	CampaignID string     `json:"campaign_id"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Sent       int        `json:"sent"`
	Failed     int        `json:"failed"`
	Pending    int        `json:"pending"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}
