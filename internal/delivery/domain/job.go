package domain

import "time"

// Job is one send attempt for a campaign, the unit of scheduling and
// locking. The lease fields (locked_at, locked_by) implement a
// time-bounded exclusive claim: a worker that dies mid-run leaves a
// lease that expires and becomes reclaimable.
type Job struct {
	JobID       string     `db:"job_id"`
	CampaignID  string     `db:"campaign_id"`
	SenderID    string     `db:"sender_id"`
	Status      string     `db:"status"`
	RunAt       time.Time  `db:"run_at"`
	LockedAt    *time.Time `db:"locked_at"`
	LockedBy    *string    `db:"locked_by"`
	Attempts    int        `db:"attempts"`
	MaxAttempts int        `db:"max_attempts"`
	StartedAt   *time.Time `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	LastError   *string    `db:"last_error"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// TickSummary reports what one scheduler invocation accomplished.
type TickSummary struct {
	Claimed        int           `json:"claimed"`
	ProcessedJobs  int           `json:"processed_jobs"`
	ProcessedItems int           `json:"processed_items"`
	Sent           int           `json:"sent"`
	Failed         int           `json:"failed"`
	Elapsed        time.Duration `json:"elapsed_ms"`
}
