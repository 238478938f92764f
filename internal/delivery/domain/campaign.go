package domain

import "time"

// Campaign is the email campaign as persisted by the CRM. Once a send
// starts, only the delivery engine mutates status and counters.
type Campaign struct {
	ID              string     `db:"campaign_id"`
	OrgID           string     `db:"org_id"`
	Name            string     `db:"name"`
	Subject         string     `db:"subject"`
	BodyHTML        string     `db:"body_html"`
	TargetingRule   string     `db:"targeting_rule"` // JSON string
	Status          string     `db:"status"`
	TotalRecipients int        `db:"total_recipients"`
	SentCount       int        `db:"sent_count"`
	SentAt          *time.Time `db:"sent_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}
