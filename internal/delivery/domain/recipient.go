package domain

import (
	"strings"
	"time"
)

// Recipient is one frozen target address of a campaign send. The row set
// is the authoritative snapshot of the targeting rule at send time;
// status is the only field mutated while sending.
type Recipient struct {
	RecipientID string     `db:"recipient_id"`
	CampaignID  string     `db:"campaign_id"`
	CustomerID  *string    `db:"customer_id"`
	Email       string     `db:"email"`
	EmailDomain string     `db:"email_domain"`
	Source      string     `db:"source"`
	Status      string     `db:"status"`
	ErrorDetail *string    `db:"error_detail"`
	Attempts    int        `db:"attempts"`
	OpenedAt    *time.Time `db:"opened_at"`
	ClickedAt   *time.Time `db:"clicked_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// Target is a resolved address produced by the recipient-selection
// interface before it is persisted as a Recipient row.
type Target struct {
	CustomerID *string
	Email      string
	Source     string
}

// EmailDomain extracts the domain part of an address for bounce triage.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
