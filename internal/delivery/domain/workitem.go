package domain

import "time"

// WorkItem is one (job, recipient) send task, the unit a sender
// goroutine claims and processes. Items are disposable and deleted when
// their job completes.
type WorkItem struct {
	ItemID      string    `db:"item_id"`
	JobID       string    `db:"job_id"`
	RecipientID string    `db:"recipient_id"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// PendingItem is a pending work item joined to its still-pending
// recipient and the recipient's contact record, as fetched by the
// sender in batches.
type PendingItem struct {
	ItemID      string  `db:"item_id"`
	RecipientID string  `db:"recipient_id"`
	Email       string  `db:"email"`
	Source      string  `db:"source"`
	CustomerID  *string `db:"customer_id"`
	FirstName   *string `db:"first_name"`
	LastName    *string `db:"last_name"`
	Company     *string `db:"company"`
	City        *string `db:"city"`
	Phone       *string `db:"phone"`
}

// Context returns the merge-field context for personalizing the
// message to this recipient.
func (p *PendingItem) Context() RecipientContext {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	return RecipientContext{
		FirstName: deref(p.FirstName),
		LastName:  deref(p.LastName),
		Company:   deref(p.Company),
		City:      deref(p.City),
		Phone:     deref(p.Phone),
		Email:     p.Email,
	}
}
