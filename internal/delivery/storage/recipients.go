package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery/domain"
	"github.com/google/uuid"
)

// InsertRecipients persists resolved targets as pending recipient rows.
// Identity is (campaign_id, email); ON CONFLICT DO NOTHING makes the
// call safe to repeat after a partial crash; existing rows are kept and
// only the missing ones are inserted. Returns the number inserted.
func (s *Storage) InsertRecipients(ctx context.Context, campaignID string, targets []domain.Target) (int, error) {
	if len(targets) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO campaign_recipients (
			recipient_id, campaign_id, customer_id, email, email_domain,
			source, status, attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NOW(), NOW())
		ON CONFLICT (campaign_id, email) DO NOTHING
	`

	inserted := 0
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range targets {
		res, err := tx.ExecContext(ctx, query,
			uuid.New().String(),
			campaignID,
			t.CustomerID,
			t.Email,
			domain.EmailDomain(t.Email),
			t.Source,
			domain.RecipientStatusPending,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert recipient %s: %w", t.Email, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit snapshot: %w", err)
	}

	s.logger.Info("Recipient snapshot written",
		slog.String("campaign_id", campaignID),
		slog.Int("resolved", len(targets)),
		slog.Int("inserted", inserted),
	)

	return inserted, nil
}

// CountRecipients returns the number of snapshotted recipients.
func (s *Storage) CountRecipients(ctx context.Context, campaignID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to count recipients: %w", err)
	}
	return count, nil
}

// CountPendingRecipients returns the number of recipients not yet in a
// terminal state.
func (s *Storage) CountPendingRecipients(ctx context.Context, campaignID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1 AND status = $2`,
		campaignID, domain.RecipientStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending recipients: %w", err)
	}
	return count, nil
}

// RecipientTotals computes the authoritative totals used at
// finalization, straight from the recipient rows.
func (s *Storage) RecipientTotals(ctx context.Context, campaignID string) (total, sent, failed int, err error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = $2) AS sent,
			COUNT(*) FILTER (WHERE status = $3) AS failed
		FROM campaign_recipients
		WHERE campaign_id = $1
	`

	var row struct {
		Total  int `db:"total"`
		Sent   int `db:"sent"`
		Failed int `db:"failed"`
	}
	if err = s.db.GetContext(ctx, &row, query, campaignID,
		domain.RecipientStatusSent, domain.RecipientStatusFailed); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to compute recipient totals: %w", err)
	}

	return row.Total, row.Sent, row.Failed, nil
}

// MarkRecipientOpened stamps the first open of a recipient. Later
// opens are ignored.
func (s *Storage) MarkRecipientOpened(ctx context.Context, campaignID, recipientID string) error {
	query := `
		UPDATE campaign_recipients
		SET opened_at = NOW(), updated_at = NOW()
		WHERE campaign_id = $1 AND recipient_id = $2 AND opened_at IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, campaignID, recipientID); err != nil {
		return fmt.Errorf("failed to mark recipient opened: %w", err)
	}
	return nil
}

// MarkRecipientClicked stamps the first click of a recipient.
func (s *Storage) MarkRecipientClicked(ctx context.Context, campaignID, recipientID string) error {
	query := `
		UPDATE campaign_recipients
		SET clicked_at = NOW(), updated_at = NOW()
		WHERE campaign_id = $1 AND recipient_id = $2 AND clicked_at IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, campaignID, recipientID); err != nil {
		return fmt.Errorf("failed to mark recipient clicked: %w", err)
	}
	return nil
}

// UnsubscribeRecipient flips the subscribed flag off for the customer
// behind a recipient. Manual (ad-hoc) recipients have no customer row
// to update; the call is then a no-op.
func (s *Storage) UnsubscribeRecipient(ctx context.Context, campaignID, recipientID string) error {
	query := `
		UPDATE customers
		SET subscribed = FALSE, updated_at = NOW()
		WHERE customer_id = (
			SELECT customer_id FROM campaign_recipients
			WHERE campaign_id = $1 AND recipient_id = $2 AND customer_id IS NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, query, campaignID, recipientID); err != nil {
		return fmt.Errorf("failed to unsubscribe recipient: %w", err)
	}

	s.logger.Info("Recipient unsubscribed",
		slog.String("campaign_id", campaignID),
		slog.String("recipient_id", recipientID),
	)

	return nil
}
