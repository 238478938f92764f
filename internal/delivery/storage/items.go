package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery/domain"
)

// ResetStaleWorkItems flips items stranded in processing by a prior
// crashed invocation of this job back to pending. Safe because the
// job-level lease guarantees no other worker is touching these items.
func (s *Storage) ResetStaleWorkItems(ctx context.Context, jobID string) (int, error) {
	query := `
		UPDATE campaign_queue_items
		SET status = $2, updated_at = NOW()
		WHERE job_id = $1 AND status = $3
	`

	res, err := s.db.ExecContext(ctx, query, jobID, domain.ItemStatusPending, domain.ItemStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale work items: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warn("Reset stale work items from interrupted run",
			slog.String("job_id", jobID),
			slog.Int64("count", n),
		)
	}

	return int(n), nil
}

// CountLiveWorkItems counts pending/processing items whose recipient
// is still pending. When this matches the pending-recipient count the
// queue is complete.
func (s *Storage) CountLiveWorkItems(ctx context.Context, jobID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM campaign_queue_items i
		JOIN campaign_recipients r ON r.recipient_id = i.recipient_id
		WHERE i.job_id = $1
		  AND i.status IN ($2, $3)
		  AND r.status = $4
	`

	var count int
	err := s.db.GetContext(ctx, &count, query, jobID,
		domain.ItemStatusPending, domain.ItemStatusProcessing, domain.RecipientStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to count live work items: %w", err)
	}
	return count, nil
}

// InsertMissingWorkItems inserts exactly one pending item for every
// pending recipient that has no live item yet (set difference in SQL).
// Recipients already processed by a previous run are skipped.
func (s *Storage) InsertMissingWorkItems(ctx context.Context, jobID, campaignID string) (int, error) {
	query := `
		INSERT INTO campaign_queue_items (item_id, job_id, recipient_id, status, created_at, updated_at)
		SELECT gen_random_uuid(), $1, r.recipient_id, $3, NOW(), NOW()
		FROM campaign_recipients r
		WHERE r.campaign_id = $2
		  AND r.status = $4
		  AND NOT EXISTS (
			SELECT 1 FROM campaign_queue_items i
			WHERE i.job_id = $1
			  AND i.recipient_id = r.recipient_id
			  AND i.status IN ($3, $5)
		  )
		ON CONFLICT (job_id, recipient_id) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query, jobID, campaignID,
		domain.ItemStatusPending, domain.RecipientStatusPending, domain.ItemStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to insert work items: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("Work items queued",
			slog.String("job_id", jobID),
			slog.Int64("count", n),
		)
	}

	return int(n), nil
}

// FetchPendingItems returns up to limit pending items, oldest first,
// joined to their still-pending recipient and its contact record.
func (s *Storage) FetchPendingItems(ctx context.Context, jobID string, limit int) ([]domain.PendingItem, error) {
	query := `
		SELECT
			i.item_id,
			r.recipient_id,
			r.email,
			r.source,
			r.customer_id,
			c.first_name,
			c.last_name,
			c.company,
			c.city,
			c.phone
		FROM campaign_queue_items i
		JOIN campaign_recipients r ON r.recipient_id = i.recipient_id
		LEFT JOIN customers c ON c.customer_id = r.customer_id
		WHERE i.job_id = $1
		  AND i.status = $2
		  AND r.status = $3
		ORDER BY i.created_at
		LIMIT $4
	`

	var items []domain.PendingItem
	err := s.db.SelectContext(ctx, &items, query, jobID,
		domain.ItemStatusPending, domain.RecipientStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending items: %w", err)
	}

	return items, nil
}

// ClaimWorkItem conditionally flips an item pending → processing.
// Returns false when the item was no longer pending (lost race), which
// the sender treats as skip, not error.
func (s *Storage) ClaimWorkItem(ctx context.Context, itemID string) (bool, error) {
	query := `
		UPDATE campaign_queue_items
		SET status = $2, updated_at = NOW()
		WHERE item_id = $1 AND status = $3
	`

	res, err := s.db.ExecContext(ctx, query, itemID, domain.ItemStatusProcessing, domain.ItemStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim work item: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}

	return n > 0, nil
}

// RecordItemOutcome writes the terminal status to both the work item
// and its recipient so the two never diverge past a run boundary.
func (s *Storage) RecordItemOutcome(ctx context.Context, itemID, recipientID, status, errMsg string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin outcome transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE campaign_queue_items SET status = $2, updated_at = NOW() WHERE item_id = $1`,
		itemID, status); err != nil {
		return fmt.Errorf("failed to update work item outcome: %w", err)
	}

	var detail interface{}
	if errMsg != "" {
		detail = domain.TruncateError(errMsg, errDetailLimit)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET status = $2,
		    error_detail = $3,
		    attempts = attempts + 1,
		    updated_at = NOW()
		WHERE recipient_id = $1`,
		recipientID, status, detail); err != nil {
		return fmt.Errorf("failed to update recipient outcome: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit outcome: %w", err)
	}

	return nil
}

// DeleteWorkItems removes a completed job's disposable items.
func (s *Storage) DeleteWorkItems(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM campaign_queue_items WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete work items: %w", err)
	}
	return nil
}
