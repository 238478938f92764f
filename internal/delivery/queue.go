package delivery

import (
	"context"
	"log/slog"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery/domain"
)

// ensureQueue expands the recipient snapshot into claimable work
// items, inserting exactly the ones that are missing. Items stranded
// in processing by a previous crashed invocation of this job are reset
// first; that is safe because the job lease guarantees no other worker
// is concurrently touching them.
func (e *Engine) ensureQueue(ctx context.Context, job *domain.Job, campaign *domain.Campaign) error {
	pending, err := e.store.CountPendingRecipients(ctx, campaign.ID)
	if err != nil {
		return err
	}
	if pending == 0 {
		return nil
	}

	if _, err := e.store.ResetStaleWorkItems(ctx, job.JobID); err != nil {
		return err
	}

	live, err := e.store.CountLiveWorkItems(ctx, job.JobID)
	if err != nil {
		return err
	}
	if live == pending {
		return nil
	}

	inserted, err := e.store.InsertMissingWorkItems(ctx, job.JobID, campaign.ID)
	if err != nil {
		return err
	}

	e.logger.Debug("Work queue reconciled",
		slog.String("job_id", job.JobID),
		slog.Int("pending_recipients", pending),
		slog.Int("live_items", live),
		slog.Int("inserted", inserted),
	)

	return nil
}
