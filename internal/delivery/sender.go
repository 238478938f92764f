package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/assets"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery/domain"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/mail"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/metrics"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/tracking"
)

// processItems runs the bounded send loop for one claimed job: fetch
// up to concurrency*2 pending items, process them in batches of
// concurrency, re-check the time budget between batches. Each item is
// an isolated attempt; a failure in one never aborts its siblings.
func (e *Engine) processItems(ctx context.Context, job *domain.Job, campaign *domain.Campaign, budget time.Duration) jobStats {
	var stats jobStats
	start := time.Now()

	var bundle *assets.Bundle
	if e.assets != nil {
		var err error
		bundle, err = e.assets.PrepareBundle(ctx, campaign.OrgID, campaign.ID)
		if err != nil {
			// The message body still works without resolved assets.
			e.logger.Warn("Failed to prepare asset bundle, sending without assets",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			bundle = nil
		}
	}

	for stats.items < e.cfg.BatchLimit {
		if budget > 0 && time.Since(start) >= budget {
			break
		}
		if err := ctx.Err(); err != nil {
			break
		}

		fetch := e.cfg.Concurrency * 2
		if remaining := e.cfg.BatchLimit - stats.items; fetch > remaining {
			fetch = remaining
		}

		items, err := e.store.FetchPendingItems(ctx, job.JobID, fetch)
		if err != nil {
			e.logger.Error("Failed to fetch pending items",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			break
		}
		if len(items) == 0 {
			break
		}

		for batchStart := 0; batchStart < len(items); batchStart += e.cfg.Concurrency {
			end := batchStart + e.cfg.Concurrency
			if end > len(items) {
				end = len(items)
			}
			batch := items[batchStart:end]

			results := make([]string, len(batch))
			var wg sync.WaitGroup
			for i := range batch {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i] = e.processItem(ctx, campaign, bundle, &batch[i])
				}(i)
			}
			wg.Wait()

			sentInBatch := 0
			for _, status := range results {
				switch status {
				case domain.ItemStatusSent:
					stats.items++
					stats.sent++
					sentInBatch++
				case domain.ItemStatusFailed:
					stats.items++
					stats.failed++
				}
			}

			// Progress cache only; the finalizer recomputes from rows.
			if sentInBatch > 0 {
				if err := e.store.IncrementCampaignSent(ctx, campaign.ID, sentInBatch); err != nil {
					e.logger.Warn("Failed to bump campaign sent counter",
						slog.String("campaign_id", campaign.ID),
						slog.String("error", err.Error()),
					)
				}
			}

			if e.cfg.YieldDelay > 0 {
				time.Sleep(e.cfg.YieldDelay)
			}
		}
	}

	return stats
}

// processItem handles one work item end to end. Returns the terminal
// item status, or "" when the item was skipped (claim lost).
func (e *Engine) processItem(ctx context.Context, campaign *domain.Campaign, bundle *assets.Bundle, item *domain.PendingItem) string {
	claimed, err := e.store.ClaimWorkItem(ctx, item.ItemID)
	if err != nil {
		e.logger.Error("Failed to claim work item",
			slog.String("item_id", item.ItemID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	if !claimed {
		// Lost the race to a relaunch; the winner owns the item.
		return ""
	}

	outcome := e.sendItem(ctx, campaign, bundle, item)

	status := domain.ItemStatusSent
	errMsg := ""
	if !outcome.OK {
		status = domain.ItemStatusFailed
		errMsg = outcome.ErrorMessage
		if outcome.ErrorCode != "" {
			errMsg = outcome.ErrorCode + ": " + outcome.ErrorMessage
		}
		metrics.RecordEmailFailed(outcome.ErrorCode)
	} else {
		metrics.RecordEmailSent()
	}

	if err := e.store.RecordItemOutcome(ctx, item.ItemID, item.RecipientID, status, errMsg); err != nil {
		e.logger.Error("Failed to record item outcome",
			slog.String("item_id", item.ItemID),
			slog.String("recipient_id", item.RecipientID),
			slog.String("error", err.Error()),
		)
		// The item stays processing and is reset by the next run of
		// this job; at-least-once, never stuck forever.
		return ""
	}

	return status
}

// sendItem personalizes, injects assets and tracking, and calls the
// transport. Any panic past the claim is converted into a failed
// outcome instead of leaving the item stuck in processing.
func (e *Engine) sendItem(ctx context.Context, campaign *domain.Campaign, bundle *assets.Bundle, item *domain.PendingItem) (outcome *mail.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic while processing item",
				slog.String("item_id", item.ItemID),
				slog.Any("panic", r),
			)
			outcome = mail.Failure("panic", fmt.Sprintf("%v", r))
		}
	}()

	rctx := item.Context()
	subject := rctx.Apply(campaign.Subject)
	body := rctx.Apply(campaign.BodyHTML)

	body = e.rewriter.InjectAssets(body, bundle)

	urls := tracking.URLs{}
	if e.signer != nil && e.signer.Enabled() {
		urls.OpenPixel = e.signer.OpenURL(campaign.ID, item.RecipientID)
		urls.Unsubscribe = e.signer.UnsubscribeURL(campaign.ID, item.RecipientID)
		urls.Click = func(dest string) string {
			return e.signer.ClickURL(campaign.ID, item.RecipientID, dest)
		}
	}
	body = e.rewriter.InjectTracking(body, urls)

	msg := &mail.Message{
		To:      item.Email,
		Subject: subject,
		HTML:    body,
	}
	if bundle != nil {
		msg.InlineParts = bundle.InlineAssets
		msg.Attachments = bundle.Attachments
	}

	return e.transport.Send(ctx, msg)
}
