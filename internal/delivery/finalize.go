package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery/domain"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/events"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/metrics"
)

// finalize closes out a processing pass. A job with pending recipients
// left is yielded for a future tick; a drained job is completed with
// totals recomputed from the recipient rows, which are authoritative
// over the running counter.
func (e *Engine) finalize(ctx context.Context, job *domain.Job, campaign *domain.Campaign) error {
	pending, err := e.store.CountPendingRecipients(ctx, campaign.ID)
	if err != nil {
		return err
	}

	if pending > 0 {
		e.logger.Info("Job has pending recipients, yielding",
			slog.String("job_id", job.JobID),
			slog.Int("pending", pending),
		)
		if err := e.store.YieldJob(ctx, job.JobID, leaseHolder(job), e.cfg.RequeueDelay); err != nil {
			if errors.Is(err, domain.ErrJobLeaseLost) {
				e.logger.Warn("Job lease lost while yielding, leaving job to its new owner",
					slog.String("job_id", job.JobID),
				)
				return nil
			}
			return err
		}
		return nil
	}

	total, sent, failed, err := e.store.RecipientTotals(ctx, campaign.ID)
	if err != nil {
		return err
	}

	// A campaign counts as sent when at least one recipient succeeded.
	status := domain.CampaignStatusSent
	if sent == 0 {
		status = domain.CampaignStatusFailed
	}

	// Complete the job before touching the campaign: if the lease was
	// lost, the reclaiming worker owns finalization and this pass must
	// not overwrite its results.
	if err := e.store.CompleteJob(ctx, job.JobID, leaseHolder(job)); err != nil {
		if errors.Is(err, domain.ErrJobLeaseLost) {
			e.logger.Warn("Job lease lost before completion, leaving job to its new owner",
				slog.String("job_id", job.JobID),
			)
			return nil
		}
		return err
	}
	now := time.Now()
	if err := e.store.FinalizeCampaign(ctx, campaign.ID, status, total, sent, now); err != nil {
		return err
	}
	if err := e.store.DeleteWorkItems(ctx, job.JobID); err != nil {
		return err
	}

	metrics.RecordJobProcessed(domain.JobStatusCompleted)
	if e.events != nil {
		e.publishCompleted(ctx, job, campaign, total, sent, failed)
	}

	e.logger.Info("Job completed",
		slog.String("job_id", job.JobID),
		slog.String("campaign_id", campaign.ID),
		slog.String("campaign_status", status),
		slog.Int("total", total),
		slog.Int("sent", sent),
		slog.Int("failed", failed),
	)

	return nil
}

func (e *Engine) publishCompleted(ctx context.Context, job *domain.Job, campaign *domain.Campaign, total, sent, failed int) {
	ev := &events.JobEvent{
		Type:       events.JobCompleted,
		JobID:      job.JobID,
		CampaignID: campaign.ID,
		Total:      total,
		Sent:       sent,
		Failed:     failed,
		OccurredAt: time.Now().UTC(),
	}
	if err := e.events.PublishJobEvent(ctx, ev); err != nil {
		e.logger.Warn("Failed to publish completion event",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
	}
}
