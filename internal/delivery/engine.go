package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery/domain"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/events"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/mail"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/metrics"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/tracking"
	"github.com/google/uuid"
)

const maxConcurrency = 10

// Config holds the delivery tunables.
type Config struct {
	LeaseTimeout time.Duration // job lease validity window
	BatchLimit   int           // per-run item cap per job
	Concurrency  int           // parallel sends within one batch
	YieldDelay   time.Duration // pause between batches
	RequeueDelay time.Duration // run_at delay when a job is yielded
	TimeBudget   time.Duration // per-tick processing budget
	MaxJobs      int           // jobs claimed per tick
}

// Engine turns a "send this campaign" request into per-recipient
// deliveries across many short-lived, stateless invocations. No
// in-memory state survives between ticks; everything it needs lives
// in the store.
type Engine struct {
	store     Store
	source    RecipientSource
	transport mail.Transport
	assets    AssetPreparer
	signer    *tracking.Signer
	rewriter  tracking.Rewriter
	events    EventPublisher
	logger    *slog.Logger
	cfg       Config
}

// NewEngine creates a delivery engine. transport, assets, and events
// may be nil: a nil transport fails jobs at claim time, a nil asset
// preparer skips asset injection, a nil publisher disables events.
func NewEngine(store Store, source RecipientSource, transport mail.Transport, preparer AssetPreparer,
	signer *tracking.Signer, publisher EventPublisher, logger *slog.Logger, cfg Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Concurrency > maxConcurrency {
		cfg.Concurrency = maxConcurrency
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 15 * time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 200
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = 5 * time.Second
	}
	return &Engine{
		store:     store,
		source:    source,
		transport: transport,
		assets:    preparer,
		signer:    signer,
		events:    publisher,
		logger:    logger,
		cfg:       cfg,
	}
}

// EnqueueResult is returned by Enqueue.
type EnqueueResult struct {
	JobID string    `json:"job_id"`
	RunAt time.Time `json:"run_at"`
}

// Enqueue creates (or returns) the send job for a campaign. Idempotent
// per campaign: an already queued or processing job wins over creating
// a duplicate, so calling twice in quick succession yields the same id.
func (e *Engine) Enqueue(ctx context.Context, campaignID, senderID string, runAt time.Time) (*EnqueueResult, error) {
	campaign, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status == domain.CampaignStatusSent {
		return nil, domain.ErrCampaignAlreadySent
	}

	if existing, err := e.store.FindActiveJob(ctx, campaignID); err != nil {
		return nil, err
	} else if existing != nil {
		e.logger.Info("Campaign already queued, returning existing job",
			slog.String("campaign_id", campaignID),
			slog.String("job_id", existing.JobID),
		)
		return &EnqueueResult{JobID: existing.JobID, RunAt: existing.RunAt}, nil
	}

	now := time.Now()
	if runAt.IsZero() {
		runAt = now
	}

	job := &domain.Job{
		JobID:       uuid.New().String(),
		CampaignID:  campaignID,
		SenderID:    senderID,
		Status:      domain.JobStatusQueued,
		RunAt:       runAt,
		MaxAttempts: 3,
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	status := domain.CampaignStatusSending
	if runAt.After(now) {
		status = domain.CampaignStatusScheduled
	}
	if err := e.store.SetCampaignStatus(ctx, campaignID, status); err != nil {
		return nil, err
	}

	e.publishEvent(ctx, events.JobQueued, job.JobID, campaignID, nil)

	e.logger.Info("Campaign send enqueued",
		slog.String("campaign_id", campaignID),
		slog.String("job_id", job.JobID),
		slog.Time("run_at", runAt),
	)

	return &EnqueueResult{JobID: job.JobID, RunAt: runAt}, nil
}

// ProcessDueJobs is one scheduler tick: claim due jobs one at a time
// and advance each until the tick's own time and job budgets run out.
// The caller supplies no state beyond the worker id; a job left
// unfinished is yielded and resumed by a future tick.
func (e *Engine) ProcessDueJobs(ctx context.Context, workerID string, timeBudget time.Duration, maxJobs int) (*domain.TickSummary, error) {
	if timeBudget <= 0 {
		timeBudget = e.cfg.TimeBudget
	}
	if maxJobs <= 0 {
		maxJobs = e.cfg.MaxJobs
	}
	if maxJobs <= 0 {
		maxJobs = 1
	}

	start := time.Now()
	summary := &domain.TickSummary{}
	defer func() {
		summary.Elapsed = time.Since(start)
		metrics.ObserveTick(summary.Elapsed, summary.ProcessedItems)
	}()

	for summary.Claimed < maxJobs {
		if timeBudget > 0 && time.Since(start) >= timeBudget {
			break
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		job, err := e.store.ClaimNextDueJob(ctx, workerID, e.cfg.LeaseTimeout)
		if err != nil {
			return summary, fmt.Errorf("failed to claim job: %w", err)
		}
		if job == nil {
			break
		}
		summary.Claimed++

		remaining := timeBudget - time.Since(start)
		stats := e.processJob(ctx, job, remaining)
		summary.ProcessedJobs++
		summary.ProcessedItems += stats.items
		summary.Sent += stats.sent
		summary.Failed += stats.failed
	}

	e.logger.Info("Scheduler tick finished",
		slog.String("worker_id", workerID),
		slog.Int("claimed", summary.Claimed),
		slog.Int("processed_items", summary.ProcessedItems),
		slog.Int("sent", summary.Sent),
		slog.Int("failed", summary.Failed),
		slog.Duration("elapsed", time.Since(start)),
	)

	return summary, nil
}

type jobStats struct {
	items  int
	sent   int
	failed int
}

// leaseHolder reports the worker id a claimed job is leased to.
func leaseHolder(job *domain.Job) string {
	if job.LockedBy == nil {
		return ""
	}
	return *job.LockedBy
}

// processJob advances one claimed job: verify or repair the recipient
// snapshot and the work-item queue, send a bounded batch of items,
// then finalize or yield.
func (e *Engine) processJob(ctx context.Context, job *domain.Job, budget time.Duration) jobStats {
	var stats jobStats

	logger := e.logger.With(
		slog.String("job_id", job.JobID),
		slog.String("campaign_id", job.CampaignID),
	)

	campaign, err := e.store.GetCampaign(ctx, job.CampaignID)
	if err != nil {
		logger.Error("Failed to load campaign for job", slog.String("error", err.Error()))
		e.failJob(ctx, job, campaign, err)
		return stats
	}

	// Configuration/readiness failure is fatal for the job, not retried.
	if e.transport == nil {
		logger.Error("Mail transport not configured, failing job")
		e.failJob(ctx, job, campaign, domain.ErrTransportNotConfigured)
		return stats
	}

	if err := e.ensureSnapshot(ctx, job, campaign); err != nil {
		logger.Error("Snapshot failed", slog.String("error", err.Error()))
		e.failJob(ctx, job, campaign, err)
		return stats
	}

	if err := e.ensureQueue(ctx, job, campaign); err != nil {
		logger.Error("Queue build failed", slog.String("error", err.Error()))
		e.failJob(ctx, job, campaign, err)
		return stats
	}

	stats = e.processItems(ctx, job, campaign, budget)

	if err := e.finalize(ctx, job, campaign); err != nil {
		logger.Error("Finalization failed", slog.String("error", err.Error()))
	}

	return stats
}

// failJob resolves a job-wide condition: the job and its campaign both
// turn failed. Item-level failures never reach this path.
func (e *Engine) failJob(ctx context.Context, job *domain.Job, campaign *domain.Campaign, cause error) {
	if err := e.store.FailJob(ctx, job.JobID, leaseHolder(job), cause.Error()); err != nil {
		if errors.Is(err, domain.ErrJobLeaseLost) {
			e.logger.Warn("Job lease lost, leaving job to its new owner",
				slog.String("job_id", job.JobID),
			)
			return
		}
		e.logger.Error("Failed to mark job failed",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
	}
	if campaign != nil {
		if err := e.store.SetCampaignStatus(ctx, campaign.ID, domain.CampaignStatusFailed); err != nil {
			e.logger.Error("Failed to mark campaign failed",
				slog.String("campaign_id", campaign.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	metrics.RecordJobProcessed(domain.JobStatusFailed)
	e.publishEvent(ctx, events.JobFailed, job.JobID, job.CampaignID, cause)
}

func (e *Engine) publishEvent(ctx context.Context, eventType, jobID, campaignID string, cause error) {
	if e.events == nil {
		return
	}
	ev := &events.JobEvent{
		Type:       eventType,
		JobID:      jobID,
		CampaignID: campaignID,
		OccurredAt: time.Now().UTC(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	if err := e.events.PublishJobEvent(ctx, ev); err != nil {
		// Events are best effort; delivery state lives in the database.
		e.logger.Warn("Failed to publish job event",
			slog.String("job_id", jobID),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}

// IsFatalEnqueueError reports whether an enqueue failure is a caller
// error rather than a transient one.
func IsFatalEnqueueError(err error) bool {
	return errors.Is(err, domain.ErrCampaignNotFound) || errors.Is(err, domain.ErrCampaignAlreadySent)
}
