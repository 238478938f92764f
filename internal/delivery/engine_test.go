package delivery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/assets"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery/domain"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/events"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/mail"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/tracking"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store with the same status-gated update
// semantics as the SQL layer, so engine behavior can be exercised
// without a database.
type fakeStore struct {
	mu         sync.Mutex
	campaigns  map[string]*domain.Campaign
	jobs       []*domain.Job
	recipients []*domain.Recipient
	items      []*domain.WorkItem
}

func newFakeStore() *fakeStore {
	return &fakeStore{campaigns: map[string]*domain.Campaign{}}
}

func (f *fakeStore) addCampaign(c *domain.Campaign) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns[c.ID] = c
}

func (f *fakeStore) GetCampaign(_ context.Context, campaignID string) (*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[campaignID]
	if !ok {
		return nil, domain.ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) SetCampaignStatus(_ context.Context, campaignID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.campaigns[campaignID]; ok {
		c.Status = status
	}
	return nil
}

func (f *fakeStore) SetCampaignSending(_ context.Context, campaignID string, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.campaigns[campaignID]; ok {
		c.Status = domain.CampaignStatusSending
		c.TotalRecipients = total
	}
	return nil
}

func (f *fakeStore) IncrementCampaignSent(_ context.Context, campaignID string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.campaigns[campaignID]; ok {
		c.SentCount += n
	}
	return nil
}

func (f *fakeStore) FinalizeCampaign(_ context.Context, campaignID, status string, total, sent int, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.campaigns[campaignID]; ok {
		c.Status = status
		c.TotalRecipients = total
		c.SentCount = sent
		c.SentAt = &sentAt
	}
	return nil
}

func (f *fakeStore) CreateJob(_ context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	cp.CreatedAt = time.Now()
	f.jobs = append(f.jobs, &cp)
	return nil
}

func (f *fakeStore) GetJobByID(_ context.Context, jobID string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.JobID == jobID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (f *fakeStore) FindActiveJob(_ context.Context, campaignID string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.CampaignID == campaignID &&
			(j.Status == domain.JobStatusQueued || j.Status == domain.JobStatusProcessing) {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ClaimNextDueJob(_ context.Context, workerID string, leaseTimeout time.Duration) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()

	var due *domain.Job
	for _, j := range f.jobs {
		if j.Status == domain.JobStatusQueued && !j.RunAt.After(now) {
			if due == nil || j.RunAt.Before(due.RunAt) {
				due = j
			}
		}
	}
	if due != nil {
		due.Status = domain.JobStatusProcessing
		due.LockedAt = &now
		due.LockedBy = &workerID
		if due.StartedAt == nil {
			due.StartedAt = &now
		}
		cp := *due
		return &cp, nil
	}

	var stale *domain.Job
	for _, j := range f.jobs {
		if j.Status == domain.JobStatusProcessing && j.LockedAt != nil &&
			now.Sub(*j.LockedAt) > leaseTimeout {
			if stale == nil || j.LockedAt.Before(*stale.LockedAt) {
				stale = j
			}
		}
	}
	if stale != nil {
		stale.LockedAt = &now
		stale.LockedBy = &workerID
		cp := *stale
		return &cp, nil
	}

	return nil, nil
}

func (f *fakeStore) leasedJob(jobID, workerID string) *domain.Job {
	for _, j := range f.jobs {
		if j.JobID == jobID && j.Status == domain.JobStatusProcessing &&
			j.LockedBy != nil && *j.LockedBy == workerID {
			return j
		}
	}
	return nil
}

func (f *fakeStore) YieldJob(_ context.Context, jobID, workerID string, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.leasedJob(jobID, workerID)
	if j == nil {
		return domain.ErrJobLeaseLost
	}
	j.Status = domain.JobStatusQueued
	j.RunAt = time.Now().Add(delay)
	j.LockedAt = nil
	j.LockedBy = nil
	return nil
}

func (f *fakeStore) CompleteJob(_ context.Context, jobID, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.leasedJob(jobID, workerID)
	if j == nil {
		return domain.ErrJobLeaseLost
	}
	now := time.Now()
	j.Status = domain.JobStatusCompleted
	j.CompletedAt = &now
	j.LockedAt = nil
	j.LockedBy = nil
	return nil
}

func (f *fakeStore) FailJob(_ context.Context, jobID, workerID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.leasedJob(jobID, workerID)
	if j == nil {
		return domain.ErrJobLeaseLost
	}
	j.Status = domain.JobStatusFailed
	j.LastError = &errMsg
	j.LockedAt = nil
	j.LockedBy = nil
	return nil
}

func (f *fakeStore) InsertRecipients(_ context.Context, campaignID string, targets []domain.Target) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inserted := 0
	for _, t := range targets {
		exists := false
		for _, r := range f.recipients {
			if r.CampaignID == campaignID && r.Email == t.Email {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		f.recipients = append(f.recipients, &domain.Recipient{
			RecipientID: uuid.New().String(),
			CampaignID:  campaignID,
			CustomerID:  t.CustomerID,
			Email:       t.Email,
			EmailDomain: domain.EmailDomain(t.Email),
			Source:      t.Source,
			Status:      domain.RecipientStatusPending,
		})
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) CountRecipients(_ context.Context, campaignID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, r := range f.recipients {
		if r.CampaignID == campaignID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) CountPendingRecipients(_ context.Context, campaignID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, r := range f.recipients {
		if r.CampaignID == campaignID && r.Status == domain.RecipientStatusPending {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) RecipientTotals(_ context.Context, campaignID string) (total, sent, failed int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recipients {
		if r.CampaignID != campaignID {
			continue
		}
		total++
		switch r.Status {
		case domain.RecipientStatusSent:
			sent++
		case domain.RecipientStatusFailed:
			failed++
		}
	}
	return total, sent, failed, nil
}

func (f *fakeStore) ResetStaleWorkItems(_ context.Context, jobID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, i := range f.items {
		if i.JobID == jobID && i.Status == domain.ItemStatusProcessing {
			i.Status = domain.ItemStatusPending
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) CountLiveWorkItems(_ context.Context, jobID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, i := range f.items {
		if i.JobID != jobID {
			continue
		}
		if i.Status != domain.ItemStatusPending && i.Status != domain.ItemStatusProcessing {
			continue
		}
		if r := f.recipientByID(i.RecipientID); r != nil && r.Status == domain.RecipientStatusPending {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) InsertMissingWorkItems(_ context.Context, jobID, campaignID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inserted := 0
	for _, r := range f.recipients {
		if r.CampaignID != campaignID || r.Status != domain.RecipientStatusPending {
			continue
		}
		live := false
		for _, i := range f.items {
			if i.JobID == jobID && i.RecipientID == r.RecipientID &&
				(i.Status == domain.ItemStatusPending || i.Status == domain.ItemStatusProcessing) {
				live = true
				break
			}
		}
		if live {
			continue
		}
		f.items = append(f.items, &domain.WorkItem{
			ItemID:      uuid.New().String(),
			JobID:       jobID,
			RecipientID: r.RecipientID,
			Status:      domain.ItemStatusPending,
			CreatedAt:   time.Now(),
		})
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) FetchPendingItems(_ context.Context, jobID string, limit int) ([]domain.PendingItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PendingItem
	for _, i := range f.items {
		if len(out) >= limit {
			break
		}
		if i.JobID != jobID || i.Status != domain.ItemStatusPending {
			continue
		}
		r := f.recipientByID(i.RecipientID)
		if r == nil || r.Status != domain.RecipientStatusPending {
			continue
		}
		out = append(out, domain.PendingItem{
			ItemID:      i.ItemID,
			RecipientID: r.RecipientID,
			Email:       r.Email,
			Source:      r.Source,
			CustomerID:  r.CustomerID,
		})
	}
	return out, nil
}

func (f *fakeStore) ClaimWorkItem(_ context.Context, itemID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.items {
		if i.ItemID == itemID {
			if i.Status != domain.ItemStatusPending {
				return false, nil
			}
			i.Status = domain.ItemStatusProcessing
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) RecordItemOutcome(_ context.Context, itemID, recipientID, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.items {
		if i.ItemID == itemID {
			i.Status = status
		}
	}
	if r := f.recipientByID(recipientID); r != nil {
		r.Status = status
		r.Attempts++
		if errMsg != "" {
			msg := errMsg
			r.ErrorDetail = &msg
		}
	}
	return nil
}

func (f *fakeStore) DeleteWorkItems(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.items[:0]
	for _, i := range f.items {
		if i.JobID != jobID {
			kept = append(kept, i)
		}
	}
	f.items = kept
	return nil
}

// recipientByID must be called with the lock held.
func (f *fakeStore) recipientByID(id string) *domain.Recipient {
	for _, r := range f.recipients {
		if r.RecipientID == id {
			return r
		}
	}
	return nil
}

type fakeSource struct {
	mu      sync.Mutex
	targets []domain.Target
	err     error
	calls   int
}

func (s *fakeSource) SelectRecipients(context.Context, string, string) ([]domain.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.targets, s.err
}

type fakeTransport struct {
	mu      sync.Mutex
	failFor map[string]bool
	sent    []string
}

func (t *fakeTransport) Send(_ context.Context, msg *mail.Message) *mail.Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failFor[msg.To] {
		return mail.Failure("smtp_550", "mailbox unavailable")
	}
	t.sent = append(t.sent, msg.To)
	return &mail.Outcome{OK: true, MessageID: uuid.New().String()}
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*events.JobEvent
}

func (p *fakePublisher) PublishJobEvent(_ context.Context, ev *events.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type nullPreparer struct{}

func (nullPreparer) PrepareBundle(context.Context, string, string) (*assets.Bundle, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCampaign(id string) *domain.Campaign {
	return &domain.Campaign{
		ID:            id,
		OrgID:         "org-1",
		Name:          "Winter tires",
		Subject:       "Hi {first_name}",
		BodyHTML:      `<p>Offer for {name}</p><a href="https://example.com/offer">See it</a>`,
		TargetingRule: `{"type":"all"}`,
		Status:        domain.CampaignStatusDraft,
	}
}

func targetsFor(n int) []domain.Target {
	out := make([]domain.Target, n)
	for i := range out {
		out[i] = domain.Target{
			Email:  fmt.Sprintf("customer%03d@example.com", i),
			Source: domain.RecipientSourceCustomer,
		}
	}
	return out
}

func newTestEngine(store Store, source RecipientSource, transport mail.Transport, publisher EventPublisher) *Engine {
	return NewEngine(store, source, transport, nullPreparer{},
		tracking.NewSigner("test-secret", "https://track.example.com"),
		publisher, testLogger(), Config{
			BatchLimit:   200,
			Concurrency:  4,
			RequeueDelay: time.Nanosecond,
		})
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("creates job and marks campaign sending", func(t *testing.T) {
		store := newFakeStore()
		store.addCampaign(testCampaign("camp-1"))
		engine := newTestEngine(store, &fakeSource{}, &fakeTransport{}, nil)

		res, err := engine.Enqueue(ctx, "camp-1", "user-1", time.Time{})
		require.NoError(t, err)
		require.NotEmpty(t, res.JobID)

		job, err := store.GetJobByID(ctx, res.JobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusQueued, job.Status)
		assert.Equal(t, "user-1", job.SenderID)
		assert.Equal(t, 3, job.MaxAttempts)

		campaign, err := store.GetCampaign(ctx, "camp-1")
		require.NoError(t, err)
		assert.Equal(t, domain.CampaignStatusSending, campaign.Status)
	})

	t.Run("future run_at marks campaign scheduled", func(t *testing.T) {
		store := newFakeStore()
		store.addCampaign(testCampaign("camp-1"))
		engine := newTestEngine(store, &fakeSource{}, &fakeTransport{}, nil)

		runAt := time.Now().Add(time.Hour)
		res, err := engine.Enqueue(ctx, "camp-1", "user-1", runAt)
		require.NoError(t, err)
		assert.Equal(t, runAt, res.RunAt)

		campaign, err := store.GetCampaign(ctx, "camp-1")
		require.NoError(t, err)
		assert.Equal(t, domain.CampaignStatusScheduled, campaign.Status)
	})

	t.Run("idempotent per campaign", func(t *testing.T) {
		store := newFakeStore()
		store.addCampaign(testCampaign("camp-1"))
		engine := newTestEngine(store, &fakeSource{}, &fakeTransport{}, nil)

		first, err := engine.Enqueue(ctx, "camp-1", "user-1", time.Time{})
		require.NoError(t, err)
		second, err := engine.Enqueue(ctx, "camp-1", "user-1", time.Time{})
		require.NoError(t, err)

		assert.Equal(t, first.JobID, second.JobID)
		assert.Len(t, store.jobs, 1)
	})

	t.Run("already sent campaign rejected", func(t *testing.T) {
		store := newFakeStore()
		campaign := testCampaign("camp-1")
		campaign.Status = domain.CampaignStatusSent
		store.addCampaign(campaign)
		engine := newTestEngine(store, &fakeSource{}, &fakeTransport{}, nil)

		_, err := engine.Enqueue(ctx, "camp-1", "user-1", time.Time{})
		assert.ErrorIs(t, err, domain.ErrCampaignAlreadySent)
		assert.True(t, IsFatalEnqueueError(err))
	})

	t.Run("unknown campaign", func(t *testing.T) {
		store := newFakeStore()
		engine := newTestEngine(store, &fakeSource{}, &fakeTransport{}, nil)

		_, err := engine.Enqueue(ctx, "nope", "user-1", time.Time{})
		assert.ErrorIs(t, err, domain.ErrCampaignNotFound)
		assert.True(t, IsFatalEnqueueError(err))
	})

	t.Run("publishes queued event", func(t *testing.T) {
		store := newFakeStore()
		store.addCampaign(testCampaign("camp-1"))
		pub := &fakePublisher{}
		engine := newTestEngine(store, &fakeSource{}, &fakeTransport{}, pub)

		_, err := engine.Enqueue(ctx, "camp-1", "user-1", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, []string{events.JobQueued}, pub.types())
	})
}

func TestProcessDueJobs_CompletesCampaign(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addCampaign(testCampaign("camp-1"))
	source := &fakeSource{targets: targetsFor(5)}
	transport := &fakeTransport{}
	pub := &fakePublisher{}
	engine := newTestEngine(store, source, transport, pub)

	res, err := engine.Enqueue(ctx, "camp-1", "user-1", time.Time{})
	require.NoError(t, err)

	summary, err := engine.ProcessDueJobs(ctx, "worker-1", time.Minute, 5)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Claimed)
	assert.Equal(t, 5, summary.Sent)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 5, transport.sentCount())

	job, err := store.GetJobByID(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)

	campaign, err := store.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusSent, campaign.Status)
	assert.Equal(t, 5, campaign.TotalRecipients)
	assert.Equal(t, 5, campaign.SentCount)
	assert.NotNil(t, campaign.SentAt)

	// Work items are disposable and removed at completion.
	assert.Empty(t, store.items)

	assert.Equal(t, []string{events.JobQueued, events.JobCompleted}, pub.types())
}

func TestProcessDueJobs_PartialFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addCampaign(testCampaign("camp-1"))
	source := &fakeSource{targets: targetsFor(3)}
	transport := &fakeTransport{failFor: map[string]bool{
		"customer001@example.com": true,
	}}
	engine := newTestEngine(store, source, transport, nil)

	_, err := engine.Enqueue(ctx, "camp-1", "user-1", time.Time{})
	require.NoError(t, err)

	summary, err := engine.ProcessDueJobs(ctx, "worker-1", time.Minute, 5)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, 1, summary.Failed)

	// One delivered recipient is enough for the campaign to count as sent.
	campaign, err := store.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusSent, campaign.Status)
	assert.Equal(t, 2, campaign.SentCount)

	var failedDetail *string
	for _, r := range store.recipients {
		if r.Email == "customer001@example.com" {
			assert.Equal(t, domain.RecipientStatusFailed, r.Status)
			failedDetail = r.ErrorDetail
		} else {
			assert.Equal(t, domain.RecipientStatusSent, r.Status)
		}
	}
	require.NotNil(t, failedDetail)
	assert.Contains(t, *failedDetail, "smtp_550")
}

func TestProcessDueJobs_AllFail(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addCampaign(testCampaign("camp-1"))
	source := &fakeSource{targets: targetsFor(2)}
	transport := &fakeTransport{failFor: map[string]bool{
		"customer000@example.com": true,
		"customer001@example.com": true,
	}}
	engine := newTestEngine(store, source, transport, nil)

	res, err := engine.Enqueue(ctx, "camp-1", "user-1", time.Time{})
	require.NoError(t, err)

	_, err = engine.ProcessDueJobs(ctx, "worker-1", time.Minute, 5)
	require.NoError(t, err)

	campaign, err := store.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusFailed, campaign.Status)
	assert.Equal(t, 0, campaign.SentCount)

	// The job itself drained its queue and completed.
	job, err := store.GetJobByID(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
}

func TestProcessDueJobs_NoRecipients(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addCampaign(testCampaign("camp-1"))
	engine := newTestEngine(store, &fakeSource{}, &fakeTransport{}, nil)

	res, err := engine.Enqueue(ctx, "camp-1", "user-1", time.Time{})
	require.NoError(t, err)

	_, err = engine.ProcessDueJobs(ctx, "worker-1", time.Minute, 5)
	require.NoError(t, err)

	job, err := store.GetJobByID(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "zero recipients")

	campaign, err := store.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusFailed, campaign.Status)
}

func TestProcessDueJobs_NoTransport(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addCampaign(testCampaign("camp-1"))
	engine := NewEngine(store, &fakeSource{targets: targetsFor(2)}, nil, nil,
		nil, nil, testLogger(), Config{})

	res, err := engine.Enqueue(ctx, "camp-1", "user-1", time.Time{})
	require.NoError(t, err)

	_, err = engine.ProcessDueJobs(ctx, "worker-1", time.Minute, 5)
	require.NoError(t, err)

	job, err := store.GetJobByID(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "transport not configured")
}

func TestProcessDueJobs_NotDueYet(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addCampaign(testCampaign("camp-1"))
	transport := &fakeTransport{}
	engine := newTestEngine(store, &fakeSource{targets: targetsFor(2)}, transport, nil)

	_, err := engine.Enqueue(ctx, "camp-1", "user-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	summary, err := engine.ProcessDueJobs(ctx, "worker-1", time.Minute, 5)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Claimed)
	assert.Equal(t, 0, transport.sentCount())
}

func TestProcessDueJobs_LeaseRecovery(t *testing.T) {
	ctx := context.Background()

	seed := func(lockedAgo time.Duration) (*fakeStore, string) {
		store := newFakeStore()
		campaign := testCampaign("camp-1")
		campaign.Status = domain.CampaignStatusSending
		store.addCampaign(campaign)

		lockedAt := time.Now().Add(-lockedAgo)
		worker := "dead-worker"
		store.jobs = append(store.jobs, &domain.Job{
			JobID:       "job-1",
			CampaignID:  "camp-1",
			Status:      domain.JobStatusProcessing,
			RunAt:       time.Now().Add(-time.Hour),
			LockedAt:    &lockedAt,
			LockedBy:    &worker,
			MaxAttempts: 3,
		})
		return store, "job-1"
	}

	t.Run("expired lease is reclaimed", func(t *testing.T) {
		store, jobID := seed(20 * time.Minute)
		transport := &fakeTransport{}
		engine := NewEngine(store, &fakeSource{targets: targetsFor(2)}, transport, nullPreparer{},
			nil, nil, testLogger(), Config{LeaseTimeout: 15 * time.Minute, RequeueDelay: time.Nanosecond})

		summary, err := engine.ProcessDueJobs(ctx, "worker-2", time.Minute, 5)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Claimed)

		job, err := store.GetJobByID(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
		assert.Equal(t, 2, transport.sentCount())
	})

	t.Run("fresh lease is respected", func(t *testing.T) {
		store, _ := seed(time.Minute)
		transport := &fakeTransport{}
		engine := NewEngine(store, &fakeSource{targets: targetsFor(2)}, transport, nullPreparer{},
			nil, nil, testLogger(), Config{LeaseTimeout: 15 * time.Minute})

		summary, err := engine.ProcessDueJobs(ctx, "worker-2", time.Minute, 5)
		require.NoError(t, err)
		assert.Equal(t, 0, summary.Claimed)
		assert.Equal(t, 0, transport.sentCount())
	})
}

func TestClaimNextDueJob_ExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	const racers = 16

	race := func(t *testing.T, store *fakeStore) []*domain.Job {
		t.Helper()
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []*domain.Job
		)
		start := make(chan struct{})
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(worker string) {
				defer wg.Done()
				<-start
				job, err := store.ClaimNextDueJob(ctx, worker, 15*time.Minute)
				assert.NoError(t, err)
				if job != nil {
					mu.Lock()
					winners = append(winners, job)
					mu.Unlock()
				}
			}(fmt.Sprintf("worker-%d", i))
		}
		close(start)
		wg.Wait()
		return winners
	}

	t.Run("due queued job", func(t *testing.T) {
		store := newFakeStore()
		store.addCampaign(testCampaign("camp-1"))
		store.jobs = append(store.jobs, &domain.Job{
			JobID:       "job-1",
			CampaignID:  "camp-1",
			Status:      domain.JobStatusQueued,
			RunAt:       time.Now().Add(-time.Minute),
			MaxAttempts: 3,
		})

		winners := race(t, store)
		require.Len(t, winners, 1)
		assert.Equal(t, "job-1", winners[0].JobID)

		job, err := store.GetJobByID(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusProcessing, job.Status)
		require.NotNil(t, job.LockedBy)
		assert.Equal(t, *winners[0].LockedBy, *job.LockedBy)
	})

	t.Run("expired lease", func(t *testing.T) {
		store := newFakeStore()
		store.addCampaign(testCampaign("camp-1"))
		lockedAt := time.Now().Add(-20 * time.Minute)
		dead := "dead-worker"
		store.jobs = append(store.jobs, &domain.Job{
			JobID:       "job-1",
			CampaignID:  "camp-1",
			Status:      domain.JobStatusProcessing,
			RunAt:       time.Now().Add(-time.Hour),
			LockedAt:    &lockedAt,
			LockedBy:    &dead,
			MaxAttempts: 3,
		})

		winners := race(t, store)
		require.Len(t, winners, 1)

		job, err := store.GetJobByID(ctx, "job-1")
		require.NoError(t, err)
		require.NotNil(t, job.LockedBy)
		assert.NotEqual(t, "dead-worker", *job.LockedBy)
		assert.Equal(t, *winners[0].LockedBy, *job.LockedBy)
	})
}

func TestJobTransitions_RequireLease(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addCampaign(testCampaign("camp-1"))
	lockedAt := time.Now().Add(-20 * time.Minute)
	slow := "slow-worker"
	store.jobs = append(store.jobs, &domain.Job{
		JobID:       "job-1",
		CampaignID:  "camp-1",
		Status:      domain.JobStatusProcessing,
		RunAt:       time.Now().Add(-time.Hour),
		LockedAt:    &lockedAt,
		LockedBy:    &slow,
		MaxAttempts: 3,
	})

	// The lease expires and another worker reclaims the job while the
	// original holder is still running.
	reclaimed, err := store.ClaimNextDueJob(ctx, "worker-2", 15*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)

	err = store.YieldJob(ctx, "job-1", "slow-worker", 5*time.Second)
	assert.ErrorIs(t, err, domain.ErrJobLeaseLost)
	err = store.CompleteJob(ctx, "job-1", "slow-worker")
	assert.ErrorIs(t, err, domain.ErrJobLeaseLost)
	err = store.FailJob(ctx, "job-1", "slow-worker", "late failure")
	assert.ErrorIs(t, err, domain.ErrJobLeaseLost)

	// The job is untouched by the stale worker's attempts.
	job, err := store.GetJobByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, job.Status)
	require.NotNil(t, job.LockedBy)
	assert.Equal(t, "worker-2", *job.LockedBy)

	// The current holder can still complete it.
	require.NoError(t, store.CompleteJob(ctx, "job-1", "worker-2"))
}

func TestProcessDueJobs_ResumesAfterCrash(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	campaign := testCampaign("camp-1")
	campaign.Status = domain.CampaignStatusSending
	campaign.TotalRecipients = 30
	store.addCampaign(campaign)

	// Simulate a crashed run: the full snapshot exists, 20 of 30 are
	// already sent, a few items are stranded in processing, and the
	// job's lease has expired.
	for i := 0; i < 30; i++ {
		status := domain.RecipientStatusPending
		if i < 20 {
			status = domain.RecipientStatusSent
		}
		store.recipients = append(store.recipients, &domain.Recipient{
			RecipientID: fmt.Sprintf("rcpt-%03d", i),
			CampaignID:  "camp-1",
			Email:       fmt.Sprintf("customer%03d@example.com", i),
			Status:      status,
		})
	}
	for i := 20; i < 23; i++ {
		store.items = append(store.items, &domain.WorkItem{
			ItemID:      fmt.Sprintf("item-%03d", i),
			JobID:       "job-1",
			RecipientID: fmt.Sprintf("rcpt-%03d", i),
			Status:      domain.ItemStatusProcessing,
		})
	}
	lockedAt := time.Now().Add(-time.Hour)
	worker := "dead-worker"
	store.jobs = append(store.jobs, &domain.Job{
		JobID:      "job-1",
		CampaignID: "camp-1",
		Status:     domain.JobStatusProcessing,
		RunAt:      lockedAt,
		LockedAt:   &lockedAt,
		LockedBy:   &worker,
	})

	source := &fakeSource{targets: targetsFor(30)}
	transport := &fakeTransport{}
	engine := newTestEngine(store, source, transport, nil)

	_, err := engine.ProcessDueJobs(ctx, "worker-2", time.Minute, 5)
	require.NoError(t, err)

	// Only the 10 pending recipients are sent; no duplicates.
	assert.Equal(t, 10, transport.sentCount())

	campaignAfter, err := store.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusSent, campaignAfter.Status)
	assert.Equal(t, 30, campaignAfter.TotalRecipients)
	assert.Equal(t, 30, campaignAfter.SentCount)

	job, err := store.GetJobByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
}

func TestProcessDueJobs_RepairsPartialSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	campaign := testCampaign("camp-1")
	campaign.Status = domain.CampaignStatusSending
	campaign.TotalRecipients = 5
	store.addCampaign(campaign)

	// Only 2 of the recorded 5 recipient rows survived the crash.
	targets := targetsFor(5)
	for i := 0; i < 2; i++ {
		store.recipients = append(store.recipients, &domain.Recipient{
			RecipientID: fmt.Sprintf("rcpt-%03d", i),
			CampaignID:  "camp-1",
			Email:       targets[i].Email,
			Status:      domain.RecipientStatusPending,
		})
	}
	store.jobs = append(store.jobs, &domain.Job{
		JobID:      "job-1",
		CampaignID: "camp-1",
		Status:     domain.JobStatusQueued,
		RunAt:      time.Now().Add(-time.Minute),
	})

	source := &fakeSource{targets: targets}
	transport := &fakeTransport{}
	engine := newTestEngine(store, source, transport, nil)

	_, err := engine.ProcessDueJobs(ctx, "worker-1", time.Minute, 5)
	require.NoError(t, err)

	assert.Equal(t, 1, source.calls)
	assert.Equal(t, 5, transport.sentCount())
	assert.Len(t, store.recipients, 5)

	campaignAfter, err := store.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 5, campaignAfter.TotalRecipients)
	assert.Equal(t, 5, campaignAfter.SentCount)
}

func TestProcessDueJobs_YieldsAtBatchLimit(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addCampaign(testCampaign("camp-1"))
	source := &fakeSource{targets: targetsFor(5)}
	transport := &fakeTransport{}
	engine := NewEngine(store, source, transport, nullPreparer{}, nil, nil, testLogger(), Config{
		BatchLimit:   2,
		Concurrency:  2,
		RequeueDelay: time.Nanosecond,
	})

	res, err := engine.Enqueue(ctx, "camp-1", "user-1", time.Time{})
	require.NoError(t, err)

	// One claim sends at most BatchLimit items and then yields.
	summary, err := engine.ProcessDueJobs(ctx, "worker-1", time.Minute, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Sent)

	job, err := store.GetJobByID(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)

	campaign, err := store.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusSending, campaign.Status)

	// Later ticks resume the same job until the queue drains.
	for i := 0; i < 3; i++ {
		time.Sleep(time.Millisecond)
		_, err = engine.ProcessDueJobs(ctx, "worker-1", time.Minute, 1)
		require.NoError(t, err)
	}

	assert.Equal(t, 5, transport.sentCount())
	job, err = store.GetJobByID(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
}

func TestProcessDueJobs_RespectsMaxJobs(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	transport := &fakeTransport{}
	source := &fakeSource{targets: targetsFor(1)}
	engine := newTestEngine(store, source, transport, nil)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("camp-%d", i)
		store.addCampaign(testCampaign(id))
		store.jobs = append(store.jobs, &domain.Job{
			JobID:      fmt.Sprintf("job-%d", i),
			CampaignID: id,
			Status:     domain.JobStatusQueued,
			RunAt:      time.Now().Add(-time.Minute),
		})
	}

	summary, err := engine.ProcessDueJobs(ctx, "worker-1", time.Minute, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Claimed)
}

func TestSendItem_PanicBecomesFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addCampaign(testCampaign("camp-1"))
	engine := NewEngine(store, &fakeSource{targets: targetsFor(1)}, panicTransport{}, nullPreparer{},
		nil, nil, testLogger(), Config{RequeueDelay: time.Nanosecond})

	res, err := engine.Enqueue(ctx, "camp-1", "user-1", time.Time{})
	require.NoError(t, err)

	_, err = engine.ProcessDueJobs(ctx, "worker-1", time.Minute, 1)
	require.NoError(t, err)

	// The panic is contained: the item fails, the job still completes.
	job, err := store.GetJobByID(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)

	for _, r := range store.recipients {
		assert.Equal(t, domain.RecipientStatusFailed, r.Status)
		require.NotNil(t, r.ErrorDetail)
		assert.Contains(t, *r.ErrorDetail, "panic")
	}
}

type panicTransport struct{}

func (panicTransport) Send(context.Context, *mail.Message) *mail.Outcome {
	panic("transport exploded")
}
