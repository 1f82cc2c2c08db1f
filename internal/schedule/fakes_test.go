package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
)

// memStore is an in-memory TaskStore and CampaignStore with the same
// conditional-write semantics as the postgres-backed store: a mutation whose
// expected prior status matches nothing returns ErrConflict.
type memStore struct {
	mu     sync.Mutex
	seq    int
	tasks  []*models.SendTask
	paused map[string]string
}

func newMemStore() *memStore {
	return &memStore{paused: map[string]string{}}
}

func taskKeyOf(t *models.SendTask) TaskKey {
	return TaskKey{CampaignID: t.CampaignID, RecipientID: t.RecipientID, StepIndex: t.StepIndex}
}

// add inserts a row as-is, bypassing the live-uniqueness check. Tests use it
// to seed historical or deliberately broken state.
func (s *memStore) add(t *models.SendTask) *models.SendTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	cp := *t
	if cp.ID == "" {
		cp.ID = fmt.Sprintf("task-%d", s.seq)
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Unix(int64(1700000000+s.seq), 0)
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	s.tasks = append(s.tasks, &cp)
	return &cp
}

func (s *memStore) get(id string) *models.SendTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == id {
			cp := *t
			return &cp
		}
	}
	return nil
}

func (s *memStore) all() []models.SendTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SendTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}

func (s *memStore) ListByCampaign(ctx context.Context, campaignID string) ([]models.SendTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SendTask
	for _, t := range s.tasks {
		if t.CampaignID == campaignID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *memStore) ListByRecipient(ctx context.Context, campaignID, recipientID string) ([]models.SendTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SendTask
	for _, t := range s.tasks {
		if t.CampaignID == campaignID && t.RecipientID == recipientID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *memStore) GetLive(ctx context.Context, key TaskKey) (*models.SendTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if taskKeyOf(t) == key && !t.Status.IsTerminal() {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) Create(ctx context.Context, task *models.SendTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := taskKeyOf(task)
	for _, t := range s.tasks {
		if taskKeyOf(t) == key && !t.Status.IsTerminal() {
			return ErrConflict
		}
	}
	s.seq++
	cp := *task
	if cp.ID == "" {
		cp.ID = fmt.Sprintf("task-%d", s.seq)
	}
	cp.CreatedAt = time.Unix(int64(1700000000+s.seq), 0)
	cp.UpdatedAt = cp.CreatedAt
	s.tasks = append(s.tasks, &cp)
	task.ID = cp.ID
	return nil
}

func (s *memStore) Upsert(ctx context.Context, key TaskKey, expected models.SendTaskStatus, update TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := 0
	for _, t := range s.tasks {
		if taskKeyOf(t) != key || t.Status != expected {
			continue
		}
		if update.Status != nil {
			t.Status = *update.Status
		}
		if update.AccountID != nil {
			t.AccountID = *update.AccountID
		}
		if update.ScheduledAt != nil {
			t.ScheduledAt = *update.ScheduledAt
		}
		if update.EarliestAt != nil {
			t.EarliestAt = update.EarliestAt
		}
		if update.BounceClass != nil {
			t.BounceClass = *update.BounceClass
		}
		if update.CancelReason != nil {
			t.CancelReason = *update.CancelReason
		}
		s.seq++
		t.UpdatedAt = time.Unix(int64(1700000000+s.seq), 0)
		matched++
	}
	if matched == 0 {
		return ErrConflict
	}
	return nil
}

func (s *memStore) CancelTask(ctx context.Context, id string, expected models.SendTaskStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID != id {
			continue
		}
		if t.Status != expected {
			return ErrConflict
		}
		t.Status = models.SendTaskStatusSkipped
		t.CancelReason = reason
		s.seq++
		t.UpdatedAt = time.Unix(int64(1700000000+s.seq), 0)
		return nil
	}
	return ErrConflict
}

func (s *memStore) ListDue(ctx context.Context, now time.Time, limit int) ([]models.SendTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SendTask
	for _, t := range s.tasks {
		if t.Status == models.SendTaskStatusScheduled && !t.ScheduledAt.After(now) {
			out = append(out, *t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Aggregate(ctx context.Context, campaignID string) (*models.CampaignAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg := &models.CampaignAggregate{CampaignID: campaignID}
	for _, t := range s.tasks {
		if t.CampaignID != campaignID {
			continue
		}
		switch t.Status {
		case models.SendTaskStatusScheduled, models.SendTaskStatusSending:
			agg.Scheduled++
		case models.SendTaskStatusSent:
			agg.Sent++
		case models.SendTaskStatusBounced:
			agg.Bounced++
		case models.SendTaskStatusSkipped:
			agg.Skipped++
		}
	}
	agg.BounceRate = agg.ComputeBounceRate()
	return agg, nil
}

func (s *memStore) Pause(ctx context.Context, campaignID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused[campaignID] = reason
	return nil
}

func (s *memStore) pauseReasonFor(campaignID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.paused[campaignID]
	return r, ok
}

// --- fixtures ---

// weekdayPolicy is the baseline policy used across the package tests:
// Mon-Fri 9-17 UTC, 5 minute spacing, all randomization off so schedules
// are exactly predictable. Tests that exercise jitter or daily variation
// switch those on explicitly.
func weekdayPolicy() models.SendingPolicy {
	return models.SendingPolicy{
		Timezone:           "UTC",
		ActiveWeekdays:     pq.Int64Array{1, 2, 3, 4, 5},
		HourStart:          9,
		HourEnd:            17,
		TargetPerDay:       50,
		MinIntervalMinutes: 5,
		BounceRatePausePct: 5,
		StopOnReply:        true,
	}
}

func testCampaign(policy models.SendingPolicy) *models.Campaign {
	started := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) // Monday
	c := &models.Campaign{
		Name:   "q1 outreach",
		Status: models.CampaignStatusActive,
		Policy: policy,
	}
	c.ID = "camp-1"
	c.CreatedAt = started.Add(-time.Hour)
	c.StartedAt = &started
	c.Steps = []models.SequenceStep{
		{CampaignID: c.ID, StepIndex: 0},
		{CampaignID: c.ID, StepIndex: 1, DelayDays: 3, SameThread: true},
	}
	for i := range c.Steps {
		c.Steps[i].ID = fmt.Sprintf("step-%d", i)
	}
	return c
}

func testRecipients(n int) []models.Recipient {
	out := make([]models.Recipient, n)
	for i := range out {
		out[i].ID = fmt.Sprintf("rcpt-%d", i)
		out[i].CampaignID = "camp-1"
		out[i].Email = fmt.Sprintf("person%d@example.com", i)
	}
	return out
}

func testAccounts(n int) []models.SenderAccount {
	out := make([]models.SenderAccount, n)
	for i := range out {
		out[i].ID = fmt.Sprintf("acct-%d", i)
		out[i].CampaignID = "camp-1"
		out[i].Email = fmt.Sprintf("sender%d@example.com", i)
		out[i].RotationIndex = i
		out[i].IsActive = true
	}
	return out
}
