package schedule

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/utils/logger"
)

// ReconcileResult reports what one reconciliation pass actually did.
type ReconcileResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	// Healed counts duplicate live tasks collapsed to the authoritative row.
	Healed int `json:"healed"`
	// SkippedSent counts recipients excluded because step 0 already went out.
	SkippedSent int `json:"skippedSent"`
}

// Reconciler diffs the desired recipient×step-0 task set against what is
// persisted and issues only the necessary creates and updates. It never
// recomputes "from now": the rotation anchor is the campaign's activation
// instant, so a restart lands on the same schedule it would have had.
type Reconciler struct {
	store TaskStore
	log   *logger.Logger
}

func NewReconciler(store TaskStore) *Reconciler {
	return &Reconciler{
		store: store,
		log:   logger.New("RECONCILE"),
	}
}

// Reconcile brings the campaign's step-0 task set in line with the desired
// schedule. Higher steps are never bulk-created here; their timing depends on
// parent sent times that may not exist yet, so they belong to the
// follow-up sequencer alone.
func (r *Reconciler) Reconcile(ctx context.Context, campaign *models.Campaign, recipients []models.Recipient, accounts []models.SenderAccount) (*ReconcileResult, error) {
	if err := validateCampaign(campaign, accounts); err != nil {
		return nil, err
	}

	existing, err := r.store.ListByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, downstream("task list", err)
	}

	result := &ReconcileResult{}

	live, terminal, err := r.indexTasks(ctx, existing, result)
	if err != nil {
		return nil, err
	}

	// A live row alongside a completed step 0 is a stray: the delivery
	// already happened, so the completed row wins and the stray is cancelled
	// before it can dispatch a duplicate send.
	for key, task := range live {
		if !terminal[key] {
			continue
		}
		r.log.Warn("self-healing: live task %s shadows a completed delivery for recipient %s", task.ID, key.RecipientID)
		if err := r.store.CancelTask(ctx, task.ID, task.Status, "superseded by completed delivery"); err != nil && !errors.Is(err, ErrConflict) {
			return nil, downstream("stray cancel", err)
		}
		result.Healed++
		delete(live, key)
	}

	// Recipients whose initial email already reached a terminal state are
	// out of scope for scheduling: a sent step 0 is never re-sent, and a
	// skipped or bounced one is not resurrected.
	pending := make([]models.Recipient, 0, len(recipients))
	for _, rec := range recipients {
		if _, done := terminal[TaskKey{campaign.ID, rec.ID, 0}]; done {
			result.SkippedSent++
			continue
		}
		pending = append(pending, rec)
	}

	plan, err := PlanInitial(campaign, pending, accounts, r.anchorFor(campaign))
	if err != nil {
		return nil, err
	}

	for _, a := range plan {
		key := TaskKey{campaign.ID, a.Recipient.ID, 0}
		current := live[key]
		switch {
		case current == nil:
			task := &models.SendTask{
				CampaignID:  campaign.ID,
				RecipientID: a.Recipient.ID,
				StepIndex:   0,
				AccountID:   a.AccountID,
				ScheduledAt: a.ScheduledAt,
				Status:      models.SendTaskStatusScheduled,
			}
			if err := r.store.Create(ctx, task); err != nil {
				if errors.Is(err, ErrConflict) {
					// A concurrent reconcile won the insert; one effective outcome.
					result.Unchanged++
					continue
				}
				return nil, downstream("task create", err)
			}
			result.Created++

		case current.ScheduledAt.Equal(a.ScheduledAt) && current.AccountID == a.AccountID:
			result.Unchanged++

		default:
			if err := r.updateTask(ctx, key, current.Status, a); err != nil {
				return nil, err
			}
			result.Updated++
		}
	}

	return result, nil
}

// anchorFor returns the deterministic rotation anchor: the instant the
// campaign was activated. Wall clock never enters the computation, which is
// what makes back-to-back reconciles produce identical schedules.
func (r *Reconciler) anchorFor(campaign *models.Campaign) time.Time {
	if campaign.StartedAt != nil && !campaign.StartedAt.IsZero() {
		return *campaign.StartedAt
	}
	return campaign.CreatedAt
}

// updateTask moves an existing live task onto the newly computed rotation,
// retrying once through a lost conditional write.
func (r *Reconciler) updateTask(ctx context.Context, key TaskKey, expected models.SendTaskStatus, a Assignment) error {
	update := TaskUpdate{
		AccountID:   &a.AccountID,
		ScheduledAt: &a.ScheduledAt,
	}
	err := r.store.Upsert(ctx, key, expected, update)
	if !errors.Is(err, ErrConflict) {
		if err != nil {
			return downstream("task update", err)
		}
		return nil
	}

	// Lost the race: re-read and retry against the current status.
	current, err := r.store.GetLive(ctx, key)
	if err != nil {
		return downstream("task re-read", err)
	}
	if current == nil {
		// Went terminal underneath us; nothing left to move.
		return nil
	}
	if err := r.store.Upsert(ctx, key, current.Status, update); err != nil {
		return downstream("task update retry", err)
	}
	return nil
}

// indexTasks splits persisted tasks into live-by-key and terminal-step0
// maps, collapsing any duplicate live rows to the most authoritative one.
func (r *Reconciler) indexTasks(ctx context.Context, tasks []models.SendTask, result *ReconcileResult) (map[TaskKey]*models.SendTask, map[TaskKey]bool, error) {
	liveGroups := map[TaskKey][]models.SendTask{}
	terminal := map[TaskKey]bool{}

	for i := range tasks {
		t := tasks[i]
		key := TaskKey{t.CampaignID, t.RecipientID, t.StepIndex}
		if t.Status.IsTerminal() {
			if t.StepIndex == 0 {
				terminal[key] = true
			}
			continue
		}
		liveGroups[key] = append(liveGroups[key], t)
	}

	live := make(map[TaskKey]*models.SendTask, len(liveGroups))
	for key, group := range liveGroups {
		if len(group) == 1 {
			live[key] = &group[0]
			continue
		}

		// Duplicate live rows are a defect signal. Keep the most recently
		// updated row and terminal-skip the rest instead of crashing.
		violation := &IdempotencyViolation{Key: key, Count: len(group)}
		r.log.Warn("self-healing: %v", violation)

		sort.SliceStable(group, func(i, j int) bool {
			return group[i].UpdatedAt.After(group[j].UpdatedAt)
		})
		keeper := group[0]
		for _, dup := range group[1:] {
			if err := r.store.CancelTask(ctx, dup.ID, dup.Status, "duplicate collapsed by reconciler"); err != nil && !errors.Is(err, ErrConflict) {
				return nil, nil, downstream("duplicate cancel", err)
			}
			result.Healed++
		}
		live[key] = &keeper
	}

	return live, terminal, nil
}

func validateCampaign(campaign *models.Campaign, accounts []models.SenderAccount) error {
	if len(campaign.Steps) == 0 {
		return configErrorf("campaign %s has no sequence steps", campaign.ID)
	}
	for i, step := range campaign.Steps {
		if step.StepIndex != i {
			return configErrorf("campaign %s step %d has index %d; steps must be contiguous from 0", campaign.ID, i, step.StepIndex)
		}
		if i > 0 && step.DelayDays < 0 {
			return configErrorf("campaign %s step %d has negative delay", campaign.ID, i)
		}
	}
	if len(accounts) == 0 {
		return configErrorf("campaign %s has no active sender accounts", campaign.ID)
	}
	return ValidatePolicy(campaign.Policy)
}
