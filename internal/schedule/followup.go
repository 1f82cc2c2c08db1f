package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/utils/logger"
)

// ReplySafetyGap is the minimum wall-clock distance between a send and its
// same-thread follow-up. Threading a follow-up under 24 hours after the
// parent reads as automation; the gap is enforced at scheduling time here
// and re-validated at dispatch time, because clocks drift between the two.
const ReplySafetyGap = 24 * time.Hour

// FollowUpSequencer creates the next step's task once a parent task has
// actually been sent. Follow-up timing always counts from the parent's real
// sent instant, never from the original schedule.
type FollowUpSequencer struct {
	store TaskStore
	log   *logger.Logger
}

func NewFollowUpSequencer(store TaskStore) *FollowUpSequencer {
	return &FollowUpSequencer{
		store: store,
		log:   logger.New("FOLLOWUP"),
	}
}

// OnParentSent computes and persists the follow-up for a sent task. It
// returns nil (no error) when there is nothing to do: the parent is not
// sent yet, the sequence has no next step, or the follow-up already exists.
// Calling it twice for the same parent is a no-op the second time.
func (f *FollowUpSequencer) OnParentSent(ctx context.Context, campaign *models.Campaign, parent *models.SendTask) (*models.SendTask, error) {
	if parent.Status != models.SendTaskStatusSent || parent.SentAt == nil {
		f.log.Debug("parent %s not sent yet; nothing to sequence", parent.ID)
		return nil, nil
	}

	next := parent.StepIndex + 1
	step := stepAt(campaign, next)
	if step == nil {
		return nil, nil
	}

	key := TaskKey{campaign.ID, parent.RecipientID, next}
	existing, err := f.store.GetLive(ctx, key)
	if err != nil {
		return nil, downstream("follow-up lookup", err)
	}
	if existing != nil {
		return nil, nil
	}

	target := parent.SentAt.Add(time.Duration(step.DelayDays) * 24 * time.Hour)
	at, err := NextSendable(target, campaign.Policy)
	if err != nil {
		return nil, err
	}
	at, err = ApplyJitter(at, followUpKey(parent.RecipientID, next), campaign.Policy)
	if err != nil {
		return nil, err
	}

	task := &models.SendTask{
		CampaignID:  campaign.ID,
		RecipientID: parent.RecipientID,
		StepIndex:   next,
		// Same account as the parent so threaded follow-ups stay in-thread.
		AccountID:   parent.AccountID,
		ScheduledAt: at,
		ParentID:    &parent.ID,
		Status:      models.SendTaskStatusScheduled,
	}
	if step.SameThread {
		earliest := parent.SentAt.Add(ReplySafetyGap)
		task.EarliestAt = &earliest
	}

	if err := f.store.Create(ctx, task); err != nil {
		if errors.Is(err, ErrConflict) {
			// Raced with another sequencing pass; theirs stands.
			return nil, nil
		}
		return nil, downstream("follow-up create", err)
	}

	f.log.Info("scheduled step %d for recipient %s at %s", next, parent.RecipientID, at.Format(time.RFC3339))
	return task, nil
}

// EligibleForDispatch is the dispatch-time re-validation of the follow-up
// preconditions: the parent must be sent, and a same-thread follow-up must
// sit at least the reply-safety gap after the parent's actual sent time.
func EligibleForDispatch(task *models.SendTask, parent *models.SendTask, campaign *models.Campaign, now time.Time) bool {
	if task.StepIndex == 0 {
		return true
	}
	if parent == nil || parent.Status != models.SendTaskStatusSent || parent.SentAt == nil {
		return false
	}
	if task.EarliestAt != nil && now.Before(*task.EarliestAt) {
		return false
	}
	step := stepAt(campaign, task.StepIndex)
	if step != nil && step.SameThread && now.Before(parent.SentAt.Add(ReplySafetyGap)) {
		return false
	}
	return true
}

func stepAt(campaign *models.Campaign, index int) *models.SequenceStep {
	for i := range campaign.Steps {
		if campaign.Steps[i].StepIndex == index {
			return &campaign.Steps[i]
		}
	}
	return nil
}
