package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/schedule"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/tasks"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/utils/logger"
)

// DispatchStore is what the dispatcher needs from persistence: the task
// lifecycle operations plus campaign and parent-task lookups. GormStore
// satisfies it.
type DispatchStore interface {
	schedule.TaskStore
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	GetTask(ctx context.Context, id string) (*models.SendTask, error)
}

// EmailEnqueuer hands a claimed task to the transport queue. TaskClient
// satisfies it.
type EmailEnqueuer interface {
	EnqueueEmailSend(ctx context.Context, payload tasks.EmailSendTask) error
}

// Dispatcher moves due tasks from SCHEDULED to SENDING and hands them to the
// external transport worker over the queue. It is the last gate before a
// send: follow-up preconditions are re-validated here against the current
// clock, and per-account pacing keeps an overdue backlog (for example after
// downtime) draining at the configured interval instead of bursting.
type Dispatcher struct {
	store  DispatchStore
	client EmailEnqueuer
	batch  int
	log    *logger.Logger

	mu     sync.Mutex
	pacers map[string]*accountPacer
}

// accountPacer remembers the interval its limiter was built for, so a policy
// change replaces the limiter instead of pacing at a stale rate forever.
type accountPacer struct {
	interval time.Duration
	limiter  *rate.Limiter
}

func NewDispatcher(store DispatchStore, client EmailEnqueuer, batch int) *Dispatcher {
	return &Dispatcher{
		store:  store,
		client: client,
		batch:  batch,
		log:    logger.New("DISPATCH"),
		pacers: map[string]*accountPacer{},
	}
}

// Dispatch runs one pass over due tasks.
func (d *Dispatcher) Dispatch(ctx context.Context, now time.Time) error {
	due, err := d.store.ListDue(ctx, now, d.batch)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	campaigns := map[string]*models.Campaign{}
	dispatched := 0

	for i := range due {
		task := &due[i]

		campaign, ok := campaigns[task.CampaignID]
		if !ok {
			campaign, err = d.store.GetCampaign(ctx, task.CampaignID)
			if err != nil {
				d.log.Error("failed to load campaign "+task.CampaignID, err)
				continue
			}
			campaigns[task.CampaignID] = campaign
		}

		eligible, err := d.checkFollowUpGate(ctx, task, campaign, now)
		if err != nil {
			d.log.Error("gate check failed for task "+task.ID, err)
			continue
		}
		if !eligible {
			continue
		}

		if !d.accountLimiter(task.AccountID, campaign.Policy).Allow() {
			// Account at its pacing limit; the task stays due for next pass.
			continue
		}

		sending := models.SendTaskStatusSending
		key := schedule.TaskKey{CampaignID: task.CampaignID, RecipientID: task.RecipientID, StepIndex: task.StepIndex}
		err = d.store.Upsert(ctx, key, models.SendTaskStatusScheduled, schedule.TaskUpdate{Status: &sending})
		if errors.Is(err, schedule.ErrConflict) {
			// Someone else took it (or it was cancelled); not ours to send.
			continue
		}
		if err != nil {
			d.log.Error("failed to claim task "+task.ID, err)
			continue
		}

		err = d.client.EnqueueEmailSend(ctx, tasks.EmailSendTask{
			TaskID:      task.ID,
			CampaignID:  task.CampaignID,
			RecipientID: task.RecipientID,
			AccountID:   task.AccountID,
			StepIndex:   task.StepIndex,
			ScheduledAt: task.ScheduledAt,
		})
		if err != nil {
			// Hand-off failed after we claimed the task; release the claim so
			// the next pass retries instead of stranding it in SENDING.
			scheduled := models.SendTaskStatusScheduled
			if relErr := d.store.Upsert(ctx, key, sending, schedule.TaskUpdate{Status: &scheduled}); relErr != nil {
				d.log.Error("failed to release claimed task "+task.ID, relErr)
			}
			d.log.Error("failed to enqueue send for task "+task.ID, err)
			continue
		}
		dispatched++
	}

	if dispatched > 0 {
		d.log.Info("dispatched %d of %d due tasks", dispatched, len(due))
	}
	return nil
}

// checkFollowUpGate re-validates a follow-up's preconditions at dispatch
// time: the parent must still be sent, and same-thread follow-ups honor the
// 24h reply-safety gap against the parent's actual sent instant. A follow-up
// whose parent went terminally dead is cancelled rather than left dangling.
func (d *Dispatcher) checkFollowUpGate(ctx context.Context, task *models.SendTask, campaign *models.Campaign, now time.Time) (bool, error) {
	if task.StepIndex == 0 {
		return true, nil
	}

	var parent *models.SendTask
	if task.ParentID != nil {
		p, err := d.store.GetTask(ctx, *task.ParentID)
		if err != nil {
			return false, err
		}
		parent = p
	}

	if parent != nil && parent.Status.IsTerminal() && parent.Status != models.SendTaskStatusSent {
		reason := "parent task " + string(parent.Status)
		if err := d.store.CancelTask(ctx, task.ID, models.SendTaskStatusScheduled, reason); err != nil && !errors.Is(err, schedule.ErrConflict) {
			return false, err
		}
		return false, nil
	}

	return schedule.EligibleForDispatch(task, parent, campaign, now), nil
}

// accountLimiter returns the account's pacer, one token per effective
// interval. Pacers live for the process lifetime so pacing spans passes, but
// the limiter is rebuilt whenever the policy's effective interval moves.
func (d *Dispatcher) accountLimiter(accountID string, policy models.SendingPolicy) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	interval := schedule.EffectiveInterval(policy)
	p, ok := d.pacers[accountID]
	if !ok || p.interval != interval {
		p = &accountPacer{
			interval: interval,
			limiter:  rate.NewLimiter(rate.Every(interval), 1),
		}
		d.pacers[accountID] = p
	}
	return p.limiter
}
