package schedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/events"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/utils/logger"
)

const (
	ReasonRecipientReplied = "recipient replied"
	ReasonAddressBounced   = "address bounced"
)

// OutcomeHandler applies bounce and reply signals to the persisted task set:
// cascading cancellation of dependent follow-ups, aggregate bounce-rate
// maintenance, and the one-way automatic campaign pause.
type OutcomeHandler struct {
	store     TaskStore
	campaigns CampaignStore
	log       *logger.Logger
}

func NewOutcomeHandler(store TaskStore, campaigns CampaignStore) *OutcomeHandler {
	return &OutcomeHandler{
		store:     store,
		campaigns: campaigns,
		log:       logger.New("OUTCOME"),
	}
}

// Handle routes one delivery event. Events are matched to tasks and applied
// through conditional writes, so replaying an event finds nothing left to
// transition and is a no-op rather than an error.
func (h *OutcomeHandler) Handle(ctx context.Context, campaign *models.Campaign, ev *models.DeliveryEvent) error {
	switch ev.Type {
	case models.DeliveryEventBounce:
		return h.handleBounce(ctx, campaign, ev)
	case models.DeliveryEventReply:
		return h.handleReply(ctx, campaign, ev)
	default:
		return h.log.Errorf("unknown delivery event type %q", ev.Type)
	}
}

func (h *OutcomeHandler) handleBounce(ctx context.Context, campaign *models.Campaign, ev *models.DeliveryEvent) error {
	task, err := h.matchBouncedTask(ctx, campaign.ID, ev)
	if err != nil {
		return err
	}

	if task != nil {
		bounced := models.SendTaskStatusBounced
		class := ev.BounceClass
		key := TaskKey{task.CampaignID, task.RecipientID, task.StepIndex}
		err := h.store.Upsert(ctx, key, models.SendTaskStatusSent, TaskUpdate{
			Status:      &bounced,
			BounceClass: &class,
		})
		if err != nil && !errors.Is(err, ErrConflict) {
			return downstream("bounce transition", err)
		}
		// ErrConflict here means the task already left SENT, most likely an
		// earlier delivery of this same bounce. Carry on; the cascade and
		// aggregate below are idempotent on their own.
		if err == nil {
			events.Emit("task.bounced", task)
		}
	}

	// A hard bounce means the address is dead: nothing further in the
	// sequence should ever go out to it.
	if ev.BounceClass == models.BounceClassHard {
		if err := h.cancelLiveTasks(ctx, campaign.ID, ev.RecipientID, false, ReasonAddressBounced); err != nil {
			return err
		}
	}

	return h.maybePause(ctx, campaign)
}

func (h *OutcomeHandler) handleReply(ctx context.Context, campaign *models.Campaign, ev *models.DeliveryEvent) error {
	if !campaign.Policy.StopOnReply {
		return nil
	}
	// Follow-ups only: an in-flight step 0 is never clawed back by a reply
	// (the reply is almost certainly to that very message).
	return h.cancelLiveTasks(ctx, campaign.ID, ev.RecipientID, true, ReasonRecipientReplied)
}

// cancelLiveTasks transitions the recipient's SCHEDULED tasks to SKIPPED.
// With followUpsOnly, step 0 is left alone. Conditional writes make the
// sweep idempotent: a second identical event finds nothing to cancel.
func (h *OutcomeHandler) cancelLiveTasks(ctx context.Context, campaignID, recipientID string, followUpsOnly bool, reason string) error {
	tasks, err := h.store.ListByRecipient(ctx, campaignID, recipientID)
	if err != nil {
		return downstream("recipient task list", err)
	}

	skipped := models.SendTaskStatusSkipped
	for i := range tasks {
		t := tasks[i]
		if t.Status != models.SendTaskStatusScheduled {
			continue
		}
		if followUpsOnly && t.StepIndex == 0 {
			continue
		}
		key := TaskKey{t.CampaignID, t.RecipientID, t.StepIndex}
		err := h.store.Upsert(ctx, key, models.SendTaskStatusScheduled, TaskUpdate{
			Status:       &skipped,
			CancelReason: &reason,
		})
		if err != nil && !errors.Is(err, ErrConflict) {
			return downstream("cancel transition", err)
		}
		if err == nil {
			h.log.Info("skipped step %d for recipient %s: %s", t.StepIndex, recipientID, reason)
		}
	}
	return nil
}

// matchBouncedTask resolves the event to a task: directly by ID when the
// ingestion layer knew it, otherwise the recipient's most recent sent task.
func (h *OutcomeHandler) matchBouncedTask(ctx context.Context, campaignID string, ev *models.DeliveryEvent) (*models.SendTask, error) {
	tasks, err := h.store.ListByRecipient(ctx, campaignID, ev.RecipientID)
	if err != nil {
		return nil, downstream("recipient task list", err)
	}

	if ev.TaskID != nil {
		for i := range tasks {
			if tasks[i].ID == *ev.TaskID {
				return &tasks[i], nil
			}
		}
		return nil, nil
	}

	var latest *models.SendTask
	for i := range tasks {
		t := &tasks[i]
		if t.Status != models.SendTaskStatusSent || t.SentAt == nil {
			continue
		}
		if latest == nil || t.SentAt.After(*latest.SentAt) {
			latest = t
		}
	}
	return latest, nil
}

// maybePause recomputes the campaign aggregate and pauses the campaign when
// the bounce rate exceeds the policy threshold. Pausing is one-way and
// automatic; resuming is an operator decision elsewhere.
func (h *OutcomeHandler) maybePause(ctx context.Context, campaign *models.Campaign) error {
	agg, err := h.store.Aggregate(ctx, campaign.ID)
	if err != nil {
		return downstream("aggregate", err)
	}

	threshold := campaign.Policy.BounceRatePausePct / 100.0
	if agg.BounceRate <= threshold {
		return nil
	}
	if campaign.Status == models.CampaignStatusPaused {
		return nil
	}

	reason := h.pauseReason(agg)
	if err := h.campaigns.Pause(ctx, campaign.ID, reason); err != nil {
		return downstream("campaign pause", err)
	}
	campaign.Status = models.CampaignStatusPaused
	h.log.Warn("campaign %s paused: %s", campaign.ID, reason)
	events.Emit("campaign.paused", campaign)
	return nil
}

func (h *OutcomeHandler) pauseReason(agg *models.CampaignAggregate) string {
	return fmt.Sprintf("bounce rate %.2f%% exceeded pause threshold", agg.BounceRate*100)
}
