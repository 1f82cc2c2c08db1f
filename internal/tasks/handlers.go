package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/schedule"
)

// Stores bundles the persistence contracts the handlers drive the core with.
type Stores interface {
	schedule.TaskStore
	schedule.CampaignStore
	schedule.AccountProvider
	schedule.RecipientProvider
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	GetTask(ctx context.Context, id string) (*models.SendTask, error)
	GetDeliveryEvent(ctx context.Context, id string) (*models.DeliveryEvent, error)
	MarkEventProcessed(ctx context.Context, id string, at time.Time) error
}

// TaskHandler processes queued scheduling work. All operations for one
// campaign run under that campaign's lock; operations across campaigns run
// in parallel on the asynq worker pool.
type TaskHandler struct {
	stores    Stores
	redis     *redis.Client
	locks     *schedule.CampaignLocks
	reconcile *schedule.Reconciler
	followUps *schedule.FollowUpSequencer
	outcomes  *schedule.OutcomeHandler
	dedupeTTL time.Duration
	logger    *zap.Logger
}

func NewTaskHandler(stores Stores, redisClient *redis.Client, dedupeTTL time.Duration, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		stores:    stores,
		redis:     redisClient,
		locks:     schedule.NewCampaignLocks(),
		reconcile: schedule.NewReconciler(stores),
		followUps: schedule.NewFollowUpSequencer(stores),
		outcomes:  schedule.NewOutcomeHandler(stores, stores),
		dedupeTTL: dedupeTTL,
		logger:    logger,
	}
}

// HandleCampaignReconcile runs one reconciliation pass for a campaign.
func (h *TaskHandler) HandleCampaignReconcile(ctx context.Context, t *asynq.Task) error {
	var task ReconcileTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("failed to unmarshal reconcile task: %w", asynq.SkipRetry)
	}

	unlock := h.locks.Lock(task.CampaignID)
	defer unlock()

	campaign, err := h.stores.GetCampaign(ctx, task.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}
	if campaign.Status != models.CampaignStatusActive {
		h.logger.Info("skipping reconcile for inactive campaign",
			zap.String("campaign_id", campaign.ID),
			zap.String("status", string(campaign.Status)),
		)
		return nil
	}

	recipients, err := h.stores.ListRecipients(ctx, campaign.ID)
	if err != nil {
		return fmt.Errorf("failed to list recipients: %w", err)
	}
	accounts, err := h.stores.ListActiveAccounts(ctx, campaign.ID)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	result, err := h.reconcile.Reconcile(ctx, campaign, recipients, accounts)
	if err != nil {
		if schedule.IsConfigurationError(err) {
			// Operator input problem; retrying won't fix it.
			h.logger.Error("campaign configuration rejected",
				zap.String("campaign_id", campaign.ID),
				zap.Error(err),
			)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("reconcile failed: %w", err)
	}

	h.logger.Info("reconcile complete",
		zap.String("campaign_id", campaign.ID),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("healed", result.Healed),
	)
	return nil
}

// HandleFollowUpSchedule computes the next-step task for one sent parent.
func (h *TaskHandler) HandleFollowUpSchedule(ctx context.Context, t *asynq.Task) error {
	var task FollowUpTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("failed to unmarshal follow-up task: %w", asynq.SkipRetry)
	}

	unlock := h.locks.Lock(task.CampaignID)
	defer unlock()

	parent, err := h.stores.GetTask(ctx, task.ParentTaskID)
	if err != nil {
		return fmt.Errorf("failed to load parent task: %w", err)
	}
	if parent == nil {
		h.logger.Warn("follow-up parent task no longer exists",
			zap.String("parent_task_id", task.ParentTaskID),
		)
		return nil
	}
	campaign, err := h.stores.GetCampaign(ctx, parent.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}

	created, err := h.followUps.OnParentSent(ctx, campaign, parent)
	if err != nil {
		return fmt.Errorf("follow-up sequencing failed: %w", err)
	}
	if created != nil {
		h.logger.Info("follow-up scheduled",
			zap.String("campaign_id", campaign.ID),
			zap.String("recipient_id", created.RecipientID),
			zap.Int("step", created.StepIndex),
			zap.Time("scheduled_at", created.ScheduledAt),
		)
	}
	return nil
}

// HandleEventProcess applies one persisted delivery event to the task set.
// The database processed_at column is the authority on whether an event has
// been consumed; the Redis marker is only a cross-worker fast path. An event
// whose marker is claimed but whose processed_at is still null was
// interrupted mid-flight and must be reprocessed, never skipped: the outcome
// handler's conditional writes make reprocessing safe, while dropping the
// event would silently lose a bounce or reply.
func (h *TaskHandler) HandleEventProcess(ctx context.Context, t *asynq.Task) error {
	var task EventProcessTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("failed to unmarshal event task: %w", asynq.SkipRetry)
	}

	unlock := h.locks.Lock(task.CampaignID)
	defer unlock()

	ev, err := h.stores.GetDeliveryEvent(ctx, task.EventID)
	if err != nil {
		return fmt.Errorf("failed to load delivery event: %w", err)
	}
	if ev.ProcessedAt != nil {
		return nil
	}

	fresh, err := h.markProcessed(ctx, ev)
	if err != nil {
		return err
	}
	if !fresh {
		h.logger.Warn("resuming interrupted delivery event",
			zap.String("event_id", ev.ID),
			zap.String("message_id", ev.MessageID),
		)
	}

	campaign, err := h.stores.GetCampaign(ctx, ev.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}

	if err := h.outcomes.Handle(ctx, campaign, ev); err != nil {
		return fmt.Errorf("outcome handling failed: %w", err)
	}

	if err := h.stores.MarkEventProcessed(ctx, ev.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	h.logger.Info("delivery event applied",
		zap.String("event_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.String("campaign_id", ev.CampaignID),
	)
	return nil
}

// markProcessed claims the event's message identity in Redis. Returns false
// when an earlier attempt already claimed it.
func (h *TaskHandler) markProcessed(ctx context.Context, ev *models.DeliveryEvent) (bool, error) {
	if h.redis == nil {
		return true, nil
	}
	key := fmt.Sprintf("event:seen:%s:%s", ev.Type, ev.MessageID)
	ok, err := h.redis.SetNX(ctx, key, ev.ID, h.dedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("event dedupe check failed: %w", err)
	}
	return ok, nil
}
