package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/utils/logger"
)

// TaskClient enqueues scheduling work onto the Redis-backed queue.
type TaskClient struct {
	client *asynq.Client
	log    *logger.Logger
}

func NewTaskClient(redisAddr, username, password string, db int) *TaskClient {
	return &TaskClient{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     redisAddr,
			Username: username,
			Password: password,
			DB:       db,
		}),
		log: logger.New("TASKS"),
	}
}

func (c *TaskClient) Close() error {
	return c.client.Close()
}

// EnqueueReconcile schedules a reconciliation pass for one campaign. The
// uniqueness window collapses overlapping triggers (poller + operator +
// restart) into a single pass.
func (c *TaskClient) EnqueueReconcile(ctx context.Context, task ReconcileTask, processIn time.Duration) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal reconcile task: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.Timeout(TimeoutMedium),
		asynq.MaxRetry(RetryDefault),
		asynq.Unique(UniqueReconcile),
	}
	if processIn > 0 {
		opts = append(opts, asynq.ProcessIn(processIn))
	}

	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeCampaignReconcile, payload), opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			c.log.Debug("reconcile for campaign %s already queued", task.CampaignID)
			return nil
		}
		return fmt.Errorf("failed to enqueue reconcile task: %w", err)
	}

	c.log.Info("enqueued reconcile [%s] queue=%s campaign=%s trigger=%s",
		info.ID, info.Queue, task.CampaignID, task.Trigger)
	return nil
}

// EnqueueFollowUp schedules follow-up computation for one sent parent task.
func (c *TaskClient) EnqueueFollowUp(ctx context.Context, task FollowUpTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal follow-up task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx,
		asynq.NewTask(TaskTypeFollowUpSchedule, payload),
		asynq.Queue(QueueDefault),
		asynq.Timeout(TimeoutShort),
		asynq.MaxRetry(RetryDefault),
		asynq.Unique(UniqueFollowUp),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("failed to enqueue follow-up task: %w", err)
	}

	c.log.Info("enqueued follow-up [%s] parent=%s", info.ID, task.ParentTaskID)
	return nil
}

// EnqueueEventProcess schedules processing of one persisted delivery event.
func (c *TaskClient) EnqueueEventProcess(ctx context.Context, task EventProcessTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal event task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx,
		asynq.NewTask(TaskTypeEventProcess, payload),
		asynq.Queue(QueueLow),
		asynq.Timeout(TimeoutShort),
		asynq.MaxRetry(RetryDefault),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue event task: %w", err)
	}

	c.log.Info("enqueued event [%s] delivery event=%s", info.ID, task.EventID)
	return nil
}

// EnqueueEmailSend hands a due task to the external transport worker. The
// core stops at the queue boundary; SMTP belongs to the sender process.
func (c *TaskClient) EnqueueEmailSend(ctx context.Context, task EmailSendTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal email send task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx,
		asynq.NewTask(TaskTypeEmailSend, payload),
		asynq.Queue(QueueCritical),
		asynq.Timeout(TimeoutMedium),
		asynq.MaxRetry(RetryDefault),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue email send task: %w", err)
	}

	c.log.Info("enqueued send [%s] task=%s account=%s", info.ID, task.TaskID, task.AccountID)
	return nil
}
