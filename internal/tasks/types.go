package tasks

import "time"

// Task Types
const (
	// Campaign related tasks
	TaskTypeCampaignReconcile = "campaign:reconcile"

	// Follow-up related tasks
	TaskTypeFollowUpSchedule = "followup:schedule"

	// Delivery event tasks
	TaskTypeEventProcess = "event:process"

	// Email dispatch tasks. Produced here for the external transport
	// worker; never consumed by this service.
	TaskTypeEmailSend = "email:send"
)

// Task Queues
const (
	QueueCritical = "critical" // outbound dispatch hand-off
	QueueDefault  = "default"  // reconciliation, follow-ups
	QueueLow      = "low"      // delivery event processing
)

// Task Timeouts
const (
	TimeoutShort  = 1 * time.Minute
	TimeoutMedium = 5 * time.Minute
	TimeoutLong   = 30 * time.Minute
)

// Task Retry Settings
const (
	RetryMax     = 5
	RetryDefault = 3
	RetryMin     = 1
)

// Uniqueness windows. Overlapping enqueues of the same payload inside the
// window collapse into one task, which is how two racing reconcile triggers
// for one campaign become one effective pass.
const (
	UniqueReconcile = 2 * time.Minute
	UniqueFollowUp  = 5 * time.Minute
)

// Task Payloads
type ReconcileTask struct {
	CampaignID string `json:"campaign_id"`
	Trigger    string `json:"trigger,omitempty"`
}

type FollowUpTask struct {
	ParentTaskID string `json:"parent_task_id"`
	CampaignID   string `json:"campaign_id"`
}

type EventProcessTask struct {
	EventID    string `json:"event_id"`
	CampaignID string `json:"campaign_id"`
}

type EmailSendTask struct {
	TaskID      string    `json:"task_id"`
	CampaignID  string    `json:"campaign_id"`
	RecipientID string    `json:"recipient_id"`
	AccountID   string    `json:"account_id"`
	StepIndex   int       `json:"step_index"`
	ScheduledAt time.Time `json:"scheduled_at"`
}
