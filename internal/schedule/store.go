package schedule

import (
	"context"
	"time"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
)

// TaskKey identifies the one live send task a (campaign, recipient, step)
// tuple may have. Every mutation is expressed against this key plus an
// expected prior status so overlapping writers collapse to one outcome.
type TaskKey struct {
	CampaignID  string
	RecipientID string
	StepIndex   int
}

// TaskUpdate carries the fields a conditional upsert may change. Nil fields
// are left untouched.
type TaskUpdate struct {
	Status       *models.SendTaskStatus
	AccountID    *string
	ScheduledAt  *time.Time
	EarliestAt   *time.Time
	BounceClass  *models.BounceClass
	CancelReason *string
}

// TaskStore is the persistence contract the core runs against. Upsert and
// CancelTask are compare-and-swap on status: they return ErrConflict when the
// row's current status is not the expected one, never overwrite silently.
type TaskStore interface {
	ListByCampaign(ctx context.Context, campaignID string) ([]models.SendTask, error)
	ListByRecipient(ctx context.Context, campaignID, recipientID string) ([]models.SendTask, error)
	// GetLive returns the single non-terminal task for the key, or nil.
	GetLive(ctx context.Context, key TaskKey) (*models.SendTask, error)
	// Create inserts a new live task; ErrConflict when one already exists.
	Create(ctx context.Context, task *models.SendTask) error
	Upsert(ctx context.Context, key TaskKey, expected models.SendTaskStatus, update TaskUpdate) error
	CancelTask(ctx context.Context, id string, expected models.SendTaskStatus, reason string) error
	// ListDue returns scheduled tasks of active campaigns whose scheduled
	// instant has passed, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.SendTask, error)
	Aggregate(ctx context.Context, campaignID string) (*models.CampaignAggregate, error)
}

// CampaignStore is the narrow slice of the campaign-management collaborator
// the core writes to: the one-way automatic pause.
type CampaignStore interface {
	Pause(ctx context.Context, campaignID, reason string) error
}

// AccountProvider lists a campaign's active sender accounts in a stable
// order; rotation reproducibility depends on it.
type AccountProvider interface {
	ListActiveAccounts(ctx context.Context, campaignID string) ([]models.SenderAccount, error)
}

// RecipientProvider lists a campaign's recipients in a stable order.
type RecipientProvider interface {
	ListRecipients(ctx context.Context, campaignID string) ([]models.Recipient, error)
}
