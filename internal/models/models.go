package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SendingPolicy governs when and how fast a campaign is allowed to send.
// It is embedded into Campaign and consumed read-only by the scheduling core.
type SendingPolicy struct {
	Timezone       string        `gorm:"not null;default:'UTC'" json:"timezone" validate:"required"`
	ActiveWeekdays pq.Int64Array `gorm:"type:integer[]" json:"activeWeekdays" validate:"required,min=1,dive,min=0,max=6"`
	HourStart      int           `gorm:"not null;default:9" json:"hourStart" validate:"min=0,max=23"`
	HourEnd        int           `gorm:"not null;default:17" json:"hourEnd" validate:"min=1,max=24,gtfield=HourStart"`
	TargetPerDay   int           `gorm:"not null;default:50" json:"targetPerDay" validate:"min=1"`
	// Minimum spacing between two sends from the same account, in minutes.
	MinIntervalMinutes int `gorm:"not null;default:5" json:"minIntervalMinutes" validate:"min=1"`
	// Optional hourly cap per account; 0 means no cap beyond the interval.
	MaxPerHour         int     `gorm:"not null;default:0" json:"maxPerHour" validate:"min=0"`
	JitterEnabled      bool    `gorm:"not null;default:true" json:"jitterEnabled"`
	JitterMinutes      int     `gorm:"not null;default:3" json:"jitterMinutes" validate:"min=0,max=60"`
	DailyVariation     bool    `gorm:"not null;default:true" json:"dailyVariation"`
	StopOnReply        bool    `gorm:"not null;default:true" json:"stopOnReply"`
	BounceRatePausePct float64 `gorm:"not null;default:5" json:"bounceRatePausePct" validate:"min=0,max=100"`
}

// MinInterval returns the configured inter-send spacing as a duration.
func (p SendingPolicy) MinInterval() time.Duration {
	return time.Duration(p.MinIntervalMinutes) * time.Minute
}

type Campaign struct {
	Base
	Name        string         `gorm:"not null" json:"name" validate:"required,min=2"`
	Description string         `json:"description"`
	Status      CampaignStatus `gorm:"not null;default:'DRAFT'" json:"status"`
	// StartedAt is fixed when the campaign is activated and anchors every
	// rotation computation. Reconciliation never re-anchors to wall clock.
	StartedAt   *time.Time      `json:"startedAt"`
	PausedAt    *time.Time      `json:"pausedAt"`
	PauseReason string          `json:"pauseReason"`
	Policy      SendingPolicy   `gorm:"embedded;embeddedPrefix:policy_" json:"policy"`
	Steps       []SequenceStep  `gorm:"foreignKey:CampaignID;references:ID;constraint:OnDelete:CASCADE" json:"steps,omitempty"`
	Accounts    []SenderAccount `gorm:"foreignKey:CampaignID;references:ID;constraint:OnDelete:CASCADE" json:"accounts,omitempty"`
	Recipients  []Recipient     `gorm:"foreignKey:CampaignID;references:ID;constraint:OnDelete:CASCADE" json:"recipients,omitempty"`
	Tasks       []SendTask      `gorm:"foreignKey:CampaignID;references:ID" json:"tasks,omitempty"`
}

// SequenceStep is one position in a campaign's follow-up chain.
// StepIndex 0 is the initial email; higher steps are follow-ups whose delay
// counts from the actual sent time of the immediately preceding step.
type SequenceStep struct {
	Base
	CampaignID string `gorm:"type:uuid;not null;index" json:"campaignId" validate:"required,uuid"`
	StepIndex  int    `gorm:"not null" json:"stepIndex" validate:"min=0"`
	DelayDays  int    `gorm:"not null;default:0" json:"delayDays" validate:"min=0"`
	// SameThread follow-ups reply into the original thread and must respect
	// the 24h reply-safety gate after the parent send.
	SameThread bool   `gorm:"not null;default:true" json:"sameThread"`
	Subject    string `json:"subject"`
}

type SenderAccount struct {
	Base
	CampaignID string `gorm:"type:uuid;not null;index" json:"campaignId" validate:"required,uuid"`
	Email      string `gorm:"not null" json:"email" validate:"required,email"`
	// RotationIndex fixes the account's slot in the round-robin. Stable
	// ordering is what makes rotation reproducible across restarts.
	RotationIndex int  `gorm:"not null" json:"rotationIndex" validate:"min=0"`
	IsActive      bool `gorm:"not null;default:true" json:"isActive"`
}

type Recipient struct {
	Base
	CampaignID string          `gorm:"type:uuid;not null;index" json:"campaignId" validate:"required,uuid"`
	Email      string          `gorm:"not null" json:"email" validate:"required,email"`
	Attributes datatypes.JSON  `gorm:"type:jsonb;default:'{}'" json:"attributes" validate:"omitempty,json"`
	Status     RecipientStatus `gorm:"not null;default:'ACTIVE'" json:"status"`
}

// SendTask is one scheduled/sent/cancelled email instance for one recipient
// at one sequence step. At most one non-terminal task may exist per
// (campaign, recipient, step); tasks are never deleted, cancellation is a
// terminal status so history stays auditable.
type SendTask struct {
	Base
	CampaignID  string         `gorm:"type:uuid;not null;index:idx_send_tasks_campaign" json:"campaignId"`
	RecipientID string         `gorm:"type:uuid;not null;index:idx_send_tasks_recipient" json:"recipientId"`
	StepIndex   int            `gorm:"not null" json:"stepIndex"`
	AccountID   string         `gorm:"type:uuid;not null" json:"accountId"`
	ScheduledAt time.Time      `gorm:"not null;index" json:"scheduledAt"`
	// EarliestAt is the dispatch floor for same-thread follow-ups; the
	// dispatcher re-validates it against the parent at send time.
	EarliestAt   *time.Time     `json:"earliestAt"`
	SentAt       *time.Time     `json:"sentAt"`
	ParentID     *string        `gorm:"type:uuid" json:"parentId"`
	Status       SendTaskStatus `gorm:"not null;default:'SCHEDULED'" json:"status"`
	BounceClass  BounceClass    `json:"bounceClass,omitempty"`
	CancelReason string         `json:"cancelReason,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// DeliveryEvent is a bounce or reply signal from the mail-ingestion
// collaborator. The (type, message_id) unique index makes intake idempotent:
// duplicate webhooks for the same underlying message collapse to one row.
type DeliveryEvent struct {
	Base
	CampaignID  string            `gorm:"type:uuid;not null;index" json:"campaignId"`
	RecipientID string            `gorm:"type:uuid;not null" json:"recipientId"`
	TaskID      *string           `gorm:"type:uuid" json:"taskId"`
	Type        DeliveryEventType `gorm:"not null;uniqueIndex:idx_delivery_events_message" json:"type" validate:"required,oneof=BOUNCE REPLY"`
	MessageID   string            `gorm:"not null;uniqueIndex:idx_delivery_events_message" json:"messageId" validate:"required"`
	BounceClass BounceClass       `json:"bounceClass,omitempty" validate:"omitempty,oneof=HARD SOFT"`
	OccurredAt  time.Time         `gorm:"not null" json:"occurredAt"`
	ProcessedAt *time.Time        `json:"processedAt"`
	Payload     datatypes.JSON    `gorm:"type:jsonb;default:'{}'" json:"payload"`
}

// CampaignAggregate is derived from send tasks, never stored independently.
type CampaignAggregate struct {
	CampaignID string  `json:"campaignId"`
	Scheduled  int64   `json:"scheduled"`
	Sent       int64   `json:"sent"`
	Bounced    int64   `json:"bounced"`
	Skipped    int64   `json:"skipped"`
	BounceRate float64 `json:"bounceRate"`
}

// BounceRate computes bounced / (sent + bounced); zero when nothing landed.
func (a *CampaignAggregate) ComputeBounceRate() float64 {
	delivered := a.Sent + a.Bounced
	if delivered == 0 {
		return 0
	}
	return float64(a.Bounced) / float64(delivered)
}

func GetCampaignByID(id string, db *gorm.DB) (*Campaign, error) {
	var campaign Campaign
	err := db.Where("id = ?", id).
		Preload("Steps", func(tx *gorm.DB) *gorm.DB { return tx.Order("step_index ASC") }).
		Preload("Accounts", func(tx *gorm.DB) *gorm.DB { return tx.Order("rotation_index ASC, created_at ASC") }).
		First(&campaign).Error
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func GetSendTaskByID(id string, db *gorm.DB) (*SendTask, error) {
	var task SendTask
	if err := db.Where("id = ?", id).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}
