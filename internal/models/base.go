package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base contains common columns for all tables
type Base struct {
	ID        string    `gorm:"type:uuid;primary_key" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate will set a UUID rather than numeric ID
func (base *Base) BeforeCreate(tx *gorm.DB) error {
	if base.ID == "" {
		base.ID = uuid.New().String()
	}
	return nil
}

type CampaignStatus string
type SendTaskStatus string
type RecipientStatus string
type DeliveryEventType string
type BounceClass string

// Campaign status constants
const (
	CampaignStatusDraft     CampaignStatus = "DRAFT"
	CampaignStatusActive    CampaignStatus = "ACTIVE"
	CampaignStatusPaused    CampaignStatus = "PAUSED"
	CampaignStatusCompleted CampaignStatus = "COMPLETED"
)

// Send task status constants. SCHEDULED/SENDING are the live states; the
// rest are terminal except that SENT may still move to BOUNCED when an
// asynchronous bounce arrives after the transport reported success.
const (
	SendTaskStatusScheduled SendTaskStatus = "SCHEDULED"
	SendTaskStatusSending   SendTaskStatus = "SENDING"
	SendTaskStatusSent      SendTaskStatus = "SENT"
	SendTaskStatusFailed    SendTaskStatus = "FAILED"
	SendTaskStatusSkipped   SendTaskStatus = "SKIPPED"
	SendTaskStatusBounced   SendTaskStatus = "BOUNCED"
)

// Recipient status constants
const (
	RecipientStatusActive   RecipientStatus = "ACTIVE"
	RecipientStatusReplied  RecipientStatus = "REPLIED"
	RecipientStatusBounced  RecipientStatus = "BOUNCED"
	RecipientStatusComplete RecipientStatus = "COMPLETED"
)

// Delivery event constants
const (
	DeliveryEventBounce DeliveryEventType = "BOUNCE"
	DeliveryEventReply  DeliveryEventType = "REPLY"
)

const (
	BounceClassHard BounceClass = "HARD"
	BounceClassSoft BounceClass = "SOFT"
)

// IsTerminal reports whether a task in this status is done moving, with the
// one exception that SENT may still become BOUNCED post hoc.
func (s SendTaskStatus) IsTerminal() bool {
	switch s {
	case SendTaskStatusSent, SendTaskStatusFailed, SendTaskStatusSkipped, SendTaskStatusBounced:
		return true
	default:
		return false
	}
}
