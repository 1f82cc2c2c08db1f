package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/tasks"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/utils/logger"
)

var log = logger.New("API")

// EventHandler accepts delivery signals from the mail-ingestion
// collaborator and turns them into queued outcome processing.
type EventHandler struct {
	db     *gorm.DB
	client *tasks.TaskClient
}

func NewEventHandler(db *gorm.DB, client *tasks.TaskClient) *EventHandler {
	return &EventHandler{db: db, client: client}
}

type DeliveryEventRequest struct {
	CampaignID     string         `json:"campaignId" validate:"required,uuid"`
	RecipientEmail string         `json:"recipientEmail" validate:"required,email"`
	MessageID      string         `json:"messageId" validate:"required"`
	TaskID         string         `json:"taskId" validate:"omitempty,uuid"`
	BounceClass    string         `json:"bounceClass" validate:"omitempty,oneof=HARD SOFT"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Payload        datatypes.JSON `json:"payload" validate:"omitempty,json"`
}

// IngestBounce records a bounce event.
func (h *EventHandler) IngestBounce(c echo.Context) error {
	return h.ingest(c, models.DeliveryEventBounce)
}

// IngestReply records a reply event.
func (h *EventHandler) IngestReply(c echo.Context) error {
	return h.ingest(c, models.DeliveryEventReply)
}

// ingest persists the event idempotently and enqueues processing. A webhook
// retried by the sender for the same message collapses onto the existing
// row and is acknowledged without re-enqueueing.
func (h *EventHandler) ingest(c echo.Context, eventType models.DeliveryEventType) error {
	var req DeliveryEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if eventType == models.DeliveryEventBounce && req.BounceClass == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "bounceClass is required for bounce events")
	}

	ctx := c.Request().Context()

	var recipient models.Recipient
	err := h.db.WithContext(ctx).
		Where("campaign_id = ? AND email = ?", req.CampaignID, req.RecipientEmail).
		First(&recipient).Error
	if err == gorm.ErrRecordNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "recipient not found in campaign")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve recipient")
	}

	occurred := req.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	ev := models.DeliveryEvent{
		CampaignID:  req.CampaignID,
		RecipientID: recipient.ID,
		Type:        eventType,
		MessageID:   req.MessageID,
		BounceClass: models.BounceClass(req.BounceClass),
		OccurredAt:  occurred,
		Payload:     req.Payload,
	}
	if req.TaskID != "" {
		ev.TaskID = &req.TaskID
	}

	// The (type, message_id) unique index makes this a no-op on retries.
	res := h.db.WithContext(ctx).
		Where("type = ? AND message_id = ?", eventType, req.MessageID).
		FirstOrCreate(&ev)
	if res.Error != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record event")
	}
	if res.RowsAffected == 0 {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "duplicate",
			"eventId": ev.ID,
		})
	}

	err = h.client.EnqueueEventProcess(ctx, tasks.EventProcessTask{
		EventID:    ev.ID,
		CampaignID: ev.CampaignID,
	})
	if err != nil {
		log.Error("failed to enqueue event processing", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to queue event")
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"eventId": ev.ID,
	})
}
