package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/schedule"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/tasks"
)

// CampaignHandler exposes the operator surface: manual reconcile trigger
// and aggregate progress. Campaign CRUD lives elsewhere.
type CampaignHandler struct {
	db     *gorm.DB
	store  schedule.TaskStore
	client *tasks.TaskClient
}

func NewCampaignHandler(db *gorm.DB, store schedule.TaskStore, client *tasks.TaskClient) *CampaignHandler {
	return &CampaignHandler{db: db, store: store, client: client}
}

// TriggerReconcile enqueues a reconciliation pass for the campaign.
func (h *CampaignHandler) TriggerReconcile(c echo.Context) error {
	id := c.Param("id")

	var campaign models.Campaign
	if err := h.db.WithContext(c.Request().Context()).Where("id = ?", id).First(&campaign).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "campaign not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load campaign")
	}
	if campaign.Status != models.CampaignStatusActive {
		return echo.NewHTTPError(http.StatusConflict, "campaign is not active")
	}

	err := h.client.EnqueueReconcile(c.Request().Context(), tasks.ReconcileTask{
		CampaignID: campaign.ID,
		Trigger:    "operator",
	}, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to queue reconcile")
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"status": "reconcile queued",
	})
}

// Progress returns the campaign's derived sending aggregate.
func (h *CampaignHandler) Progress(c echo.Context) error {
	id := c.Param("id")

	var campaign models.Campaign
	if err := h.db.WithContext(c.Request().Context()).Where("id = ?", id).First(&campaign).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "campaign not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load campaign")
	}

	agg, err := h.store.Aggregate(c.Request().Context(), campaign.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute aggregate")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"campaignId": campaign.ID,
		"status":     campaign.Status,
		"aggregate":  agg,
	})
}
