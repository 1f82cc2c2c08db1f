package routes

import (
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/handlers"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/schedule"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/tasks"
)

// RequestValidator adapts go-playground/validator to echo's Validate hook.
type RequestValidator struct {
	validate *validator.Validate
}

func (v *RequestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// Setup wires the ingest and operator routes onto the echo instance.
func Setup(e *echo.Echo, db *gorm.DB, store schedule.TaskStore, client *tasks.TaskClient) {
	e.Validator = &RequestValidator{validate: validator.New()}

	eventHandler := handlers.NewEventHandler(db, client)
	campaignHandler := handlers.NewCampaignHandler(db, store, client)

	api := e.Group("/api/v1")

	events := api.Group("/events")
	events.POST("/bounce", eventHandler.IngestBounce)
	events.POST("/reply", eventHandler.IngestReply)

	campaigns := api.Group("/campaigns")
	campaigns.POST("/:id/reconcile", campaignHandler.TriggerReconcile)
	campaigns.GET("/:id/progress", campaignHandler.Progress)
}
