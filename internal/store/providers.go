package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
)

// ListActiveAccounts returns the campaign's active sender accounts ordered
// by rotation index. The order is what makes account rotation reproducible,
// so it must never depend on insertion or query happenstance.
func (s *GormStore) ListActiveAccounts(ctx context.Context, campaignID string) ([]models.SenderAccount, error) {
	var accounts []models.SenderAccount
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND is_active = ?", campaignID, true).
		Order("rotation_index ASC, created_at ASC").
		Find(&accounts).Error
	return accounts, err
}

// ListRecipients returns the campaign's recipients in a stable order.
func (s *GormStore) ListRecipients(ctx context.Context, campaignID string) ([]models.Recipient, error) {
	var recipients []models.Recipient
	err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC, id ASC").
		Find(&recipients).Error
	return recipients, err
}

// Pause is the one campaign write the core owns: the automatic bounce-rate
// pause. It only moves ACTIVE to PAUSED; anything else is left alone.
func (s *GormStore) Pause(ctx context.Context, campaignID, reason string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaignID, models.CampaignStatusActive).
		Updates(map[string]interface{}{
			"status":       models.CampaignStatusPaused,
			"paused_at":    now,
			"pause_reason": reason,
		}).Error
}

// GetCampaign loads a campaign with its steps and accounts preloaded in
// their stable orders.
func (s *GormStore) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	return models.GetCampaignByID(id, s.db.WithContext(ctx))
}

// GetTask loads one send task by id, nil when it does not exist.
func (s *GormStore) GetTask(ctx context.Context, id string) (*models.SendTask, error) {
	task, err := models.GetSendTaskByID(id, s.db.WithContext(ctx))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetDeliveryEvent loads one delivery event by id.
func (s *GormStore) GetDeliveryEvent(ctx context.Context, id string) (*models.DeliveryEvent, error) {
	var ev models.DeliveryEvent
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// MarkEventProcessed stamps the event's processed_at column.
func (s *GormStore) MarkEventProcessed(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.DeliveryEvent{}).
		Where("id = ?", id).
		Update("processed_at", at).Error
}

// isUniqueViolation detects the postgres duplicate-key error that the live
// task partial index raises when two writers insert the same key.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key")
}
