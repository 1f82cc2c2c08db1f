package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/schedule"
)

// GormStore backs the scheduling core's persistence contracts with postgres.
// Every mutation is a conditional UPDATE guarded by the expected prior
// status; a write that matches zero rows surfaces as schedule.ErrConflict
// instead of silently overwriting.
type GormStore struct {
	db *gorm.DB
}

func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var liveStatuses = []models.SendTaskStatus{
	models.SendTaskStatusScheduled,
	models.SendTaskStatusSending,
}

func (s *GormStore) ListByCampaign(ctx context.Context, campaignID string) ([]models.SendTask, error) {
	var tasks []models.SendTask
	err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("recipient_id, step_index, created_at").
		Find(&tasks).Error
	return tasks, err
}

func (s *GormStore) ListByRecipient(ctx context.Context, campaignID, recipientID string) ([]models.SendTask, error) {
	var tasks []models.SendTask
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND recipient_id = ?", campaignID, recipientID).
		Order("step_index, created_at").
		Find(&tasks).Error
	return tasks, err
}

func (s *GormStore) GetLive(ctx context.Context, key schedule.TaskKey) (*models.SendTask, error) {
	var task models.SendTask
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND recipient_id = ? AND step_index = ? AND status IN ?",
			key.CampaignID, key.RecipientID, key.StepIndex, liveStatuses).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *GormStore) Create(ctx context.Context, task *models.SendTask) error {
	err := s.db.WithContext(ctx).Create(task).Error
	if err != nil && isUniqueViolation(err) {
		return schedule.ErrConflict
	}
	return err
}

func (s *GormStore) Upsert(ctx context.Context, key schedule.TaskKey, expected models.SendTaskStatus, update schedule.TaskUpdate) error {
	fields := map[string]interface{}{}
	if update.Status != nil {
		fields["status"] = *update.Status
	}
	if update.AccountID != nil {
		fields["account_id"] = *update.AccountID
	}
	if update.ScheduledAt != nil {
		fields["scheduled_at"] = *update.ScheduledAt
	}
	if update.EarliestAt != nil {
		fields["earliest_at"] = *update.EarliestAt
	}
	if update.BounceClass != nil {
		fields["bounce_class"] = *update.BounceClass
	}
	if update.CancelReason != nil {
		fields["cancel_reason"] = *update.CancelReason
	}
	if len(fields) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&models.SendTask{}).
		Where("campaign_id = ? AND recipient_id = ? AND step_index = ? AND status = ?",
			key.CampaignID, key.RecipientID, key.StepIndex, expected).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return schedule.ErrConflict
	}
	return nil
}

func (s *GormStore) CancelTask(ctx context.Context, id string, expected models.SendTaskStatus, reason string) error {
	res := s.db.WithContext(ctx).Model(&models.SendTask{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]interface{}{
			"status":        models.SendTaskStatusSkipped,
			"cancel_reason": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return schedule.ErrConflict
	}
	return nil
}

func (s *GormStore) ListDue(ctx context.Context, now time.Time, limit int) ([]models.SendTask, error) {
	var tasks []models.SendTask
	err := s.db.WithContext(ctx).
		Joins("JOIN campaigns ON campaigns.id = send_tasks.campaign_id").
		Where("send_tasks.status = ? AND send_tasks.scheduled_at <= ? AND campaigns.status = ?",
			models.SendTaskStatusScheduled, now, models.CampaignStatusActive).
		Order("send_tasks.scheduled_at ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

func (s *GormStore) Aggregate(ctx context.Context, campaignID string) (*models.CampaignAggregate, error) {
	type row struct {
		Status models.SendTaskStatus
		N      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.SendTask{}).
		Select("status, count(*) as n").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	agg := &models.CampaignAggregate{CampaignID: campaignID}
	for _, r := range rows {
		switch r.Status {
		case models.SendTaskStatusScheduled, models.SendTaskStatusSending:
			agg.Scheduled += r.N
		case models.SendTaskStatusSent:
			agg.Sent += r.N
		case models.SendTaskStatusBounced:
			agg.Bounced += r.N
		case models.SendTaskStatusSkipped:
			agg.Skipped += r.N
		}
	}
	agg.BounceRate = agg.ComputeBounceRate()
	return agg, nil
}
