package workers

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/config"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/tasks"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/utils/logger"
)

// Scheduler drives the periodic scans: reconcile passes for active
// campaigns, follow-up computation for freshly sent tasks, and the dispatch
// loop. It only finds work and enqueues it; the asynq handlers do the rest.
type Scheduler struct {
	cfg        *config.Config
	db         *gorm.DB
	client     *tasks.TaskClient
	dispatcher *Dispatcher
	cron       *cron.Cron
	log        *logger.Logger
}

func NewScheduler(cfg *config.Config, db *gorm.DB, client *tasks.TaskClient, dispatcher *Dispatcher) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		db:         db,
		client:     client,
		dispatcher: dispatcher,
		cron:       cron.New(),
		log:        logger.New("SCHEDULER"),
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.Scheduler.CampaignScanSpec, s.scanCampaigns); err != nil {
		return s.log.Error("failed to register campaign scan", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.Scheduler.FollowUpScanSpec, s.scanFollowUps); err != nil {
		return s.log.Error("failed to register follow-up scan", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.Scheduler.DispatchSpec, s.runDispatch); err != nil {
		return s.log.Error("failed to register dispatch loop", err)
	}

	s.cron.Start()
	s.log.Info("scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

// scanCampaigns enqueues a reconcile pass for every active campaign. The
// asynq uniqueness window swallows the redundant triggers this produces.
func (s *Scheduler) scanCampaigns() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var campaigns []models.Campaign
	err := s.db.WithContext(ctx).
		Where("status = ?", models.CampaignStatusActive).
		Find(&campaigns).Error
	if err != nil {
		s.log.Error("failed to fetch active campaigns", err)
		return
	}

	for _, campaign := range campaigns {
		err := s.client.EnqueueReconcile(ctx, tasks.ReconcileTask{
			CampaignID: campaign.ID,
			Trigger:    "poll",
		}, 0)
		if err != nil {
			s.log.Error("failed to enqueue reconcile", err)
		}
	}
}

// scanFollowUps finds sent tasks whose sequence has a next step but no task
// for it yet, and enqueues follow-up computation. This is how the core
// learns that the external sending worker completed a send.
func (s *Scheduler) scanFollowUps() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var parents []models.SendTask
	err := s.db.WithContext(ctx).Raw(`
		SELECT st.* FROM send_tasks st
		JOIN campaigns c ON c.id = st.campaign_id AND c.status = ?
		JOIN sequence_steps ss
			ON ss.campaign_id = st.campaign_id
			AND ss.step_index = st.step_index + 1
		WHERE st.status = ?
		AND NOT EXISTS (
			SELECT 1 FROM send_tasks nxt
			WHERE nxt.campaign_id = st.campaign_id
			AND nxt.recipient_id = st.recipient_id
			AND nxt.step_index = st.step_index + 1
		)
		ORDER BY st.sent_at ASC
		LIMIT ?`,
		models.CampaignStatusActive,
		models.SendTaskStatusSent,
		s.cfg.Scheduler.DispatchBatchSize,
	).Scan(&parents).Error
	if err != nil {
		s.log.Error("failed to fetch follow-up candidates", err)
		return
	}

	for _, parent := range parents {
		err := s.client.EnqueueFollowUp(ctx, tasks.FollowUpTask{
			ParentTaskID: parent.ID,
			CampaignID:   parent.CampaignID,
		})
		if err != nil {
			s.log.Error("failed to enqueue follow-up", err)
		}
	}
}

func (s *Scheduler) runDispatch() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := s.dispatcher.Dispatch(ctx, time.Now().UTC()); err != nil {
		s.log.Error("dispatch pass failed", err)
	}
}
