package tasks

import (
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Server handles task processing
type Server struct {
	server  *asynq.Server
	handler *TaskHandler
	logger  *zap.Logger
}

// NewServer creates a new task processing server
func NewServer(redisAddr, username, password string, db, concurrency int, handler *TaskHandler, logger *zap.Logger) *Server {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisAddr,
			Username: username,
			Password: password,
			DB:       db,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			StrictPriority: true,
		},
	)

	return &Server{
		server:  server,
		handler: handler,
		logger:  logger,
	}
}

// Start starts the task processing server. Note TaskTypeEmailSend is not
// registered: the transport worker consumes that queue in its own process.
func (s *Server) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeCampaignReconcile, s.handler.HandleCampaignReconcile)
	mux.HandleFunc(TaskTypeFollowUpSchedule, s.handler.HandleFollowUpSchedule)
	mux.HandleFunc(TaskTypeEventProcess, s.handler.HandleEventProcess)

	s.logger.Info("starting task processing server",
		zap.Strings("task_types", []string{
			TaskTypeCampaignReconcile,
			TaskTypeFollowUpSchedule,
			TaskTypeEventProcess,
		}),
	)

	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start task server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the task processing server
func (s *Server) Shutdown() {
	s.logger.Info("shutting down task processing server")
	s.server.Shutdown()
}
