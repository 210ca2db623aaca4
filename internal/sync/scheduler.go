package sync

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"record-sync-service/internal/config"
	"record-sync-service/internal/logger"
)

// Scheduler drives periodic full cycles on top of the reconnect-
// and API-triggered ones. The engine's single-flight flag makes an
// overlapping tick a no-op.
type Scheduler struct {
	cfg     config.SchedulerConfig
	engine  *Engine
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, engine *Engine) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		engine: engine,
		cron:   cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Auto-sync scheduler is disabled")
		return
	}

	logger.Log.Info("Starting auto-sync scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, func() {
		s.triggerSync()
	})
	if err != nil {
		logger.Log.Error("Failed to schedule auto-sync", zap.Error(err))
		return
	}

	s.entryID = id
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped auto-sync scheduler")
}

func (s *Scheduler) triggerSync() {
	_, err := s.engine.Sync(context.Background())
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyRunning):
		logger.Log.Debug("Auto-sync skipped, cycle already running")
	case errors.Is(err, ErrNetworkUnavailable):
		logger.Log.Debug("Auto-sync skipped, network not good for sync")
	default:
		logger.Log.Error("Auto-sync cycle failed", zap.Error(err))
	}
}
