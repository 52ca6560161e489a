package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lessonhub/lessonhub/internal/config"
	"github.com/lessonhub/lessonhub/internal/lock"
	"github.com/lessonhub/lessonhub/internal/service"
)

// Scheduler управляет фоновыми свиперами жизненного цикла.
// Таймеры у каждой реплики свои; кто реально выполняет цикл,
// решает advisory-лок внутри SweeperService.
type Scheduler struct {
	sweeper  *service.SweeperService
	cfg      *config.Config
	logger   *zap.Logger
	stopChan chan struct{}
}

// NewScheduler создаёт новый планировщик
func NewScheduler(sweeper *service.SweeperService, cfg *config.Config, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		sweeper:  sweeper,
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start запускает фоновые задачи
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background sweepers")

	go s.runJob(ctx, service.JobExpireRequests, s.cfg.ExpireSweepInterval, s.sweeper.ExpireRequests)
	go s.runJob(ctx, service.JobStartSessions, s.cfg.StartSweepInterval, s.sweeper.StartSessions)
	go s.runJob(ctx, service.JobEndSessions, s.cfg.EndSweepInterval, s.sweeper.EndSessions)
}

// Stop останавливает фоновые задачи
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background sweepers")
	close(s.stopChan)
}

// runJob периодически выполняет один свип
func (s *Scheduler) runJob(ctx context.Context, name string, interval time.Duration, run func(ctx context.Context) (service.SweepSummary, error)) {
	// Первый запуск сразу при старте
	s.runOnce(ctx, name, run)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx, name, run)
		case <-s.stopChan:
			s.logger.Info("Sweep job stopped", zap.String("job", name))
			return
		case <-ctx.Done():
			s.logger.Info("Sweep job cancelled", zap.String("job", name))
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, name string, run func(ctx context.Context) (service.SweepSummary, error)) {
	_, err := run(ctx)
	if err == nil {
		return
	}

	// Лок у другой реплики — штатная ситуация, цикл просто уступил тик
	if errors.Is(err, lock.ErrHeldElsewhere) {
		s.logger.Debug("Sweep cycle yielded to another instance", zap.String("job", name))
		return
	}

	s.logger.Error("Sweep cycle failed", zap.String("job", name), zap.Error(err))
}
