package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lessonhub/lessonhub/internal/lifecycle"
	"github.com/lessonhub/lessonhub/internal/lock"
	"github.com/lessonhub/lessonhub/internal/model"
	"github.com/lessonhub/lessonhub/internal/repository"
	"github.com/lessonhub/lessonhub/internal/repository/base"
)

// Имена задач: по ним берётся кросс-инстансовый advisory-лок
const (
	JobExpireRequests = "expire_requests"
	JobStartSessions  = "start_sessions"
	JobEndSessions    = "end_sessions"
)

// sweepStore сканы кандидатов и транзакционный доступ к строкам
type sweepStore interface {
	FindExpiredRequestIDs(ctx context.Context, ttl time.Duration, limit int) ([]int64, error)
	FindDueToStartIDs(ctx context.Context, limit int) ([]int64, error)
	FindOverdueActiveIDs(ctx context.Context, grace time.Duration, limit int) ([]int64, error)
	WithBookingLocked(ctx context.Context, id int64, wait bool, fn func(ctx context.Context, booking *model.Booking, mut repository.BookingMutator) error) error
}

// SweepSummary счётчики одного цикла: единственный контракт в сторону
// мониторинга. Ошибка отдельной строки — счётчик, а не провал цикла.
type SweepSummary struct {
	Job                        string `json:"job"`
	Candidates                 int    `json:"candidates"`
	Succeeded                  int    `json:"succeeded"`
	SkippedAlreadyTransitioned int    `json:"skipped_already_transitioned"`
	SkippedLocked              int    `json:"skipped_locked"`
	Errors                     int    `json:"errors"`
}

// SweeperService три периодические задачи: протухание заявок,
// авто-старт и авто-завершение занятий. Каждая строка обрабатывается
// в собственной транзакции; занятую строку цикл пропускает — её
// подберёт следующий цикл по свежим критериям.
type SweeperService struct {
	store      sweepStore
	locker     *lock.AdvisoryLocker
	requestTTL time.Duration
	endGrace   time.Duration
	batchLimit int
	logger     *zap.Logger
}

func NewSweeperService(
	store sweepStore,
	locker *lock.AdvisoryLocker,
	requestTTL, endGrace time.Duration,
	batchLimit int,
	logger *zap.Logger,
) *SweeperService {
	return &SweeperService{
		store:      store,
		locker:     locker,
		requestTTL: requestTTL,
		endGrace:   endGrace,
		batchLimit: batchLimit,
		logger:     logger,
	}
}

// ExpireRequests переводит заявки старше requestTTL в expired
func (s *SweeperService) ExpireRequests(ctx context.Context) (SweepSummary, error) {
	return s.sweep(ctx, JobExpireRequests,
		func(ctx context.Context) ([]int64, error) {
			return s.store.FindExpiredRequestIDs(ctx, s.requestTTL, s.batchLimit)
		},
		repository.SessionStateUpdate{Target: model.SessionStateExpired},
	)
}

// StartSessions переводит подтверждённые занятия в active с start_time
func (s *SweeperService) StartSessions(ctx context.Context) (SweepSummary, error) {
	return s.sweep(ctx, JobStartSessions,
		func(ctx context.Context) ([]int64, error) {
			return s.store.FindDueToStartIDs(ctx, s.batchLimit)
		},
		repository.SessionStateUpdate{Target: model.SessionStateActive},
	)
}

// EndSessions завершает занятия спустя end_time + grace.
// Итог всегда completed: неявки ставятся только вручную, свипер
// ничего не домысливает.
func (s *SweeperService) EndSessions(ctx context.Context) (SweepSummary, error) {
	outcome := model.SessionOutcomeCompleted
	return s.sweep(ctx, JobEndSessions,
		func(ctx context.Context) ([]int64, error) {
			return s.store.FindOverdueActiveIDs(ctx, s.endGrace, s.batchLimit)
		},
		repository.SessionStateUpdate{Target: model.SessionStateEnded, Outcome: &outcome},
	)
}

// RunJob запускает свип по имени задачи
func (s *SweeperService) RunJob(ctx context.Context, job string) (SweepSummary, error) {
	switch job {
	case JobExpireRequests:
		return s.ExpireRequests(ctx)
	case JobStartSessions:
		return s.StartSessions(ctx)
	case JobEndSessions:
		return s.EndSessions(ctx)
	default:
		return SweepSummary{}, errors.New("unknown sweep job: " + job)
	}
}

func (s *SweeperService) sweep(
	ctx context.Context,
	job string,
	scan func(ctx context.Context) ([]int64, error),
	upd repository.SessionStateUpdate,
) (SweepSummary, error) {
	summary := SweepSummary{Job: job}

	// Цикл не должен идти на двух репликах одновременно; если лок
	// занят — просто уступаем этот тик
	lease, err := s.locker.Acquire(ctx, job)
	if err != nil {
		return summary, err
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			s.logger.Warn("Failed to release sweep lock", zap.String("job", job), zap.Error(err))
		}
	}()

	ids, err := scan(ctx)
	if err != nil {
		return summary, err
	}
	summary.Candidates = len(ids)

	for _, id := range ids {
		s.applyOne(ctx, id, upd, &summary)
	}

	s.logger.Info("Sweep cycle finished",
		zap.String("job", job),
		zap.Int("candidates", summary.Candidates),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped_already_transitioned", summary.SkippedAlreadyTransitioned),
		zap.Int("skipped_locked", summary.SkippedLocked),
		zap.Int("errors", summary.Errors),
	)

	return summary, nil
}

// applyOne обрабатывает одну строку в собственной транзакции.
// Любой исход строки — счётчик; батч продолжается всегда.
func (s *SweeperService) applyOne(ctx context.Context, id int64, upd repository.SessionStateUpdate, summary *SweepSummary) {
	var noOp bool

	err := s.store.WithBookingLocked(ctx, id, false, func(ctx context.Context, booking *model.Booking, mut repository.BookingMutator) error {
		out, err := lifecycle.Attempt(booking.SessionState, upd.Target, lifecycle.ActorSweeper)
		if err != nil {
			return err
		}
		if out.AlreadyInTarget {
			noOp = true
			return nil
		}
		return mut.ApplySessionState(ctx, booking, upd)
	})

	var invalid *lifecycle.InvalidTransitionError
	switch {
	case err == nil && noOp:
		// Кто-то (человек или другая реплика) успел раньше с тем же исходом
		summary.SkippedAlreadyTransitioned++
	case err == nil:
		summary.Succeeded++
	case errors.Is(err, base.ErrLockUnavailable):
		// Строку прямо сейчас правит кто-то другой; вернёмся в следующий цикл
		summary.SkippedLocked++
	case errors.As(err, &invalid):
		// Между сканом и локом строка ушла в другое состояние — чистый отказ
		summary.SkippedAlreadyTransitioned++
	case errors.Is(err, repository.ErrBookingNotFound):
		summary.SkippedAlreadyTransitioned++
	default:
		summary.Errors++
		s.logger.Error("Sweep row failed",
			zap.Int64("booking_id", id),
			zap.String("target", string(upd.Target)),
			zap.Error(err),
		)
	}
}
