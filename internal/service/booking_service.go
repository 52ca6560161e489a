package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/lessonhub/lessonhub/internal/config"
	"github.com/lessonhub/lessonhub/internal/lifecycle"
	"github.com/lessonhub/lessonhub/internal/model"
	"github.com/lessonhub/lessonhub/internal/repository"
	"github.com/lessonhub/lessonhub/internal/repository/base"
)

// bookingStore транзакционный доступ к строкам броней
type bookingStore interface {
	GetBooking(ctx context.Context, id int64) (*model.Booking, error)
	CreateBooking(ctx context.Context, booking *model.Booking) error
	WithBookingLocked(ctx context.Context, id int64, wait bool, fn func(ctx context.Context, booking *model.Booking, mut repository.BookingMutator) error) error
}

// creditLedger списание и возврат занятий пакета
type creditLedger interface {
	Consume(ctx context.Context, packageID, studentID int64) error
	Restore(ctx context.Context, packageID, studentID int64) error
}

// busyInvalidator сброс кэша занятых окон репетитора
type busyInvalidator interface {
	Invalidate(ctx context.Context, tutorID int64) error
}

// TransitionResult итог интерактивного перехода
type TransitionResult struct {
	Booking *model.Booking
	// NoOp: бронь уже была в целевом состоянии, записи не было
	NoOp bool
}

// BookingService интерактивные операции над жизненным циклом брони.
// Каждая операция: лок строки (ограниченное ожидание), проверка версии,
// state machine, запись с инкрементом версии.
type BookingService struct {
	store     bookingStore
	ledger    creditLedger
	busyCache busyInvalidator
	retry     config.RetryPolicy
	logger    *zap.Logger
}

func NewBookingService(
	store bookingStore,
	ledger creditLedger,
	busyCache busyInvalidator,
	retryPolicy config.RetryPolicy,
	logger *zap.Logger,
) *BookingService {
	return &BookingService{
		store:     store,
		ledger:    ledger,
		busyCache: busyCache,
		retry:     retryPolicy,
		logger:    logger,
	}
}

type CreateBookingInput struct {
	StudentID int64
	TutorID   int64
	SubjectID int64
	StartTime time.Time
	EndTime   time.Time
	// PackageID: оплата пакетом, занятие списывается при создании
	PackageID *int64
}

// Create создаёт заявку на занятие. Если бронь оплачивается пакетом,
// сначала списывается занятие: отказ леджера — обычная бизнес-ошибка,
// бронь в этом случае не создаётся.
func (s *BookingService) Create(ctx context.Context, in CreateBookingInput) (*model.Booking, error) {
	if !in.EndTime.After(in.StartTime) {
		return nil, fmt.Errorf("end time must be after start time")
	}

	if in.PackageID != nil {
		if err := s.ledger.Consume(ctx, *in.PackageID, in.StudentID); err != nil {
			return nil, err
		}
	}

	booking := &model.Booking{
		StudentID:    in.StudentID,
		TutorID:      in.TutorID,
		SubjectID:    in.SubjectID,
		SessionState: model.SessionStateRequested,
		PaymentState: model.PaymentStatePending,
		DisputeState: model.DisputeStateNone,
		StartTime:    in.StartTime,
		EndTime:      in.EndTime,
		PackageID:    in.PackageID,
	}

	if err := s.store.CreateBooking(ctx, booking); err != nil {
		// Списанное занятие возвращаем, бронь не состоялась
		if in.PackageID != nil {
			if rerr := s.ledger.Restore(ctx, *in.PackageID, in.StudentID); rerr != nil {
				s.logger.Error("Failed to restore credit after create failure",
					zap.Int64("package_id", *in.PackageID),
					zap.Error(rerr),
				)
			}
		}
		return nil, err
	}

	s.logger.Info("Booking requested",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("student_id", in.StudentID),
		zap.Int64("tutor_id", in.TutorID),
	)

	return booking, nil
}

// GetBooking читает бронь; nil без ошибки означает "не найдена"
func (s *BookingService) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	return s.store.GetBooking(ctx, id)
}

// Confirm репетитор подтверждает заявку: requested -> scheduled
func (s *BookingService) Confirm(ctx context.Context, id, expectedVersion int64) (*TransitionResult, error) {
	res, err := s.transitionInteractive(ctx, id, expectedVersion, repository.SessionStateUpdate{
		Target: model.SessionStateScheduled,
	})
	if err != nil {
		return nil, err
	}

	s.invalidateBusyWindows(ctx, res.Booking.TutorID)

	s.logger.Info("Booking confirmed",
		zap.Int64("booking_id", id),
		zap.Int64("version", res.Booking.Version),
		zap.Bool("no_op", res.NoOp),
	)
	return res, nil
}

// Cancel отменяет бронь: requested/scheduled -> cancelled.
// Для пакетной оплаты списанное занятие возвращается в пакет.
func (s *BookingService) Cancel(ctx context.Context, id, expectedVersion int64, actor model.CancelActor, reason string) (*TransitionResult, error) {
	cancelledBy := actor
	res, err := s.transitionInteractive(ctx, id, expectedVersion, repository.SessionStateUpdate{
		Target:       model.SessionStateCancelled,
		CancelledBy:  &cancelledBy,
		CancelReason: &reason,
	})
	if err != nil {
		return nil, err
	}

	booking := res.Booking
	if !res.NoOp && booking.PackageID != nil {
		if rerr := s.ledger.Restore(ctx, *booking.PackageID, booking.StudentID); rerr != nil {
			// Отмена уже зафиксирована; невозвращённое занятие — инцидент
			// для разбора, а не причина откатывать отмену
			s.logger.Error("Failed to restore credit after cancellation",
				zap.Int64("booking_id", id),
				zap.Int64("package_id", *booking.PackageID),
				zap.Error(rerr),
			)
		}
	}

	s.invalidateBusyWindows(ctx, booking.TutorID)

	s.logger.Info("Booking cancelled",
		zap.Int64("booking_id", id),
		zap.String("cancelled_by", string(actor)),
		zap.Bool("no_op", res.NoOp),
	)
	return res, nil
}

// Decline репетитор отклоняет заявку; по сути отмена от имени репетитора
func (s *BookingService) Decline(ctx context.Context, id, expectedVersion int64, reason string) (*TransitionResult, error) {
	return s.Cancel(ctx, id, expectedVersion, model.CancelActorTutor, reason)
}

// MarkNoShow фиксирует неявку: активное занятие завершается с итогом
// неявки, у уже завершённого итог дописывается, если ещё не был записан
func (s *BookingService) MarkNoShow(ctx context.Context, id, expectedVersion int64, outcome model.SessionOutcome) (*TransitionResult, error) {
	if outcome != model.SessionOutcomeNoShowStudent && outcome != model.SessionOutcomeNoShowTutor {
		return nil, fmt.Errorf("outcome %s is not a no-show outcome", outcome)
	}

	var result TransitionResult
	err := s.withLockRetry(ctx, id, func(ctx context.Context, booking *model.Booking, mut repository.BookingMutator) error {
		if booking.Version != expectedVersion {
			return ErrStaleVersion
		}

		switch booking.SessionState {
		case model.SessionStateActive:
			if err := mut.ApplySessionState(ctx, booking, repository.SessionStateUpdate{
				Target:  model.SessionStateEnded,
				Outcome: &outcome,
			}); err != nil {
				return err
			}
		case model.SessionStateEnded:
			if !lifecycle.OutcomeAllowed(booking.SessionState, booking.SessionOutcome) {
				if booking.SessionOutcome != nil && *booking.SessionOutcome == outcome {
					result.NoOp = true
					break
				}
				return fmt.Errorf("outcome already recorded for booking %d", booking.ID)
			}
			if err := mut.ApplySessionOutcome(ctx, booking, outcome); err != nil {
				return err
			}
		default:
			return &lifecycle.InvalidTransitionError{From: booking.SessionState, To: model.SessionStateEnded}
		}

		result.Booking = booking
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("No-show recorded",
		zap.Int64("booking_id", id),
		zap.String("outcome", string(outcome)),
	)
	return &result, nil
}

// SetPaymentState ручной переход оси оплаты (админ/платёжный поток)
func (s *BookingService) SetPaymentState(ctx context.Context, id, expectedVersion int64, target model.PaymentState) (*TransitionResult, error) {
	var result TransitionResult
	err := s.withLockRetry(ctx, id, func(ctx context.Context, booking *model.Booking, mut repository.BookingMutator) error {
		if booking.Version != expectedVersion {
			return ErrStaleVersion
		}

		out, err := lifecycle.AttemptPayment(booking.PaymentState, target)
		if err != nil {
			return err
		}
		if out.AlreadyInTarget {
			result.Booking, result.NoOp = booking, true
			return nil
		}

		if err := mut.ApplyPaymentState(ctx, booking, target); err != nil {
			return err
		}
		result.Booking = booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SetDisputeState ручной переход оси спора (только админ)
func (s *BookingService) SetDisputeState(ctx context.Context, id, expectedVersion int64, target model.DisputeState) (*TransitionResult, error) {
	var result TransitionResult
	err := s.withLockRetry(ctx, id, func(ctx context.Context, booking *model.Booking, mut repository.BookingMutator) error {
		if booking.Version != expectedVersion {
			return ErrStaleVersion
		}

		out, err := lifecycle.AttemptDispute(booking.DisputeState, target)
		if err != nil {
			return err
		}
		if out.AlreadyInTarget {
			result.Booking, result.NoOp = booking, true
			return nil
		}

		if err := mut.ApplyDisputeState(ctx, booking, target); err != nil {
			return err
		}
		result.Booking = booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// transitionInteractive общий путь интерактивного перехода session_state:
// версия сверяется с той, что видел клиент, переход — по графу
func (s *BookingService) transitionInteractive(ctx context.Context, id, expectedVersion int64, upd repository.SessionStateUpdate) (*TransitionResult, error) {
	var result TransitionResult
	err := s.withLockRetry(ctx, id, func(ctx context.Context, booking *model.Booking, mut repository.BookingMutator) error {
		if booking.Version != expectedVersion {
			return ErrStaleVersion
		}

		out, err := lifecycle.Attempt(booking.SessionState, upd.Target, lifecycle.ActorInteractive)
		if err != nil {
			return err
		}
		if out.AlreadyInTarget {
			result.Booking, result.NoOp = booking, true
			return nil
		}

		if err := mut.ApplySessionState(ctx, booking, upd); err != nil {
			return err
		}
		result.Booking = booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// withLockRetry берёт неблокирующий лок с ограниченным числом повторов:
// человек ждёт синхронно, но никогда не бесконечно
func (s *BookingService) withLockRetry(ctx context.Context, id int64, fn func(ctx context.Context, booking *model.Booking, mut repository.BookingMutator) error) error {
	backoff := retry.WithMaxRetries(s.retry.MaxAttempts, retry.NewFibonacci(s.retry.BaseBackoff))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.store.WithBookingLocked(ctx, id, false, fn)
		if errors.Is(err, base.ErrLockUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *BookingService) invalidateBusyWindows(ctx context.Context, tutorID int64) {
	if err := s.busyCache.Invalidate(ctx, tutorID); err != nil {
		s.logger.Warn("Failed to invalidate busy window cache",
			zap.Int64("tutor_id", tutorID),
			zap.Error(err),
		)
	}
}
