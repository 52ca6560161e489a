package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/lessonhub/lessonhub/internal/model"
	"github.com/lessonhub/lessonhub/internal/repository/base"
)

const bookingColumns = `id, student_id, tutor_id, subject_id,
		session_state, session_outcome, payment_state, dispute_state,
		version, start_time, end_time, package_id,
		cancelled_by, cancel_reason, cancelled_at, created_at, updated_at`

type BookingRepository struct {
	db base.DBTX
}

func NewBookingRepository(db base.DBTX) *BookingRepository {
	return &BookingRepository{db: db}
}

// scanBooking читает одну строку брони, разворачивая nullable-колонки
func scanBooking(row interface{ Scan(dest ...any) error }) (*model.Booking, error) {
	var b model.Booking
	var outcome, cancelledBy *string

	err := row.Scan(
		&b.ID,
		&b.StudentID,
		&b.TutorID,
		&b.SubjectID,
		&b.SessionState,
		&outcome,
		&b.PaymentState,
		&b.DisputeState,
		&b.Version,
		&b.StartTime,
		&b.EndTime,
		&b.PackageID,
		&cancelledBy,
		&b.CancelReason,
		&b.CancelledAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if outcome != nil {
		o := model.SessionOutcome(*outcome)
		b.SessionOutcome = &o
	}
	if cancelledBy != nil {
		a := model.CancelActor(*cancelledBy)
		b.CancelledBy = &a
	}
	return &b, nil
}

// Create создаёт бронь в состоянии requested
func (r *BookingRepository) Create(ctx context.Context, booking *model.Booking) error {
	query := `
		INSERT INTO bookings (student_id, tutor_id, subject_id, session_state, payment_state, dispute_state, start_time, end_time, package_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, version, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		booking.StudentID,
		booking.TutorID,
		booking.SubjectID,
		booking.SessionState,
		booking.PaymentState,
		booking.DisputeState,
		booking.StartTime,
		booking.EndTime,
		booking.PackageID,
	).Scan(&booking.ID, &booking.Version, &booking.CreatedAt, &booking.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}

	return nil
}

// GetByID получает бронь по ID
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking, err := scanBooking(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}

	return booking, nil
}

// GetByIDForUpdate блокирует строку брони на время текущей транзакции.
// При wait=false блокировка неблокирующая: если строку держит другая
// транзакция, сразу возвращается base.ErrLockUnavailable и вызывающий
// пропускает строку до следующего цикла.
func (r *BookingRepository) GetByIDForUpdate(ctx context.Context, id int64, wait bool) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	if !wait {
		query += ` NOWAIT`
	}

	booking, err := scanBooking(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		if mapped := base.MapLockError(err); mapped == base.ErrLockUnavailable {
			return nil, mapped
		}
		return nil, fmt.Errorf("lock booking for update: %w", err)
	}

	return booking, nil
}

// SessionStateUpdate параметры записи перехода session_state
type SessionStateUpdate struct {
	Target       model.SessionState
	Outcome      *model.SessionOutcome
	CancelledBy  *model.CancelActor
	CancelReason *string
}

// ApplySessionState записывает переход, увеличивая версию.
// WHERE сверяет версию: если строка успела измениться, запись
// не проходит и это ошибка вызывающего.
func (r *BookingRepository) ApplySessionState(ctx context.Context, booking *model.Booking, upd SessionStateUpdate) error {
	query := `
		UPDATE bookings
		SET session_state = $1,
			session_outcome = COALESCE($2, session_outcome),
			cancelled_by = COALESCE($3, cancelled_by),
			cancel_reason = COALESCE($4, cancel_reason),
			cancelled_at = CASE WHEN $3::text IS NOT NULL THEN now() ELSE cancelled_at END,
			version = version + 1,
			updated_at = now()
		WHERE id = $5 AND version = $6
		RETURNING version, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		upd.Target,
		upd.Outcome,
		upd.CancelledBy,
		upd.CancelReason,
		booking.ID,
		booking.Version,
	).Scan(&booking.Version, &booking.UpdatedAt)

	if err != nil {
		if base.IsNotFound(err) {
			return fmt.Errorf("apply session state: booking %d changed underneath", booking.ID)
		}
		return fmt.Errorf("apply session state: %w", err)
	}

	booking.SessionState = upd.Target
	if upd.Outcome != nil {
		booking.SessionOutcome = upd.Outcome
	}
	if upd.CancelledBy != nil {
		booking.CancelledBy = upd.CancelledBy
		booking.CancelReason = upd.CancelReason
	}

	return nil
}

// ApplySessionOutcome записывает итог занятия. Итог пишется один раз:
// WHERE требует session_outcome IS NULL, повторная запись не пройдёт.
func (r *BookingRepository) ApplySessionOutcome(ctx context.Context, booking *model.Booking, outcome model.SessionOutcome) error {
	query := `
		UPDATE bookings
		SET session_outcome = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND version = $3 AND session_outcome IS NULL
		RETURNING version, updated_at
	`

	err := r.db.QueryRow(ctx, query, outcome, booking.ID, booking.Version).
		Scan(&booking.Version, &booking.UpdatedAt)
	if err != nil {
		if base.IsNotFound(err) {
			return fmt.Errorf("apply session outcome: outcome already set for booking %d", booking.ID)
		}
		return fmt.Errorf("apply session outcome: %w", err)
	}

	booking.SessionOutcome = &outcome
	return nil
}

// ApplyPaymentState записывает ручной переход оси оплаты
func (r *BookingRepository) ApplyPaymentState(ctx context.Context, booking *model.Booking, target model.PaymentState) error {
	query := `
		UPDATE bookings
		SET payment_state = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND version = $3
		RETURNING version, updated_at
	`

	err := r.db.QueryRow(ctx, query, target, booking.ID, booking.Version).
		Scan(&booking.Version, &booking.UpdatedAt)
	if err != nil {
		if base.IsNotFound(err) {
			return fmt.Errorf("apply payment state: booking %d changed underneath", booking.ID)
		}
		return fmt.Errorf("apply payment state: %w", err)
	}

	booking.PaymentState = target
	return nil
}

// ApplyDisputeState записывает ручной переход оси спора
func (r *BookingRepository) ApplyDisputeState(ctx context.Context, booking *model.Booking, target model.DisputeState) error {
	query := `
		UPDATE bookings
		SET dispute_state = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND version = $3
		RETURNING version, updated_at
	`

	err := r.db.QueryRow(ctx, query, target, booking.ID, booking.Version).
		Scan(&booking.Version, &booking.UpdatedAt)
	if err != nil {
		if base.IsNotFound(err) {
			return fmt.Errorf("apply dispute state: booking %d changed underneath", booking.ID)
		}
		return fmt.Errorf("apply dispute state: %w", err)
	}

	booking.DisputeState = target
	return nil
}

// Кандидаты для свиперов. Время сравнивается с now() сервера БД,
// а не процесса — реплики сервиса могут расходиться по часам.

// FindExpiredRequestIDs находит заявки старше ttl, так и не подтверждённые
func (r *BookingRepository) FindExpiredRequestIDs(ctx context.Context, ttl time.Duration, limit int) ([]int64, error) {
	query := `
		SELECT id FROM bookings
		WHERE session_state = 'requested'
		  AND created_at < now() - make_interval(secs => $1)
		ORDER BY created_at
		LIMIT $2
	`
	return r.queryIDs(ctx, query, ttl.Seconds(), limit)
}

// FindDueToStartIDs находит подтверждённые занятия, которым пора начаться
func (r *BookingRepository) FindDueToStartIDs(ctx context.Context, limit int) ([]int64, error) {
	query := `
		SELECT id FROM bookings
		WHERE session_state = 'scheduled'
		  AND start_time <= now()
		ORDER BY start_time
		LIMIT $1
	`
	return r.queryIDs(ctx, query, limit)
}

// FindOverdueActiveIDs находит занятия, идущие дольше end_time + grace
func (r *BookingRepository) FindOverdueActiveIDs(ctx context.Context, grace time.Duration, limit int) ([]int64, error) {
	query := `
		SELECT id FROM bookings
		WHERE session_state = 'active'
		  AND end_time <= now() - make_interval(secs => $1)
		ORDER BY end_time
		LIMIT $2
	`
	return r.queryIDs(ctx, query, grace.Seconds(), limit)
}

func (r *BookingRepository) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query booking ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan booking id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
