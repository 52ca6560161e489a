package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lessonhub/lessonhub/internal/model"
	"github.com/lessonhub/lessonhub/internal/repository/base"
)

// ErrBookingNotFound брони с таким ID нет
var ErrBookingNotFound = errors.New("booking not found")

// BookingMutator операции записи, привязанные к транзакции с захваченной строкой
type BookingMutator interface {
	ApplySessionState(ctx context.Context, booking *model.Booking, upd SessionStateUpdate) error
	ApplySessionOutcome(ctx context.Context, booking *model.Booking, outcome model.SessionOutcome) error
	ApplyPaymentState(ctx context.Context, booking *model.Booking, target model.PaymentState) error
	ApplyDisputeState(ctx context.Context, booking *model.Booking, target model.DisputeState) error
}

// BookingStore транзакционная обвязка над строкой брони: одна строка —
// одна узкая транзакция захват-переход-коммит
type BookingStore struct {
	pool *pgxpool.Pool
}

func NewBookingStore(pool *pgxpool.Pool) *BookingStore {
	return &BookingStore{pool: pool}
}

// GetBooking читает бронь вне транзакции
func (s *BookingStore) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	return NewBookingRepository(s.pool).GetByID(ctx, id)
}

// CreateBooking создаёт новую бронь
func (s *BookingStore) CreateBooking(ctx context.Context, booking *model.Booking) error {
	return NewBookingRepository(s.pool).Create(ctx, booking)
}

// WithBookingLocked открывает транзакцию, берёт эксклюзивный лок на строку
// и выполняет fn с мутатором, привязанным к этой транзакции. Коммит только
// при nil от fn, откат гарантирован на любом другом пути выхода.
func (s *BookingStore) WithBookingLocked(
	ctx context.Context,
	id int64,
	wait bool,
	fn func(ctx context.Context, booking *model.Booking, mut BookingMutator) error,
) error {
	return base.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		repo := NewBookingRepository(tx)

		booking, err := repo.GetByIDForUpdate(ctx, id, wait)
		if err != nil {
			return err
		}
		if booking == nil {
			return ErrBookingNotFound
		}

		return fn(ctx, booking, repo)
	})
}

// Сканы кандидатов для свиперов, вне транзакций

func (s *BookingStore) FindExpiredRequestIDs(ctx context.Context, ttl time.Duration, limit int) ([]int64, error) {
	return NewBookingRepository(s.pool).FindExpiredRequestIDs(ctx, ttl, limit)
}

func (s *BookingStore) FindDueToStartIDs(ctx context.Context, limit int) ([]int64, error) {
	return NewBookingRepository(s.pool).FindDueToStartIDs(ctx, limit)
}

func (s *BookingStore) FindOverdueActiveIDs(ctx context.Context, grace time.Duration, limit int) ([]int64, error) {
	return NewBookingRepository(s.pool).FindOverdueActiveIDs(ctx, grace, limit)
}
