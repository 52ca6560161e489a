package service_test

import (
	"context"
	"time"

	"github.com/lessonhub/lessonhub/internal/model"
	"github.com/lessonhub/lessonhub/internal/repository"
	"github.com/lessonhub/lessonhub/internal/repository/base"
)

// fakeStore in-memory замена BookingStore: та же семантика
// коммита-на-nil и отката-на-ошибке, что у транзакционной обвязки
type fakeStore struct {
	bookings map[int64]*model.Booking
	nextID   int64

	// locked имитирует строку, занятую другой транзакцией
	locked map[int64]bool

	lockAttempts int
	applyErr     error

	expiredIDs []int64
	dueIDs     []int64
	overdueIDs []int64
	scanCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bookings: make(map[int64]*model.Booking),
		locked:   make(map[int64]bool),
		nextID:   1,
	}
}

func (f *fakeStore) put(b *model.Booking) *model.Booking {
	if b.ID == 0 {
		b.ID = f.nextID
		f.nextID++
	}
	if b.Version == 0 {
		b.Version = 1
	}
	f.bookings[b.ID] = b
	return b
}

func (f *fakeStore) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

func (f *fakeStore) CreateBooking(ctx context.Context, booking *model.Booking) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	booking.CreatedAt = time.Now()
	booking.UpdatedAt = booking.CreatedAt
	f.put(booking)
	return nil
}

func (f *fakeStore) WithBookingLocked(
	ctx context.Context,
	id int64,
	wait bool,
	fn func(ctx context.Context, booking *model.Booking, mut repository.BookingMutator) error,
) error {
	f.lockAttempts++

	if f.locked[id] {
		return base.ErrLockUnavailable
	}

	b, ok := f.bookings[id]
	if !ok {
		return repository.ErrBookingNotFound
	}

	// Работаем над копией: откат при ошибке fn, коммит при nil
	copied := *b
	if err := fn(ctx, &copied, f); err != nil {
		return err
	}
	f.bookings[id] = &copied
	return nil
}

func (f *fakeStore) ApplySessionState(ctx context.Context, booking *model.Booking, upd repository.SessionStateUpdate) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	booking.SessionState = upd.Target
	if upd.Outcome != nil {
		booking.SessionOutcome = upd.Outcome
	}
	if upd.CancelledBy != nil {
		booking.CancelledBy = upd.CancelledBy
		booking.CancelReason = upd.CancelReason
		now := time.Now()
		booking.CancelledAt = &now
	}
	booking.Version++
	return nil
}

func (f *fakeStore) ApplySessionOutcome(ctx context.Context, booking *model.Booking, outcome model.SessionOutcome) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	booking.SessionOutcome = &outcome
	booking.Version++
	return nil
}

func (f *fakeStore) ApplyPaymentState(ctx context.Context, booking *model.Booking, target model.PaymentState) error {
	booking.PaymentState = target
	booking.Version++
	return nil
}

func (f *fakeStore) ApplyDisputeState(ctx context.Context, booking *model.Booking, target model.DisputeState) error {
	booking.DisputeState = target
	booking.Version++
	return nil
}

func (f *fakeStore) FindExpiredRequestIDs(ctx context.Context, ttl time.Duration, limit int) ([]int64, error) {
	f.scanCalls++
	return f.expiredIDs, nil
}

func (f *fakeStore) FindDueToStartIDs(ctx context.Context, limit int) ([]int64, error) {
	f.scanCalls++
	return f.dueIDs, nil
}

func (f *fakeStore) FindOverdueActiveIDs(ctx context.Context, grace time.Duration, limit int) ([]int64, error) {
	f.scanCalls++
	return f.overdueIDs, nil
}

// fakeLedger запоминает вызовы списания и возврата
type fakeLedger struct {
	consumeErr error
	restoreErr error
	consumed   []int64
	restored   []int64
}

func (f *fakeLedger) Consume(ctx context.Context, packageID, studentID int64) error {
	if f.consumeErr != nil {
		return f.consumeErr
	}
	f.consumed = append(f.consumed, packageID)
	return nil
}

func (f *fakeLedger) Restore(ctx context.Context, packageID, studentID int64) error {
	if f.restoreErr != nil {
		return f.restoreErr
	}
	f.restored = append(f.restored, packageID)
	return nil
}

// fakeBusyCache запоминает сбросы кэша занятых окон
type fakeBusyCache struct {
	invalidated []int64
}

func (f *fakeBusyCache) Invalidate(ctx context.Context, tutorID int64) error {
	f.invalidated = append(f.invalidated, tutorID)
	return nil
}
