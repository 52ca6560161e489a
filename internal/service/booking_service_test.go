package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lessonhub/lessonhub/internal/config"
	"github.com/lessonhub/lessonhub/internal/lifecycle"
	"github.com/lessonhub/lessonhub/internal/model"
	"github.com/lessonhub/lessonhub/internal/repository/base"
	"github.com/lessonhub/lessonhub/internal/service"
)

var testRetry = config.RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Millisecond}

func newBookingService(store *fakeStore, ledger *fakeLedger, busy *fakeBusyCache) *service.BookingService {
	return service.NewBookingService(store, ledger, busy, testRetry, zap.NewNop())
}

func requestedBooking(store *fakeStore) *model.Booking {
	return store.put(&model.Booking{
		StudentID:    10,
		TutorID:      20,
		SubjectID:    30,
		SessionState: model.SessionStateRequested,
		PaymentState: model.PaymentStatePending,
		DisputeState: model.DisputeStateNone,
		StartTime:    time.Now().Add(time.Hour),
		EndTime:      time.Now().Add(2 * time.Hour),
	})
}

func TestConfirm_Success(t *testing.T) {
	store := newFakeStore()
	busy := &fakeBusyCache{}
	svc := newBookingService(store, &fakeLedger{}, busy)

	b := requestedBooking(store)

	res, err := svc.Confirm(context.Background(), b.ID, 1)
	require.NoError(t, err)
	assert.False(t, res.NoOp)
	assert.Equal(t, model.SessionStateScheduled, res.Booking.SessionState)
	assert.Equal(t, int64(2), res.Booking.Version, "successful transition bumps version")
	assert.Equal(t, []int64{20}, busy.invalidated)
}

func TestConfirm_StaleVersion(t *testing.T) {
	store := newFakeStore()
	svc := newBookingService(store, &fakeLedger{}, &fakeBusyCache{})

	b := requestedBooking(store)
	b.Version = 3 // Кто-то уже писал после чтения клиента

	_, err := svc.Confirm(context.Background(), b.ID, 1)
	assert.ErrorIs(t, err, service.ErrStaleVersion)

	stored, _ := store.GetBooking(context.Background(), b.ID)
	assert.Equal(t, model.SessionStateRequested, stored.SessionState, "stale write must not change state")
	assert.Equal(t, int64(3), stored.Version)
}

func TestConfirm_AlreadyScheduled_IsNoOp(t *testing.T) {
	store := newFakeStore()
	svc := newBookingService(store, &fakeLedger{}, &fakeBusyCache{})

	b := requestedBooking(store)
	b.SessionState = model.SessionStateScheduled
	b.Version = 2

	res, err := svc.Confirm(context.Background(), b.ID, 2)
	require.NoError(t, err)
	assert.True(t, res.NoOp)

	stored, _ := store.GetBooking(context.Background(), b.ID)
	assert.Equal(t, int64(2), stored.Version, "idempotent no-op performs zero writes")
}

func TestConfirm_AfterExpiry_Rejected(t *testing.T) {
	store := newFakeStore()
	svc := newBookingService(store, &fakeLedger{}, &fakeBusyCache{})

	// Свипер успел первым: заявка протухла, подтверждение со старой
	// версией отлетает как InvalidTransition — expired конечное
	b := requestedBooking(store)
	b.SessionState = model.SessionStateExpired
	b.Version = 2

	_, err := svc.Confirm(context.Background(), b.ID, 2)
	var invalid *lifecycle.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, model.SessionStateExpired, invalid.From)
	assert.Equal(t, model.SessionStateScheduled, invalid.To)
}

func TestCancel_RestoresPackageCredit(t *testing.T) {
	store := newFakeStore()
	ledger := &fakeLedger{}
	svc := newBookingService(store, ledger, &fakeBusyCache{})

	pkgID := int64(7)
	b := requestedBooking(store)
	b.PackageID = &pkgID

	res, err := svc.Cancel(context.Background(), b.ID, 1, model.CancelActorStudent, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateCancelled, res.Booking.SessionState)
	require.NotNil(t, res.Booking.CancelledBy)
	assert.Equal(t, model.CancelActorStudent, *res.Booking.CancelledBy)
	assert.Equal(t, []int64{7}, ledger.restored)
}

func TestCancel_AlreadyCancelled_NoDoubleRestore(t *testing.T) {
	store := newFakeStore()
	ledger := &fakeLedger{}
	svc := newBookingService(store, ledger, &fakeBusyCache{})

	pkgID := int64(7)
	actor := model.CancelActorStudent
	b := requestedBooking(store)
	b.PackageID = &pkgID
	b.SessionState = model.SessionStateCancelled
	b.CancelledBy = &actor
	b.Version = 2

	res, err := svc.Cancel(context.Background(), b.ID, 2, model.CancelActorStudent, "again")
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Empty(t, ledger.restored, "no-op cancel must not restore credit twice")
}

func TestCancel_LockBusy_BoundedRetry(t *testing.T) {
	store := newFakeStore()
	svc := newBookingService(store, &fakeLedger{}, &fakeBusyCache{})

	b := requestedBooking(store)
	store.locked[b.ID] = true

	_, err := svc.Cancel(context.Background(), b.ID, 1, model.CancelActorStudent, "")
	assert.ErrorIs(t, err, base.ErrLockUnavailable)
	assert.Greater(t, store.lockAttempts, 1, "interactive path retries a bounded number of times")
	assert.LessOrEqual(t, store.lockAttempts, int(testRetry.MaxAttempts)+1)
}

func TestMarkNoShow_ActiveSession(t *testing.T) {
	store := newFakeStore()
	svc := newBookingService(store, &fakeLedger{}, &fakeBusyCache{})

	b := requestedBooking(store)
	b.SessionState = model.SessionStateActive
	b.Version = 3

	res, err := svc.MarkNoShow(context.Background(), b.ID, 3, model.SessionOutcomeNoShowStudent)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateEnded, res.Booking.SessionState)
	require.NotNil(t, res.Booking.SessionOutcome)
	assert.Equal(t, model.SessionOutcomeNoShowStudent, *res.Booking.SessionOutcome)
}

func TestMarkNoShow_OutcomeIsWriteOnce(t *testing.T) {
	store := newFakeStore()
	svc := newBookingService(store, &fakeLedger{}, &fakeBusyCache{})

	completed := model.SessionOutcomeCompleted
	b := requestedBooking(store)
	b.SessionState = model.SessionStateEnded
	b.SessionOutcome = &completed
	b.Version = 4

	_, err := svc.MarkNoShow(context.Background(), b.ID, 4, model.SessionOutcomeNoShowTutor)
	assert.Error(t, err)

	stored, _ := store.GetBooking(context.Background(), b.ID)
	assert.Equal(t, completed, *stored.SessionOutcome)
}

func TestMarkNoShow_RejectsNonNoShowOutcome(t *testing.T) {
	store := newFakeStore()
	svc := newBookingService(store, &fakeLedger{}, &fakeBusyCache{})

	b := requestedBooking(store)
	_, err := svc.MarkNoShow(context.Background(), b.ID, 1, model.SessionOutcomeCompleted)
	assert.Error(t, err)
}

func TestCreate_ConsumesCredit(t *testing.T) {
	store := newFakeStore()
	ledger := &fakeLedger{}
	svc := newBookingService(store, ledger, &fakeBusyCache{})

	pkgID := int64(5)
	b, err := svc.Create(context.Background(), service.CreateBookingInput{
		StudentID: 10,
		TutorID:   20,
		SubjectID: 30,
		StartTime: time.Now().Add(time.Hour),
		EndTime:   time.Now().Add(2 * time.Hour),
		PackageID: &pkgID,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateRequested, b.SessionState)
	assert.Equal(t, []int64{5}, ledger.consumed)
}

func TestCreate_CreditExhausted_NoBooking(t *testing.T) {
	store := newFakeStore()
	ledger := &fakeLedger{consumeErr: service.ErrCreditExhausted}
	svc := newBookingService(store, ledger, &fakeBusyCache{})

	pkgID := int64(5)
	_, err := svc.Create(context.Background(), service.CreateBookingInput{
		StudentID: 10,
		TutorID:   20,
		SubjectID: 30,
		StartTime: time.Now().Add(time.Hour),
		EndTime:   time.Now().Add(2 * time.Hour),
		PackageID: &pkgID,
	})
	assert.ErrorIs(t, err, service.ErrCreditExhausted)
	assert.Empty(t, store.bookings)
}

func TestCreate_StoreFails_RestoresCredit(t *testing.T) {
	store := newFakeStore()
	store.applyErr = errors.New("insert failed")
	ledger := &fakeLedger{}
	svc := newBookingService(store, ledger, &fakeBusyCache{})

	pkgID := int64(5)
	_, err := svc.Create(context.Background(), service.CreateBookingInput{
		StudentID: 10,
		TutorID:   20,
		SubjectID: 30,
		StartTime: time.Now().Add(time.Hour),
		EndTime:   time.Now().Add(2 * time.Hour),
		PackageID: &pkgID,
	})
	require.Error(t, err)
	assert.Equal(t, []int64{5}, ledger.restored, "consumed credit returns when create fails")
}

func TestSetPaymentState_ManualOnly(t *testing.T) {
	store := newFakeStore()
	svc := newBookingService(store, &fakeLedger{}, &fakeBusyCache{})

	b := requestedBooking(store)

	res, err := svc.SetPaymentState(context.Background(), b.ID, 1, model.PaymentStateAuthorized)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStateAuthorized, res.Booking.PaymentState)
	assert.Equal(t, model.SessionStateRequested, res.Booking.SessionState, "payment axis never drags session axis")

	_, err = svc.SetPaymentState(context.Background(), b.ID, res.Booking.Version, model.PaymentStatePending)
	assert.Error(t, err, "payment axis is forward-only")
}
