package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lessonhub/lessonhub/internal/lock"
	"github.com/lessonhub/lessonhub/internal/model"
	"github.com/lessonhub/lessonhub/internal/service"
)

const lockTTL = 2 * time.Minute

func newSweeper(store *fakeStore) (*service.SweeperService, redismock.ClientMock) {
	client, mock := redismock.NewClientMock()
	locker := lock.NewAdvisoryLocker(client, lockTTL)
	sweeper := service.NewSweeperService(store, locker, 24*time.Hour, 5*time.Minute, 500, zap.NewNop())
	return sweeper, mock
}

func expectLockAcquired(mock redismock.ClientMock, job string) {
	mock.Regexp().ExpectSetNX("sweep_lock:"+job, `.+`, lockTTL).SetVal(true)
}

func TestExpireRequests_Counters(t *testing.T) {
	store := newFakeStore()

	// Четыре кандидата с разной судьбой между сканом и локом
	stale := store.put(&model.Booking{SessionState: model.SessionStateRequested})
	alreadyExpired := store.put(&model.Booking{SessionState: model.SessionStateExpired})
	busy := store.put(&model.Booking{SessionState: model.SessionStateRequested})
	cancelled := store.put(&model.Booking{SessionState: model.SessionStateCancelled})

	store.locked[busy.ID] = true
	store.expiredIDs = []int64{stale.ID, alreadyExpired.ID, busy.ID, cancelled.ID, 999}

	sweeper, mock := newSweeper(store)
	expectLockAcquired(mock, service.JobExpireRequests)

	summary, err := sweeper.ExpireRequests(context.Background())
	require.NoError(t, err)

	assert.Equal(t, service.JobExpireRequests, summary.Job)
	assert.Equal(t, 5, summary.Candidates)
	assert.Equal(t, 1, summary.Succeeded)
	// Уже expired, ушедшая в cancelled и удалённая строки — чистые пропуски
	assert.Equal(t, 3, summary.SkippedAlreadyTransitioned)
	assert.Equal(t, 1, summary.SkippedLocked)
	assert.Equal(t, 0, summary.Errors)

	got, _ := store.GetBooking(context.Background(), stale.ID)
	assert.Equal(t, model.SessionStateExpired, got.SessionState)
	assert.Equal(t, int64(2), got.Version)

	gotBusy, _ := store.GetBooking(context.Background(), busy.ID)
	assert.Equal(t, model.SessionStateRequested, gotBusy.SessionState, "locked row is left for the next cycle")
}

func TestSweep_YieldsWhenAdvisoryLockHeld(t *testing.T) {
	store := newFakeStore()
	store.expiredIDs = []int64{1, 2, 3}

	sweeper, mock := newSweeper(store)
	mock.Regexp().ExpectSetNX("sweep_lock:"+service.JobExpireRequests, `.+`, lockTTL).SetVal(false)

	_, err := sweeper.ExpireRequests(context.Background())
	assert.ErrorIs(t, err, lock.ErrHeldElsewhere)
	assert.Equal(t, 0, store.scanCalls, "cycle must not scan when another instance runs it")
}

func TestStartSessions_TransitionsDueBookings(t *testing.T) {
	store := newFakeStore()
	due := store.put(&model.Booking{SessionState: model.SessionStateScheduled})
	store.dueIDs = []int64{due.ID}

	sweeper, mock := newSweeper(store)
	expectLockAcquired(mock, service.JobStartSessions)

	summary, err := sweeper.StartSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	got, _ := store.GetBooking(context.Background(), due.ID)
	assert.Equal(t, model.SessionStateActive, got.SessionState)
}

func TestEndSessions_SetsCompletedOutcome(t *testing.T) {
	store := newFakeStore()
	overdue := store.put(&model.Booking{SessionState: model.SessionStateActive})
	store.overdueIDs = []int64{overdue.ID}

	sweeper, mock := newSweeper(store)
	expectLockAcquired(mock, service.JobEndSessions)

	summary, err := sweeper.EndSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	got, _ := store.GetBooking(context.Background(), overdue.ID)
	assert.Equal(t, model.SessionStateEnded, got.SessionState)
	require.NotNil(t, got.SessionOutcome)
	assert.Equal(t, model.SessionOutcomeCompleted, *got.SessionOutcome,
		"sweeper never infers no-show, default outcome is completed")
}

func TestSweep_RowErrorDoesNotAbortBatch(t *testing.T) {
	store := newFakeStore()
	first := store.put(&model.Booking{SessionState: model.SessionStateRequested})
	second := store.put(&model.Booking{SessionState: model.SessionStateRequested})
	store.expiredIDs = []int64{first.ID, second.ID}
	store.applyErr = errors.New("constraint violation")

	sweeper, mock := newSweeper(store)
	expectLockAcquired(mock, service.JobExpireRequests)

	summary, err := sweeper.ExpireRequests(context.Background())
	require.NoError(t, err, "per-row failures never fail the cycle")
	assert.Equal(t, 2, summary.Errors)
	assert.Equal(t, 2, store.lockAttempts, "batch continues past a failing row")
}

func TestRunJob_UnknownName(t *testing.T) {
	store := newFakeStore()
	sweeper, _ := newSweeper(store)

	_, err := sweeper.RunJob(context.Background(), "defrag_disk")
	assert.Error(t, err)
}
