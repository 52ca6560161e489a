package lock

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_Success(t *testing.T) {
	client, mock := redismock.NewClientMock()
	locker := NewAdvisoryLocker(client, 2*time.Minute)

	mock.Regexp().ExpectSetNX("sweep_lock:expire_requests", `[0-9a-f-]{36}`, 2*time.Minute).SetVal(true)

	lease, err := locker.Acquire(context.Background(), "expire_requests")
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "sweep_lock:expire_requests", lease.key)
	assert.NotEmpty(t, lease.token)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquire_HeldElsewhere(t *testing.T) {
	client, mock := redismock.NewClientMock()
	locker := NewAdvisoryLocker(client, time.Minute)

	mock.Regexp().ExpectSetNX("sweep_lock:start_sessions", `.+`, time.Minute).SetVal(false)

	lease, err := locker.Acquire(context.Background(), "start_sessions")
	assert.ErrorIs(t, err, ErrHeldElsewhere)
	assert.Nil(t, lease)
}

func TestRelease_ChecksOwnershipToken(t *testing.T) {
	client, mock := redismock.NewClientMock()
	locker := NewAdvisoryLocker(client, time.Minute)

	lease := &Lease{locker: locker, key: "sweep_lock:end_sessions", token: "my-token"}

	// Токен передаётся в скрипт: чужой лок снят не будет
	mock.ExpectEval(releaseScript, []string{"sweep_lock:end_sessions"}, "my-token").SetVal(int64(1))

	require.NoError(t, lease.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease_ExpiredAndReacquired(t *testing.T) {
	client, mock := redismock.NewClientMock()
	locker := NewAdvisoryLocker(client, time.Minute)

	lease := &Lease{locker: locker, key: "sweep_lock:end_sessions", token: "stale-token"}

	// Лок истёк и его перехватила другая реплика: скрипт вернёт 0,
	// но это не ошибка — мы просто ничего не сняли
	mock.ExpectEval(releaseScript, []string{"sweep_lock:end_sessions"}, "stale-token").SetVal(int64(0))

	assert.NoError(t, lease.Release(context.Background()))
}
