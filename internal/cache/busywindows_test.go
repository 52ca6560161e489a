package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_Miss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewBusyWindowCache(db, time.Minute)

	mock.ExpectGet("busy_windows:20").RedisNil()

	windows, ok, err := c.Get(context.Background(), 20)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, windows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetThenGet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewBusyWindowCache(db, time.Minute)

	start := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	windows := []BusyWindow{{Start: start, End: start.Add(time.Hour)}}
	raw, err := json.Marshal(windows)
	require.NoError(t, err)

	mock.ExpectSet("busy_windows:20", raw, time.Minute).SetVal("OK")
	require.NoError(t, c.Set(context.Background(), 20, windows))

	mock.ExpectGet("busy_windows:20").SetVal(string(raw))
	got, ok, err := c.Get(context.Background(), 20)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, windows, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidate(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewBusyWindowCache(db, time.Minute)

	mock.ExpectDel("busy_windows:20").SetVal(1)

	require.NoError(t, c.Invalidate(context.Background(), 20))
	assert.NoError(t, mock.ExpectationsWereMet())
}
