package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BusyWindow занятый интервал в календаре репетитора
type BusyWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// BusyWindowCache кэш занятых окон календаря с TTL-вытеснением.
// Явный внедряемый сервис вместо process-wide словаря: поведение
// не зависит от того, какая реплика обслужила прошлый запрос.
type BusyWindowCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewBusyWindowCache(client redis.Cmdable, ttl time.Duration) *BusyWindowCache {
	return &BusyWindowCache{client: client, ttl: ttl}
}

func busyKey(tutorID int64) string {
	return fmt.Sprintf("busy_windows:%d", tutorID)
}

// Get возвращает закэшированные окна или (nil, false) при промахе
func (c *BusyWindowCache) Get(ctx context.Context, tutorID int64) ([]BusyWindow, bool, error) {
	raw, err := c.client.Get(ctx, busyKey(tutorID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get busy windows: %w", err)
	}

	var windows []BusyWindow
	if err := json.Unmarshal(raw, &windows); err != nil {
		return nil, false, fmt.Errorf("decode busy windows: %w", err)
	}

	return windows, true, nil
}

// Set сохраняет окна на время TTL
func (c *BusyWindowCache) Set(ctx context.Context, tutorID int64, windows []BusyWindow) error {
	raw, err := json.Marshal(windows)
	if err != nil {
		return fmt.Errorf("encode busy windows: %w", err)
	}

	if err := c.client.Set(ctx, busyKey(tutorID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set busy windows: %w", err)
	}
	return nil
}

// Invalidate сбрасывает кэш репетитора после изменения его расписания
func (c *BusyWindowCache) Invalidate(ctx context.Context, tutorID int64) error {
	if err := c.client.Del(ctx, busyKey(tutorID)).Err(); err != nil {
		return fmt.Errorf("invalidate busy windows: %w", err)
	}
	return nil
}
