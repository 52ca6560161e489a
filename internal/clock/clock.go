package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Clock единый источник "сейчас" для всех сравнений времени.
// Время берётся у сервера БД, а не у процесса: реплики сервиса
// могут расходиться по часам, база — общая для всех.
type Clock struct {
	pool *pgxpool.Pool
}

func NewClock(pool *pgxpool.Pool) *Clock {
	return &Clock{pool: pool}
}

// Now возвращает текущее время сервера БД
func (c *Clock) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := c.pool.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("read database time: %w", err)
	}
	return now, nil
}

// SkewMonitor периодически сравнивает время процесса с временем БД.
// Расхождение за порогом — предупреждение в лог, не остановка:
// вспомогательные проверки не должны блокировать механику бронирований.
type SkewMonitor struct {
	clock     *Clock
	logger    *zap.Logger
	threshold time.Duration
	interval  time.Duration
	stopChan  chan struct{}
}

func NewSkewMonitor(clock *Clock, logger *zap.Logger, threshold, interval time.Duration) *SkewMonitor {
	return &SkewMonitor{
		clock:     clock,
		logger:    logger,
		threshold: threshold,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start запускает фоновую проверку расхождения часов
func (m *SkewMonitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop останавливает мониторинг
func (m *SkewMonitor) Stop() {
	close(m.stopChan)
}

func (m *SkewMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check(ctx)
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *SkewMonitor) check(ctx context.Context) {
	local := time.Now()
	dbNow, err := m.clock.Now(ctx)
	if err != nil {
		m.logger.Warn("Clock skew check failed", zap.Error(err))
		return
	}

	skew := local.Sub(dbNow)
	if skew < 0 {
		skew = -skew
	}

	if skew > m.threshold {
		m.logger.Warn("Process clock drifts from database clock",
			zap.Duration("skew", skew),
			zap.Duration("threshold", m.threshold),
		)
	}
}
