package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// RetryPolicy единая политика повторов для интерактивных путей:
// одно место вместо магических чисел, разбросанных по задачам
type RetryPolicy struct {
	MaxAttempts uint64
	BaseBackoff time.Duration
}

type Config struct {
	DBDSN          string
	RedisAddr      string
	HTTPAddr       string
	Environment    string
	MigrationsPath string

	// Интервалы свиперов
	ExpireSweepInterval time.Duration
	StartSweepInterval  time.Duration
	EndSweepInterval    time.Duration

	// Бизнес-константы жизненного цикла
	RequestTTL      time.Duration // Сколько живёт неподтверждённая заявка
	SessionEndGrace time.Duration // Грейс после end_time до авто-завершения
	SweepBatchLimit int

	// Кросс-инстансовый лок: TTL строго больше ожидаемого цикла
	AdvisoryLockTTL time.Duration

	ClockSkewThreshold     time.Duration
	ClockSkewCheckInterval time.Duration

	BusyWindowCacheTTL time.Duration

	LockRetry RetryPolicy
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		DBDSN:          os.Getenv("DB_DSN"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		Environment:    getEnv("ENV", "development"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),

		ExpireSweepInterval: getDuration("EXPIRE_SWEEP_INTERVAL", 5*time.Minute),
		StartSweepInterval:  getDuration("START_SWEEP_INTERVAL", time.Minute),
		EndSweepInterval:    getDuration("END_SWEEP_INTERVAL", time.Minute),

		RequestTTL:      getDuration("REQUEST_TTL", 24*time.Hour),
		SessionEndGrace: getDuration("SESSION_END_GRACE", 5*time.Minute),
		SweepBatchLimit: 500,

		AdvisoryLockTTL: getDuration("ADVISORY_LOCK_TTL", 2*time.Minute),

		ClockSkewThreshold:     getDuration("CLOCK_SKEW_THRESHOLD", 2*time.Second),
		ClockSkewCheckInterval: getDuration("CLOCK_SKEW_CHECK_INTERVAL", time.Minute),

		BusyWindowCacheTTL: getDuration("BUSY_WINDOW_CACHE_TTL", 5*time.Minute),

		LockRetry: RetryPolicy{
			MaxAttempts: 3,
			BaseBackoff: 50 * time.Millisecond,
		},
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required but not set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Invalid duration in %s=%q, using default %s", key, v, fallback)
		return fallback
	}
	return d
}
