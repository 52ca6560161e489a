package base

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX общий интерфейс для пула и транзакции: репозиторий
// не знает, внутри транзакции он работает или нет
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrLockUnavailable строка заблокирована другой транзакцией (FOR UPDATE NOWAIT)
var ErrLockUnavailable = errors.New("row lock unavailable")

// Код PostgreSQL lock_not_available
const pgLockNotAvailable = "55P03"

// IsNotFound проверяет является ли ошибка "строка не найдена"
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// MapLockError переводит 55P03 в ErrLockUnavailable, остальное отдаёт как есть
func MapLockError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return ErrLockUnavailable
	}
	return err
}

// WithTx выполняет fn внутри транзакции, узко ограниченной одной операцией:
// захват-переход-коммит для одной строки, откат на любом пути выхода
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
