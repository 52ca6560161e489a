package repository

import (
	"context"
	"fmt"

	"github.com/lessonhub/lessonhub/internal/model"
	"github.com/lessonhub/lessonhub/internal/repository/base"
)

const packageColumns = `id, student_id, tutor_id,
		sessions_purchased, sessions_remaining, sessions_used,
		status, rolling_validity, validity_days, expires_at, created_at, updated_at`

type PackageRepository struct {
	db base.DBTX
}

func NewPackageRepository(db base.DBTX) *PackageRepository {
	return &PackageRepository{db: db}
}

// Create создаёт пакет при покупке
func (r *PackageRepository) Create(ctx context.Context, p *model.StudentPackage) error {
	query := `
		INSERT INTO student_packages (student_id, tutor_id, sessions_purchased, sessions_remaining, sessions_used, status, rolling_validity, validity_days, expires_at)
		VALUES ($1, $2, $3, $3, 0, $4, $5, $6, $7)
		RETURNING id, sessions_remaining, sessions_used, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		p.StudentID,
		p.TutorID,
		p.SessionsPurchased,
		p.Status,
		p.RollingValidity,
		p.ValidityDays,
		p.ExpiresAt,
	).Scan(&p.ID, &p.SessionsRemaining, &p.SessionsUsed, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create package: %w", err)
	}
	return nil
}

// GetByID получает пакет по ID
func (r *PackageRepository) GetByID(ctx context.Context, id int64) (*model.StudentPackage, error) {
	query := `SELECT ` + packageColumns + ` FROM student_packages WHERE id = $1`

	var p model.StudentPackage
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.StudentID,
		&p.TutorID,
		&p.SessionsPurchased,
		&p.SessionsRemaining,
		&p.SessionsUsed,
		&p.Status,
		&p.RollingValidity,
		&p.ValidityDays,
		&p.ExpiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get package by id: %w", err)
	}

	return &p, nil
}

// ConsumeCredit списывает одно занятие одним guarded-апдейтом.
// Никакого read-then-write: условие на остаток, статус и владельца
// сидит в WHERE, сигнал успеха — количество затронутых строк.
// Для rolling-пакетов expires_at пересчитывается тем же стейтментом.
func (r *PackageRepository) ConsumeCredit(ctx context.Context, packageID, expectedStudentID int64) (bool, error) {
	query := `
		UPDATE student_packages
		SET sessions_remaining = sessions_remaining - 1,
			sessions_used = sessions_used + 1,
			expires_at = CASE
				WHEN rolling_validity THEN now() + make_interval(days => validity_days)
				ELSE expires_at
			END,
			updated_at = now()
		WHERE id = $1
		  AND student_id = $2
		  AND status = 'active'
		  AND sessions_remaining > 0
		  AND (expires_at IS NULL OR expires_at > now())
	`

	tag, err := r.db.Exec(ctx, query, packageID, expectedStudentID)
	if err != nil {
		return false, fmt.Errorf("consume credit: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// RestoreCredit возвращает занятие при отмене/возврате.
// Guard не даёт восстановить больше, чем было куплено.
func (r *PackageRepository) RestoreCredit(ctx context.Context, packageID, expectedStudentID int64) (bool, error) {
	query := `
		UPDATE student_packages
		SET sessions_remaining = sessions_remaining + 1,
			sessions_used = sessions_used - 1,
			status = CASE WHEN status = 'exhausted' THEN 'active' ELSE status END,
			updated_at = now()
		WHERE id = $1
		  AND student_id = $2
		  AND sessions_used > 0
		  AND sessions_remaining < sessions_purchased
	`

	tag, err := r.db.Exec(ctx, query, packageID, expectedStudentID)
	if err != nil {
		return false, fmt.Errorf("restore credit: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// MarkExhaustedIfDrained переводит пакет в exhausted, когда остаток ноль.
// Намеренно отдельный стейтмент: неудачное списание никогда не должно
// преждевременно пометить пакет исчерпанным.
func (r *PackageRepository) MarkExhaustedIfDrained(ctx context.Context, packageID int64) (bool, error) {
	query := `
		UPDATE student_packages
		SET status = 'exhausted', updated_at = now()
		WHERE id = $1 AND status = 'active' AND sessions_remaining = 0
	`

	tag, err := r.db.Exec(ctx, query, packageID)
	if err != nil {
		return false, fmt.Errorf("mark package exhausted: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
