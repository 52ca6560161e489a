package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lessonhub/lessonhub/internal/model"
)

// packageStore guarded-операции над пакетом занятий
type packageStore interface {
	Create(ctx context.Context, p *model.StudentPackage) error
	GetByID(ctx context.Context, id int64) (*model.StudentPackage, error)
	ConsumeCredit(ctx context.Context, packageID, expectedStudentID int64) (bool, error)
	RestoreCredit(ctx context.Context, packageID, expectedStudentID int64) (bool, error)
	MarkExhaustedIfDrained(ctx context.Context, packageID int64) (bool, error)
}

// PackageService леджер занятий пакета. Счётчики меняются только
// атомарными guarded-апдейтами в репозитории; сервис добавляет
// точную диагностику при нулевом числе затронутых строк.
type PackageService struct {
	repo   packageStore
	logger *zap.Logger
}

func NewPackageService(repo packageStore, logger *zap.Logger) *PackageService {
	return &PackageService{repo: repo, logger: logger}
}

type PurchasePackageInput struct {
	StudentID       int64
	TutorID         int64
	Sessions        int
	RollingValidity bool
	ValidityDays    int
	ExpiresAt       *time.Time
}

// Purchase создаёт пакет при покупке
func (s *PackageService) Purchase(ctx context.Context, in PurchasePackageInput) (*model.StudentPackage, error) {
	if in.Sessions <= 0 {
		return nil, fmt.Errorf("package must contain at least one session")
	}

	p := &model.StudentPackage{
		StudentID:         in.StudentID,
		TutorID:           in.TutorID,
		SessionsPurchased: in.Sessions,
		Status:            model.PackageStatusActive,
		RollingValidity:   in.RollingValidity,
		ValidityDays:      in.ValidityDays,
		ExpiresAt:         in.ExpiresAt,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("Package purchased",
		zap.Int64("package_id", p.ID),
		zap.Int64("student_id", in.StudentID),
		zap.Int("sessions", in.Sessions),
	)
	return p, nil
}

// GetByID читает пакет
func (s *PackageService) GetByID(ctx context.Context, id int64) (*model.StudentPackage, error) {
	return s.repo.GetByID(ctx, id)
}

// Consume списывает одно занятие. Ноль затронутых строк — не системный
// сбой, а бизнес-отказ: пакет перечитывается, чтобы назвать точную причину.
func (s *PackageService) Consume(ctx context.Context, packageID, studentID int64) error {
	ok, err := s.repo.ConsumeCredit(ctx, packageID, studentID)
	if err != nil {
		return err
	}

	if !ok {
		return s.explainConsumeFailure(ctx, packageID, studentID)
	}

	// Отдельный шаг: неудачное списание никогда не помечает пакет
	// исчерпанным, а удачное последнее — помечает
	if flipped, err := s.repo.MarkExhaustedIfDrained(ctx, packageID); err != nil {
		s.logger.Warn("Failed to check package exhaustion",
			zap.Int64("package_id", packageID),
			zap.Error(err),
		)
	} else if flipped {
		s.logger.Info("Package exhausted", zap.Int64("package_id", packageID))
	}

	s.logger.Info("Credit consumed",
		zap.Int64("package_id", packageID),
		zap.Int64("student_id", studentID),
	)
	return nil
}

// Restore возвращает занятие в пакет при отмене или возврате средств
func (s *PackageService) Restore(ctx context.Context, packageID, studentID int64) error {
	ok, err := s.repo.RestoreCredit(ctx, packageID, studentID)
	if err != nil {
		return err
	}

	if !ok {
		p, err := s.repo.GetByID(ctx, packageID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: package %d not found", ErrCreditUnavailable, packageID)
		}
		if p.StudentID != studentID {
			return fmt.Errorf("%w: package %d belongs to another student", ErrCreditUnavailable, packageID)
		}
		// Guard не даёт вернуть больше, чем когда-либо было списано
		return fmt.Errorf("%w: nothing to restore on package %d", ErrCreditUnavailable, packageID)
	}

	s.logger.Info("Credit restored",
		zap.Int64("package_id", packageID),
		zap.Int64("student_id", studentID),
	)
	return nil
}

// explainConsumeFailure перечитывает пакет после нулевого апдейта:
// исчерпан, истёк, чужой — или последнее занятие увела гонка
func (s *PackageService) explainConsumeFailure(ctx context.Context, packageID, studentID int64) error {
	p, err := s.repo.GetByID(ctx, packageID)
	if err != nil {
		return err
	}

	switch {
	case p == nil:
		return fmt.Errorf("%w: package %d not found", ErrCreditUnavailable, packageID)
	case p.StudentID != studentID:
		return fmt.Errorf("%w: package %d belongs to another student", ErrCreditUnavailable, packageID)
	case p.Status == model.PackageStatusExhausted || p.SessionsRemaining == 0:
		return fmt.Errorf("%w: package %d", ErrCreditExhausted, packageID)
	case p.Status == model.PackageStatusExpired,
		p.ExpiresAt != nil && !p.ExpiresAt.After(time.Now()):
		return fmt.Errorf("%w: package %d has expired", ErrCreditUnavailable, packageID)
	default:
		return fmt.Errorf("%w: package %d status %s", ErrCreditUnavailable, packageID, p.Status)
	}
}
