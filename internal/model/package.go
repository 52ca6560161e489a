package model

import "time"

type PackageStatus string

const (
	PackageStatusActive    PackageStatus = "active"
	PackageStatusExhausted PackageStatus = "exhausted" // Занятия закончились
	PackageStatusExpired   PackageStatus = "expired"   // Срок действия истёк
	PackageStatusRefunded  PackageStatus = "refunded"
)

// StudentPackage пакет занятий, купленный студентом.
// Инварианты остатка (remaining >= 0, remaining + used == purchased)
// продублированы CHECK-ограничениями в БД; любые изменения счётчиков
// идут только через guarded-апдейты в PackageRepository.
type StudentPackage struct {
	ID        int64 `json:"id"`
	StudentID int64 `json:"student_id"`
	TutorID   int64 `json:"tutor_id"`

	SessionsPurchased int `json:"sessions_purchased"`
	SessionsRemaining int `json:"sessions_remaining"`
	SessionsUsed      int `json:"sessions_used"`

	Status PackageStatus `json:"status"`

	// RollingValidity: списание занятия пересчитывает expires_at от "сейчас"
	RollingValidity bool       `json:"rolling_validity"`
	ValidityDays    int        `json:"validity_days"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
