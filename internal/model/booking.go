package model

import "time"

type SessionState string

const (
	SessionStateRequested SessionState = "requested" // Ожидает подтверждения репетитора
	SessionStateScheduled SessionState = "scheduled" // Подтверждено, ждёт начала
	SessionStateActive    SessionState = "active"    // Занятие идёт
	SessionStateEnded     SessionState = "ended"     // Занятие завершено
	SessionStateExpired   SessionState = "expired"   // Заявка протухла без подтверждения
	SessionStateCancelled SessionState = "cancelled" // Отменено
)

// IsTerminal сообщает, является ли состояние конечным
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionStateEnded, SessionStateExpired, SessionStateCancelled:
		return true
	}
	return false
}

type SessionOutcome string

const (
	SessionOutcomeCompleted     SessionOutcome = "completed"
	SessionOutcomeNotHeld       SessionOutcome = "not_held"
	SessionOutcomeNoShowStudent SessionOutcome = "no_show_student"
	SessionOutcomeNoShowTutor   SessionOutcome = "no_show_tutor"
)

type PaymentState string

const (
	PaymentStatePending           PaymentState = "pending"
	PaymentStateAuthorized        PaymentState = "authorized"
	PaymentStateCaptured          PaymentState = "captured"
	PaymentStateVoided            PaymentState = "voided"
	PaymentStateRefunded          PaymentState = "refunded"
	PaymentStatePartiallyRefunded PaymentState = "partially_refunded"
)

type DisputeState string

const (
	DisputeStateNone             DisputeState = "none"
	DisputeStateOpen             DisputeState = "open"
	DisputeStateResolvedUpheld   DisputeState = "resolved_upheld"
	DisputeStateResolvedRefunded DisputeState = "resolved_refunded"
)

type CancelActor string

const (
	CancelActorStudent CancelActor = "student"
	CancelActorTutor   CancelActor = "tutor"
	CancelActorAdmin   CancelActor = "admin"
	CancelActorSystem  CancelActor = "system"
)

// Booking бронирование занятия с четырьмя независимыми осями статуса.
// session_state никогда не схлопывается с payment_state/dispute_state:
// оплата и споры живут по своим графам и двигаются только вручную.
type Booking struct {
	ID        int64 `json:"id"`
	StudentID int64 `json:"student_id"`
	TutorID   int64 `json:"tutor_id"`
	SubjectID int64 `json:"subject_id"`

	SessionState   SessionState    `json:"session_state"`
	SessionOutcome *SessionOutcome `json:"session_outcome,omitempty"`
	PaymentState   PaymentState    `json:"payment_state"`
	DisputeState   DisputeState    `json:"dispute_state"`

	// Version увеличивается на каждой успешной записи (оптимистичная блокировка)
	Version int64 `json:"version"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	// PackageID указывает на пакет занятий, если бронь оплачена пакетом
	PackageID *int64 `json:"package_id,omitempty"`

	CancelledBy  *CancelActor `json:"cancelled_by,omitempty"`
	CancelReason *string      `json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time   `json:"cancelled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
