package lifecycle

import (
	"fmt"

	"github.com/lessonhub/lessonhub/internal/model"
)

// Edge разрешённый переход в графе session_state
type Edge struct {
	From model.SessionState
	To   model.SessionState
	// SweeperOnly: переход выполняется только фоновым свипером, не человеком
	SweeperOnly bool
}

// Actor кто запрашивает переход
type Actor string

const (
	ActorInteractive Actor = "interactive"
	ActorSweeper     Actor = "sweeper"
)

// Граф переходов направленный, без циклов: назад пути нет
var sessionEdges = []Edge{
	{From: model.SessionStateRequested, To: model.SessionStateScheduled},
	{From: model.SessionStateRequested, To: model.SessionStateCancelled},
	{From: model.SessionStateRequested, To: model.SessionStateExpired, SweeperOnly: true},
	{From: model.SessionStateScheduled, To: model.SessionStateActive, SweeperOnly: true},
	{From: model.SessionStateScheduled, To: model.SessionStateCancelled},
	{From: model.SessionStateActive, To: model.SessionStateEnded},
}

// Оси оплаты и споров двигаются только вручную, свиперы их не трогают
var paymentEdges = map[model.PaymentState][]model.PaymentState{
	model.PaymentStatePending:    {model.PaymentStateAuthorized, model.PaymentStateVoided},
	model.PaymentStateAuthorized: {model.PaymentStateCaptured, model.PaymentStateVoided},
	model.PaymentStateCaptured:   {model.PaymentStateRefunded, model.PaymentStatePartiallyRefunded},
}

var disputeEdges = map[model.DisputeState][]model.DisputeState{
	model.DisputeStateNone: {model.DisputeStateOpen},
	model.DisputeStateOpen: {model.DisputeStateResolvedUpheld, model.DisputeStateResolvedRefunded},
}

// InvalidTransitionError запрошенного ребра нет в графе.
// Вызывающий не должен автоматически повторять попытку.
type InvalidTransitionError struct {
	From model.SessionState
	To   model.SessionState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid session transition: %s -> %s", e.From, e.To)
}

// Outcome результат попытки перехода
type Outcome struct {
	// AlreadyInTarget: бронь уже в целевом состоянии, запись не нужна.
	// Так безопасно разрешается гонка свипера и человека: кто успел
	// первым — тот и перевёл, второй получает безвредный no-op.
	AlreadyInTarget bool
}

// Attempt проверяет переход session_state по графу.
// Чистая функция: не трогает ни версию, ни оплату, ни леджер —
// побочные эффекты целиком на вызывающем.
func Attempt(current, target model.SessionState, actor Actor) (Outcome, error) {
	if current == target {
		return Outcome{AlreadyInTarget: true}, nil
	}

	for _, e := range sessionEdges {
		if e.From != current || e.To != target {
			continue
		}
		if e.SweeperOnly && actor != ActorSweeper {
			return Outcome{}, &InvalidTransitionError{From: current, To: target}
		}
		return Outcome{}, nil
	}

	return Outcome{}, &InvalidTransitionError{From: current, To: target}
}

// AttemptPayment проверяет ручной переход оси оплаты
func AttemptPayment(current, target model.PaymentState) (Outcome, error) {
	if current == target {
		return Outcome{AlreadyInTarget: true}, nil
	}
	for _, next := range paymentEdges[current] {
		if next == target {
			return Outcome{}, nil
		}
	}
	return Outcome{}, fmt.Errorf("invalid payment transition: %s -> %s", current, target)
}

// AttemptDispute проверяет ручной переход оси спора
func AttemptDispute(current, target model.DisputeState) (Outcome, error) {
	if current == target {
		return Outcome{AlreadyInTarget: true}, nil
	}
	for _, next := range disputeEdges[current] {
		if next == target {
			return Outcome{}, nil
		}
	}
	return Outcome{}, fmt.Errorf("invalid dispute transition: %s -> %s", current, target)
}

// OutcomeAllowed проверяет, что итог занятия можно записать:
// только один раз и только в конечном состоянии с фактом проведения
func OutcomeAllowed(state model.SessionState, existing *model.SessionOutcome) bool {
	if existing != nil {
		return false
	}
	return state.IsTerminal()
}
