package service

import "errors"

var (
	// ErrStaleVersion версия, с которой пришёл клиент, устарела:
	// кто-то записал бронь между его чтением и записью.
	// Клиент должен перечитать и повторить, никакого авто-слияния.
	ErrStaleVersion = errors.New("booking was updated by someone else, refresh and retry")

	// ErrCreditExhausted в пакете не осталось занятий
	ErrCreditExhausted = errors.New("package has no remaining sessions")

	// ErrCreditUnavailable списание не прошло по иной причине:
	// чужой пакет, истёкший срок, не тот статус
	ErrCreditUnavailable = errors.New("package credit unavailable")
)
