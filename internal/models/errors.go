package models

import (
	"errors"
	"fmt"
)

var (
	// ErrSubscriberNotFound - подписчик ещё не создан.
	ErrSubscriberNotFound = errors.New("subscriber not found")
	// ErrNoSubscription - у подписчика нет ни одной подписки.
	ErrNoSubscription = errors.New("no subscription")
	// ErrConflict - параллельное применение событий одного подписчика.
	ErrConflict = errors.New("conflicting concurrent update")
	// ErrInvalidSignature - подпись уведомления не прошла проверку.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrMalformed - в уведомлении нет обязательных полей или они некорректны.
	ErrMalformed = errors.New("malformed notification")
)

// ConflictError оборачивает ошибку хранилища, из-за которой транзакция
// применения события была отменена целиком.
type ConflictError struct {
	SubscriberID string
	EventID      string
	Err          error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict applying event %s for subscriber %s: %v", e.EventID, e.SubscriberID, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Is позволяет сравнивать через errors.Is(err, ErrConflict).
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
