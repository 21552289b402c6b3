// Package models содержит доменные структуры paywall: подписчика, его подписку,
// платёжные события провайдера и решение о доступе к защищённому контенту.
package models

import "time"

// State описывает состояние подписки.
type State string

const (
	// StateTrial - пробный период, доступ открыт.
	StateTrial State = "trial"
	// StateActive - оплаченный период, доступ открыт.
	StateActive State = "active"
	// StateGrace - оплаченный период закончился, но продление ещё может прийти.
	StateGrace State = "grace"
	// StateExpired - льготный период истёк без продления.
	StateExpired State = "expired"
	// StateCanceled - подписка отменена событием провайдера.
	StateCanceled State = "canceled"
)

// Entitled сообщает, даёт ли состояние право на доступ.
func (s State) Entitled() bool {
	switch s {
	case StateTrial, StateActive, StateGrace:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что подписка в этом состоянии больше не меняется
// и может быть заменена только новой подпиской.
func (s State) Terminal() bool {
	return s == StateCanceled || s == StateExpired
}

// Subscriber - владелец подписок. ID и CreatedAt после создания не меняются.
// LastEventSequence - максимальный номер события провайдера, применённого
// к подписчику; он продолжает расти и тогда, когда подписки ещё нет.
type Subscriber struct {
	ID                string    `json:"id"`
	CreatedAt         time.Time `json:"created_at"`
	LastEventSequence int64     `json:"last_event_sequence"`
}

// Subscription хранит состояние подписки так, как оно записано в хранилище.
// Состояние grace никогда не записывается: оно, как и истечение активной
// подписки, вычисляется при чтении по PeriodEnd и GraceUntil. Запись
// expired появляется только когда истёкшую подписку заменяет новая.
type Subscription struct {
	ID                string    `json:"id"`
	SubscriberID      string    `json:"subscriber_id"`
	PlanID            string    `json:"plan_id"`
	State             State     `json:"state"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	GraceUntil        time.Time `json:"grace_until"`
	LastEventSequence int64     `json:"last_event_sequence"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Snapshot - состояние подписки, разрешённое на момент At.
type Snapshot struct {
	SubscriberID      string       `json:"subscriber_id"`
	State             State        `json:"state"`
	At                time.Time    `json:"at"`
	LastEventSequence int64        `json:"last_event_sequence"`
	Subscription      Subscription `json:"subscription"`
}
