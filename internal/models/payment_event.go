package models

import (
	"encoding/json"
	"time"
)

// EventType - тип уведомления платёжного провайдера.
type EventType string

const (
	EventActivated     EventType = "activated"
	EventRenewed       EventType = "renewed"
	EventCanceled      EventType = "canceled"
	EventPaymentFailed EventType = "payment_failed"
)

// Valid сообщает, известен ли тип события.
func (t EventType) Valid() bool {
	switch t {
	case EventActivated, EventRenewed, EventCanceled, EventPaymentFailed:
		return true
	default:
		return false
	}
}

// PaymentEvent - факт от провайдера. После записи не изменяется;
// ID используется как ключ дедупликации при повторной доставке.
type PaymentEvent struct {
	ID           string          `json:"id"`
	SubscriberID string          `json:"subscriber_id"`
	Type         EventType       `json:"type"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Sequence     int64           `json:"sequence"`
	PlanID       string          `json:"plan_id,omitempty"`
	PeriodStart  *time.Time      `json:"period_start,omitempty"`
	PeriodEnd    *time.Time      `json:"period_end,omitempty"`
	Payload      json.RawMessage `json:"-"`
	RecordedAt   time.Time       `json:"recorded_at"`
}

// EntitlementChanged публикуется в брокер после применения события.
type EntitlementChanged struct {
	SubscriberID   string    `json:"subscriber_id"`
	SubscriptionID string    `json:"subscription_id"`
	EventID        string    `json:"event_id"`
	EventType      EventType `json:"event_type"`
	State          State     `json:"state"`
	Sequence       int64     `json:"sequence"`
	PeriodEnd      time.Time `json:"period_end"`
	GraceUntil     time.Time `json:"grace_until"`
}
