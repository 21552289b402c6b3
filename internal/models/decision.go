package models

import "time"

// Reason объясняет решение шлюза доступа.
type Reason string

const (
	ReasonEntitled         Reason = "entitled"
	ReasonNotEntitled      Reason = "not_entitled"
	ReasonNoSubscription   Reason = "no_subscription"
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// Source показывает, откуда взято решение: из токена или из хранилища.
type Source string

const (
	SourceToken Source = "token"
	SourceStore Source = "store"
)

// Decision - результат проверки доступа подписчика.
type Decision struct {
	SubscriberID string    `json:"subscriber_id"`
	Granted      bool      `json:"granted"`
	Reason       Reason    `json:"reason"`
	Source       Source    `json:"source"`
	State        State     `json:"state,omitempty"`
	Token        string    `json:"token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}
