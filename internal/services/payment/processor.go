// Package payment принимает уведомления платёжного провайдера: проверяет
// подпись, разбирает событие и передаёт его сервису прав доступа.
// Повторная доставка того же уведомления безопасна и подтверждается как обычно.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/poc-paywall/internal/lib/sl"
	"github.com/magabrotheeeer/poc-paywall/internal/metrics"
	"github.com/magabrotheeeer/poc-paywall/internal/models"
)

// Status - итог приёма уведомления.
type Status string

const (
	// StatusAck - уведомление принято, в том числе повторное или устаревшее.
	StatusAck Status = "ack"
	// StatusReject - уведомление отклонено и не будет применено.
	StatusReject Status = "reject"
)

// RejectKind - причина отклонения.
type RejectKind string

const (
	RejectInvalidSignature RejectKind = "invalid_signature"
	RejectMalformed        RejectKind = "malformed"
)

// Notification - уведомление в том виде, в каком его доставил провайдер.
type Notification struct {
	Body      []byte
	Signature string
}

// Outcome описывает результат Ingest.
type Outcome struct {
	Status  Status     `json:"status"`
	Reason  RejectKind `json:"reason,omitempty"`
	Detail  string     `json:"detail,omitempty"`
	EventID string     `json:"event_id,omitempty"`
	// Applied - событие изменило состояние; false для дубликата или устаревшего номера.
	Applied bool `json:"applied"`
}

// Err возвращает sentinel-ошибку для отклонённого уведомления.
func (o Outcome) Err() error {
	switch o.Reason {
	case RejectInvalidSignature:
		return models.ErrInvalidSignature
	case RejectMalformed:
		return models.ErrMalformed
	}
	return nil
}

// Payload - тело уведомления провайдера.
type Payload struct {
	EventID      string     `json:"event_id" validate:"required,max=255"`
	SubscriberID string     `json:"subscriber_id" validate:"required,max=255"`
	Type         string     `json:"type" validate:"required,oneof=activated renewed canceled payment_failed"`
	OccurredAt   time.Time  `json:"occurred_at" validate:"required"`
	Sequence     int64      `json:"sequence" validate:"required,gt=0"`
	PlanID       string     `json:"plan_id,omitempty" validate:"max=255"`
	PeriodStart  *time.Time `json:"period_start,omitempty"`
	PeriodEnd    *time.Time `json:"period_end,omitempty"`
}

// Applier применяет событие к хранилищу прав доступа.
type Applier interface {
	ApplyEvent(ctx context.Context, ev models.PaymentEvent) (bool, error)
}

// Processor принимает уведомления. Повторов на этом уровне нет:
// повторная доставка - ответственность провайдера.
type Processor struct {
	log      *slog.Logger
	applier  Applier
	secrets  []string
	validate *validator.Validate
	metrics  *metrics.Metrics
}

// New создаёт Processor. previousSecret принимается вместе с secret
// на время ротации секрета у провайдера; пустое значение отключает его.
func New(log *slog.Logger, applier Applier, secret, previousSecret string, m *metrics.Metrics) *Processor {
	secrets := []string{secret}
	if previousSecret != "" {
		secrets = append(secrets, previousSecret)
	}
	return &Processor{
		log:      log,
		applier:  applier,
		secrets:  secrets,
		validate: validator.New(),
		metrics:  m,
	}
}

// Ingest проверяет и применяет уведомление. Ошибка возвращается только при
// сбое хранилища: такое уведомление не подтверждается и будет доставлено снова.
func (p *Processor) Ingest(ctx context.Context, n Notification) (Outcome, error) {
	const op = "services.payment.Ingest"
	log := p.log.With(slog.String("op", op))

	if !verifySignature(p.secrets, n.Body, n.Signature) {
		log.Warn("notification rejected: invalid signature")
		return p.reject(RejectInvalidSignature, "signature mismatch", ""), nil
	}

	var payload Payload
	if err := json.Unmarshal(n.Body, &payload); err != nil {
		log.Warn("notification rejected: invalid json", sl.Err(err))
		return p.reject(RejectMalformed, "invalid json", ""), nil
	}
	if err := p.validate.Struct(payload); err != nil {
		log.Warn("notification rejected: validation failed", slog.String("event_id", payload.EventID), sl.Err(err))
		return p.reject(RejectMalformed, err.Error(), payload.EventID), nil
	}
	if payload.PeriodStart != nil && payload.PeriodEnd != nil && payload.PeriodEnd.Before(*payload.PeriodStart) {
		log.Warn("notification rejected: inverted period", slog.String("event_id", payload.EventID))
		return p.reject(RejectMalformed, "period_end before period_start", payload.EventID), nil
	}

	ev := payload.event(n.Body)
	applied, err := p.applier.ApplyEvent(ctx, ev)
	if err != nil {
		if errors.Is(err, models.ErrMalformed) {
			log.Warn("notification rejected by entitlement policy", sl.Event(ev), sl.Err(err))
			return p.reject(RejectMalformed, err.Error(), ev.ID), nil
		}
		p.metrics.IncNotification("error")
		log.Error("failed to apply payment event", sl.Event(ev), sl.Err(err))
		return Outcome{}, fmt.Errorf("%s: %w", op, err)
	}

	p.metrics.IncNotification(string(StatusAck))
	log.Info("notification acknowledged", sl.Subscriber(ev.SubscriberID), sl.Event(ev), slog.Bool("applied", applied))
	return Outcome{Status: StatusAck, EventID: ev.ID, Applied: applied}, nil
}

func (p *Processor) reject(kind RejectKind, detail, eventID string) Outcome {
	p.metrics.IncNotification(string(StatusReject) + "_" + string(kind))
	return Outcome{Status: StatusReject, Reason: kind, Detail: detail, EventID: eventID}
}

func (pl Payload) event(body []byte) models.PaymentEvent {
	return models.PaymentEvent{
		ID:           pl.EventID,
		SubscriberID: pl.SubscriberID,
		Type:         models.EventType(pl.Type),
		OccurredAt:   pl.OccurredAt.UTC(),
		Sequence:     pl.Sequence,
		PlanID:       pl.PlanID,
		PeriodStart:  utc(pl.PeriodStart),
		PeriodEnd:    utc(pl.PeriodEnd),
		Payload:      json.RawMessage(body),
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
