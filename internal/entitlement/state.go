// Package entitlement реализует конечный автомат подписки.
//
// Все функции пакета чистые: состояние на момент времени вычисляется только
// по сохранённым полям подписки, а применение события возвращает новую
// версию подписки, не трогая хранилище.
package entitlement

import (
	"fmt"
	"time"

	"github.com/magabrotheeeer/poc-paywall/internal/lib/month"
	"github.com/magabrotheeeer/poc-paywall/internal/models"
)

// Policy задаёт длительность периодов, которые провайдер не передал явно.
type Policy struct {
	BillingMonths int           // длина оплаченного периода в месяцах
	GracePeriod   time.Duration // льготный период после PeriodEnd
	TrialPeriod   time.Duration // пробный период нового подписчика, 0 - без пробного
}

// Resolve возвращает состояние подписки на момент at.
func Resolve(sub models.Subscription, at time.Time) models.State {
	switch sub.State {
	case models.StateCanceled:
		return models.StateCanceled
	case models.StateExpired:
		return models.StateExpired
	case models.StateTrial:
		if at.Before(sub.PeriodEnd) {
			return models.StateTrial
		}
		return models.StateExpired
	default:
		if at.Before(sub.PeriodEnd) {
			return models.StateActive
		}
		if at.Before(sub.GraceUntil) {
			return models.StateGrace
		}
		return models.StateExpired
	}
}

// Change - результат применения события.
type Change struct {
	// Subscription - подписка, которую нужно записать. nil, если у подписчика
	// подписки нет и событие её не создаёт.
	Subscription *models.Subscription
	// Created - Subscription новая и должна быть вставлена.
	Created bool
	// Closed - прежняя подписка, истёкшая к моменту события; её нужно
	// сохранить в состоянии expired перед вставкой новой.
	Closed *models.Subscription
}

// NewTrial создаёт пробную подписку, начинающуюся в момент at.
func (p Policy) NewTrial(id, subscriberID string, at time.Time) models.Subscription {
	end := at.Add(p.TrialPeriod)
	return models.Subscription{
		ID:           id,
		SubscriberID: subscriberID,
		State:        models.StateTrial,
		PeriodStart:  at,
		PeriodEnd:    end,
		GraceUntil:   end,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

// Apply применяет событие к текущей подписке подписчика (current может быть nil).
// Проверки идемпотентности и порядка событий выполняет вызывающий код;
// Apply только описывает переход. newID вызывается, если создаётся новая подписка.
func (p Policy) Apply(current *models.Subscription, ev models.PaymentEvent, now time.Time, newID func() string) (Change, error) {
	const op = "entitlement.Apply"

	if current != nil {
		cp := *current
		current = &cp
	}

	var effective models.State
	if current != nil {
		effective = Resolve(*current, ev.OccurredAt)
	}

	switch ev.Type {
	case models.EventActivated:
		if current == nil || effective.Terminal() {
			return p.replace(current, effective, ev, now, newID)
		}
		return p.extend(current, effective, ev, now)

	case models.EventRenewed:
		if current == nil {
			return p.replace(nil, "", ev, now, newID)
		}
		if effective.Terminal() {
			return touch(current, ev, now), nil
		}
		return p.extend(current, effective, ev, now)

	case models.EventCanceled:
		if current == nil {
			return Change{}, nil
		}
		current.State = models.StateCanceled
		return touch(current, ev, now), nil

	case models.EventPaymentFailed:
		if current == nil {
			return Change{}, nil
		}
		return touch(current, ev, now), nil
	}

	return Change{}, fmt.Errorf("%s: %w: unknown event type %q", op, models.ErrMalformed, ev.Type)
}

// replace открывает новую подписку, закрывая прежнюю, если она истекла.
func (p Policy) replace(current *models.Subscription, effective models.State, ev models.PaymentEvent, now time.Time, newID func() string) (Change, error) {
	start, end, err := p.period(ev, ev.OccurredAt)
	if err != nil {
		return Change{}, err
	}

	var closed *models.Subscription
	if current != nil && effective == models.StateExpired && current.State != models.StateExpired {
		current.State = models.StateExpired
		current.UpdatedAt = now
		closed = current
	}

	planID := ev.PlanID
	if planID == "" && current != nil {
		planID = current.PlanID
	}

	sub := models.Subscription{
		ID:                newID(),
		SubscriberID:      ev.SubscriberID,
		PlanID:            planID,
		State:             models.StateActive,
		PeriodStart:       start,
		PeriodEnd:         end,
		GraceUntil:        end.Add(p.GracePeriod),
		LastEventSequence: ev.Sequence,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	return Change{Subscription: &sub, Created: true, Closed: closed}, nil
}

// extend переводит trial/active/grace подписку в active с новым периодом.
func (p Policy) extend(current *models.Subscription, effective models.State, ev models.PaymentEvent, now time.Time) (Change, error) {
	// Оплаченный период продлевается встык, пробный заменяется с момента оплаты.
	from := current.PeriodEnd
	if effective == models.StateTrial {
		from = ev.OccurredAt
	}
	start, end, err := p.period(ev, from)
	if err != nil {
		return Change{}, err
	}

	current.State = models.StateActive
	current.PeriodStart = start
	current.PeriodEnd = end
	current.GraceUntil = end.Add(p.GracePeriod)
	if ev.PlanID != "" {
		current.PlanID = ev.PlanID
	}
	return touch(current, ev, now), nil
}

// period берёт оплаченный период из события или отсчитывает его от from.
func (p Policy) period(ev models.PaymentEvent, from time.Time) (time.Time, time.Time, error) {
	const op = "entitlement.period"

	start := from
	if ev.PeriodStart != nil {
		start = *ev.PeriodStart
	}
	end := month.Add(start, p.BillingMonths)
	if ev.PeriodEnd != nil {
		end = *ev.PeriodEnd
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%s: %w: period_end before period_start", op, models.ErrMalformed)
	}
	return start, end, nil
}

func touch(sub *models.Subscription, ev models.PaymentEvent, now time.Time) Change {
	sub.LastEventSequence = ev.Sequence
	sub.UpdatedAt = now
	return Change{Subscription: sub}
}
