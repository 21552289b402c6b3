package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/poc-paywall/internal/models"
)

// ListEvents возвращает записанные события подписчика в порядке номеров провайдера.
func (s *Storage) ListEvents(ctx context.Context, subscriberID string) ([]models.PaymentEvent, error) {
	const op = "storage.ListEvents"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, subscriber_id, event_type, occurred_at, sequence, plan_id,
			      period_start, period_end, payload, recorded_at
			  FROM payment_events
			  WHERE subscriber_id = $1
			  ORDER BY sequence`
	rows, err := s.DB.QueryContext(ctx, query, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.PaymentEvent
	for rows.Next() {
		var ev models.PaymentEvent
		var eventType string
		var periodStart, periodEnd sql.NullTime
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.SubscriberID, &eventType, &ev.OccurredAt, &ev.Sequence, &ev.PlanID,
			&periodStart, &periodEnd, &payload, &ev.RecordedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ev.Type = models.EventType(eventType)
		if periodStart.Valid {
			t := periodStart.Time
			ev.PeriodStart = &t
		}
		if periodEnd.Valid {
			t := periodEnd.Time
			ev.PeriodEnd = &t
		}
		ev.Payload = payload
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
