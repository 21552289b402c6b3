package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/poc-paywall/internal/models"
	"github.com/magabrotheeeer/poc-paywall/internal/storage"
)

const subscriptionColumns = `id, subscriber_id, plan_id, state, period_start, period_end,
	grace_until, last_event_sequence, created_at, updated_at`

// Текущая подписка - единственная нетерминальная, иначе самая поздняя.
// При равном created_at побеждает подписка с большим номером события.
const currentSubscriptionQuery = `SELECT ` + subscriptionColumns + `
	FROM subscriptions
	WHERE subscriber_id = $1
	ORDER BY (state IN ('trial', 'active')) DESC, created_at DESC, last_event_sequence DESC, id DESC
	LIMIT 1`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	var state string
	if err := row.Scan(&sub.ID, &sub.SubscriberID, &sub.PlanID, &state, &sub.PeriodStart, &sub.PeriodEnd,
		&sub.GraceUntil, &sub.LastEventSequence, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.State = models.State(state)
	return &sub, nil
}

// GetSubscriber возвращает подписчика по ID.
func (s *Storage) GetSubscriber(ctx context.Context, subscriberID string) (*models.Subscriber, error) {
	const op = "storage.GetSubscriber"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, created_at, last_event_sequence FROM subscribers WHERE id = $1`
	var sub models.Subscriber
	err := s.DB.QueryRowContext(ctx, query, subscriberID).Scan(&sub.ID, &sub.CreatedAt, &sub.LastEventSequence)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrSubscriberNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sub, nil
}

// CurrentSubscription возвращает текущую подписку подписчика или nil, если её нет.
func (s *Storage) CurrentSubscription(ctx context.Context, subscriberID string) (*models.Subscription, error) {
	const op = "storage.CurrentSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, currentSubscriptionQuery, subscriberID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// CreateSubscriber создаёт подписчика и, если передана, его пробную подписку.
// Возвращает false, если подписчик уже существовал; в этом случае trial не вставляется.
func (s *Storage) CreateSubscriber(ctx context.Context, sub models.Subscriber, trial *models.Subscription) (bool, error) {
	const op = "storage.CreateSubscriber"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `INSERT INTO subscribers (id, created_at, last_event_sequence)
		VALUES ($1, $2, 0) ON CONFLICT (id) DO NOTHING`, sub.ID, sub.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if rows == 0 {
		return false, nil
	}
	if trial != nil {
		if err := insertSubscription(ctx, tx, *trial); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// WithSubscriberLock выполняет fn в транзакции, удерживая блокировку строки
// подписчика (SELECT ... FOR UPDATE). Подписчик создаётся, если его нет,
// но остаётся только если fn что-то записала.
// Ошибки сериализации, взаимоблокировки и гонки уникальных ключей
// возвращаются как *models.ConflictError.
func (s *Storage) WithSubscriberLock(ctx context.Context, subscriberID string, fn func(storage.Tx) error) error {
	const op = "storage.WithSubscriberLock"

	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `INSERT INTO subscribers (id, created_at, last_event_sequence)
		VALUES ($1, NOW(), 0) ON CONFLICT (id) DO NOTHING`, subscriberID); err != nil {
		return s.wrapTxErr(op, subscriberID, err)
	}

	var sub models.Subscriber
	err = tx.QueryRowContext(ctx, `SELECT id, created_at, last_event_sequence
		FROM subscribers WHERE id = $1 FOR UPDATE`, subscriberID).
		Scan(&sub.ID, &sub.CreatedAt, &sub.LastEventSequence)
	if err != nil {
		return s.wrapTxErr(op, subscriberID, err)
	}

	ptx := &pgTx{tx: tx, subscriber: sub}
	if err := fn(ptx); err != nil {
		return s.wrapTxErr(op, subscriberID, err)
	}
	// Без записей транзакция откатывается вместе со вставкой подписчика.
	if !ptx.dirty {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return s.wrapTxErr(op, subscriberID, err)
	}
	return nil
}

func (s *Storage) wrapTxErr(op, subscriberID string, err error) error {
	if isConflict(err) {
		return fmt.Errorf("%s: %w", op, &models.ConflictError{SubscriberID: subscriberID, Err: err})
	}
	return fmt.Errorf("%s: %w", op, err)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSubscription(ctx context.Context, db execer, sub models.Subscription) error {
	_, err := db.ExecContext(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sub.ID, sub.SubscriberID, sub.PlanID, string(sub.State), sub.PeriodStart, sub.PeriodEnd,
		sub.GraceUntil, sub.LastEventSequence, sub.CreatedAt, sub.UpdatedAt)
	return err
}

// pgTx реализует storage.Tx поверх *sql.Tx.
type pgTx struct {
	tx         *sql.Tx
	subscriber models.Subscriber
	dirty      bool
}

func (t *pgTx) Subscriber() models.Subscriber { return t.subscriber }

func (t *pgTx) EventRecorded(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM payment_events WHERE id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage.EventRecorded: %w", err)
	}
	return exists, nil
}

func (t *pgTx) CurrentSubscription(ctx context.Context) (*models.Subscription, error) {
	sub, err := scanSubscription(t.tx.QueryRowContext(ctx, currentSubscriptionQuery, t.subscriber.ID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage.CurrentSubscription: %w", err)
	}
	return sub, nil
}

func (t *pgTx) RecordEvent(ctx context.Context, ev models.PaymentEvent) error {
	var periodStart, periodEnd sql.NullTime
	if ev.PeriodStart != nil {
		periodStart = sql.NullTime{Time: *ev.PeriodStart, Valid: true}
	}
	if ev.PeriodEnd != nil {
		periodEnd = sql.NullTime{Time: *ev.PeriodEnd, Valid: true}
	}
	var payload any
	if len(ev.Payload) > 0 {
		payload = []byte(ev.Payload)
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO payment_events
		(id, subscriber_id, event_type, occurred_at, sequence, plan_id, period_start, period_end, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9::jsonb, '{}'::jsonb), $10)`,
		ev.ID, ev.SubscriberID, string(ev.Type), ev.OccurredAt, ev.Sequence, ev.PlanID,
		periodStart, periodEnd, payload, ev.RecordedAt)
	if err != nil {
		return fmt.Errorf("storage.RecordEvent: %w", err)
	}
	t.dirty = true
	return nil
}

func (t *pgTx) SaveSubscription(ctx context.Context, sub models.Subscription, created bool) error {
	if created {
		if err := insertSubscription(ctx, t.tx, sub); err != nil {
			return fmt.Errorf("storage.SaveSubscription: %w", err)
		}
		t.dirty = true
		return nil
	}
	_, err := t.tx.ExecContext(ctx, `UPDATE subscriptions
		SET plan_id = $1, state = $2, period_start = $3, period_end = $4, grace_until = $5,
		    last_event_sequence = $6, updated_at = $7
		WHERE id = $8`,
		sub.PlanID, string(sub.State), sub.PeriodStart, sub.PeriodEnd, sub.GraceUntil,
		sub.LastEventSequence, sub.UpdatedAt, sub.ID)
	if err != nil {
		return fmt.Errorf("storage.SaveSubscription: %w", err)
	}
	t.dirty = true
	return nil
}

func (t *pgTx) SetLastEventSequence(ctx context.Context, seq int64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE subscribers SET last_event_sequence = $1 WHERE id = $2`, seq, t.subscriber.ID)
	if err != nil {
		return fmt.Errorf("storage.SetLastEventSequence: %w", err)
	}
	t.subscriber.LastEventSequence = seq
	t.dirty = true
	return nil
}
