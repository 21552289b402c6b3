package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/poc-paywall/internal/entitlement"
	"github.com/magabrotheeeer/poc-paywall/internal/migrations"
	"github.com/magabrotheeeer/poc-paywall/internal/models"
	entitlementservice "github.com/magabrotheeeer/poc-paywall/internal/services/entitlement"
	"github.com/magabrotheeeer/poc-paywall/internal/storage"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// setupTestStorage поднимает PostgreSQL в контейнере и применяет миграции.
func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, nat.Port("5432/tcp"))
	require.NoError(t, err, "failed to get port")

	connStr := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())
	s, err := New(connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	migrationsPath, err := filepath.Abs("../../../migrations")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(s.DB, migrationsPath))
	return s
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func renewal(id string, seq int64, at time.Time) models.PaymentEvent {
	return models.PaymentEvent{
		ID:           id,
		SubscriberID: "sub-1",
		Type:         models.EventRenewed,
		OccurredAt:   at,
		Sequence:     seq,
		PlanID:       "basic",
	}
}

func TestStorage_CheckDatabaseReady(t *testing.T) {
	s := setupTestStorage(t)

	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, CheckDatabaseReady(context.Background(), s))
}

func TestStorage_CreateSubscriber(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	policy := entitlement.Policy{BillingMonths: 1, GracePeriod: 72 * time.Hour, TrialPeriod: 7 * 24 * time.Hour}
	trial := policy.NewTrial(uuid.NewString(), "sub-1", t0)

	created, err := s.CreateSubscriber(ctx, models.Subscriber{ID: "sub-1", CreatedAt: t0}, &trial)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateSubscriber(ctx, models.Subscriber{ID: "sub-1", CreatedAt: t0.Add(time.Hour)}, &trial)
	require.NoError(t, err)
	assert.False(t, created, "second registration must not change the subscriber")

	sub, err := s.GetSubscriber(ctx, "sub-1")
	require.NoError(t, err)
	assert.True(t, sub.CreatedAt.Equal(t0))
	assert.Equal(t, int64(0), sub.LastEventSequence)

	cur, err := s.CurrentSubscription(ctx, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, models.StateTrial, cur.State)
	assert.True(t, cur.PeriodEnd.Equal(t0.Add(7*24*time.Hour)))
}

func TestStorage_GetSubscriber_NotFound(t *testing.T) {
	s := setupTestStorage(t)

	_, err := s.GetSubscriber(context.Background(), "ghost")
	assert.ErrorIs(t, err, models.ErrSubscriberNotFound)

	cur, err := s.CurrentSubscription(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestStorage_WithSubscriberLock_Rollback(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithSubscriberLock(ctx, "sub-1", func(tx storage.Tx) error {
		require.NoError(t, tx.RecordEvent(ctx, renewal("evt-1", 1, t0)))
		require.NoError(t, tx.SetLastEventSequence(ctx, 1))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetSubscriber(ctx, "sub-1")
	assert.ErrorIs(t, err, models.ErrSubscriberNotFound, "rolled back transaction must not leave the subscriber")

	events, err := s.ListEvents(ctx, "sub-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStorage_ApplyEvents(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	svc := entitlementservice.NewEntitlementService(newNoopLogger(), s,
		entitlement.Policy{BillingMonths: 1, GracePeriod: 72 * time.Hour},
		entitlementservice.WithClock(func() time.Time { return t0 }),
	)

	activated := models.PaymentEvent{
		ID: "evt-1", SubscriberID: "sub-1", Type: models.EventActivated,
		OccurredAt: t0, Sequence: 1, PlanID: "basic",
		Payload: []byte(`{"event_id":"evt-1"}`),
	}
	applied, err := svc.ApplyEvent(ctx, activated)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.ApplyEvent(ctx, activated)
	require.NoError(t, err)
	assert.False(t, applied, "replayed event must be ignored")

	applied, err = svc.ApplyEvent(ctx, renewal("evt-3", 3, t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.ApplyEvent(ctx, models.PaymentEvent{
		ID: "evt-2", SubscriberID: "sub-1", Type: models.EventCanceled, OccurredAt: t0, Sequence: 2,
	})
	require.NoError(t, err)
	assert.False(t, applied, "older event must not override a newer one")

	snap, err := svc.GetState(ctx, "sub-1", t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, snap.State)
	assert.Equal(t, int64(3), snap.LastEventSequence)

	events, err := s.ListEvents(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, "evt-3", events[1].ID)
	assert.JSONEq(t, `{"event_id":"evt-1"}`, string(events[0].Payload))

	applied, err = svc.ApplyEvent(ctx, models.PaymentEvent{
		ID: "evt-4", SubscriberID: "sub-1", Type: models.EventCanceled, OccurredAt: t0.Add(2 * time.Hour), Sequence: 4,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	snap, err = svc.GetState(ctx, "sub-1", t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.StateCanceled, snap.State)
	assert.False(t, snap.State.Entitled())
}

func TestStorage_ConcurrentEventsSameSubscriber(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	svc := entitlementservice.NewEntitlementService(newNoopLogger(), s,
		entitlement.Policy{BillingMonths: 1, GracePeriod: 72 * time.Hour},
		entitlementservice.WithClock(func() time.Time { return t0 }),
	)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			_, err := svc.ApplyEvent(ctx, renewal(fmt.Sprintf("evt-%d", seq), seq, t0.Add(time.Duration(seq)*time.Minute)))
			errs <- err
		}(int64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	sub, err := s.GetSubscriber(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), sub.LastEventSequence)

	var open int
	require.NoError(t, s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE subscriber_id = 'sub-1' AND state IN ('trial', 'active')`).Scan(&open))
	assert.Equal(t, 1, open)
}

func TestStorage_WithSubscriberLock_NoWritesLeavesNoSubscriber(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	svc := entitlementservice.NewEntitlementService(newNoopLogger(), s,
		entitlement.Policy{BillingMonths: 1, GracePeriod: 72 * time.Hour},
		entitlementservice.WithClock(func() time.Time { return t0 }),
	)

	applied, err := svc.ApplyEvent(ctx, renewal("evt-1", 1, t0))
	require.NoError(t, err)
	require.True(t, applied)

	reused := renewal("evt-1", 1, t0)
	reused.SubscriberID = "sub-2"
	applied, err = svc.ApplyEvent(ctx, reused)
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = s.GetSubscriber(ctx, "sub-2")
	assert.ErrorIs(t, err, models.ErrSubscriberNotFound)
}

func TestStorage_CurrentSubscription_TieBreak(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	closed := func(id string, state models.State, seq int64) models.Subscription {
		return models.Subscription{
			ID: id, SubscriberID: "sub-1", PlanID: "basic", State: state,
			PeriodStart: t0, PeriodEnd: t0.AddDate(0, 1, 0), GraceUntil: t0.AddDate(0, 1, 3),
			LastEventSequence: seq, CreatedAt: t0, UpdatedAt: t0,
		}
	}

	err := s.WithSubscriberLock(ctx, "sub-1", func(tx storage.Tx) error {
		if err := tx.SaveSubscription(ctx, closed(uuid.NewString(), models.StateCanceled, 5), true); err != nil {
			return err
		}
		if err := tx.SaveSubscription(ctx, closed(uuid.NewString(), models.StateExpired, 2), true); err != nil {
			return err
		}
		return tx.SetLastEventSequence(ctx, 5)
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		cur, err := s.CurrentSubscription(ctx, "sub-1")
		require.NoError(t, err)
		require.NotNil(t, cur)
		assert.Equal(t, int64(5), cur.LastEventSequence)
		assert.Equal(t, models.StateCanceled, cur.State)
	}
}
