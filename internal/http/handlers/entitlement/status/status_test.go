package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/poc-paywall/internal/models"
)

type MockService struct{ mock.Mock }

func (m *MockService) GetState(ctx context.Context, subscriberID string, at time.Time) (models.Snapshot, error) {
	args := m.Called(ctx, subscriberID, at)
	return args.Get(0).(models.Snapshot), args.Error(1)
}

func (m *MockService) ListEvents(ctx context.Context, subscriberID string) ([]models.PaymentEvent, error) {
	args := m.Called(ctx, subscriberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PaymentEvent), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   Status `json:"data"`
}

func serve(t *testing.T, svc Service, now time.Time, target string) (*httptest.ResponseRecorder, statusResponse) {
	t.Helper()
	h := New(newNoopLogger(), svc)
	h.now = func() time.Time { return now }

	r := chi.NewRouter()
	r.Get("/entitlements/{subscriber_id}", h.ServeHTTP)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return rr, resp
}

func TestStatusHandler(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	sub := models.Subscription{
		ID: "s-1", SubscriberID: "sub-1", State: models.StateActive,
		PeriodStart: now.AddDate(0, 0, -9), PeriodEnd: now.AddDate(0, 0, 21), GraceUntil: now.AddDate(0, 0, 24),
	}
	events := []models.PaymentEvent{{ID: "evt-1", SubscriberID: "sub-1", Type: models.EventActivated, Sequence: 1}}

	t.Run("активная подписка", func(t *testing.T) {
		svc := new(MockService)
		svc.On("GetState", mock.Anything, "sub-1", now).Return(models.Snapshot{
			SubscriberID: "sub-1", State: models.StateActive, At: now, LastEventSequence: 1, Subscription: sub,
		}, nil)
		svc.On("ListEvents", mock.Anything, "sub-1").Return(events, nil)

		rr, resp := serve(t, svc, now, "/entitlements/sub-1")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, models.StateActive, resp.Data.State)
		assert.True(t, resp.Data.Entitled)
		assert.Equal(t, int64(1), resp.Data.LastEventSequence)
		require.NotNil(t, resp.Data.Subscription)
		assert.Equal(t, "s-1", resp.Data.Subscription.ID)
		assert.Len(t, resp.Data.Events, 1)
		svc.AssertExpectations(t)
	})

	t.Run("момент из query", func(t *testing.T) {
		at := now.AddDate(0, 0, 22)
		svc := new(MockService)
		svc.On("GetState", mock.Anything, "sub-1", at).Return(models.Snapshot{
			SubscriberID: "sub-1", State: models.StateGrace, At: at, Subscription: sub,
		}, nil)
		svc.On("ListEvents", mock.Anything, "sub-1").Return(nil, nil)

		rr, resp := serve(t, svc, now, "/entitlements/sub-1?at="+at.Format(time.RFC3339))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, models.StateGrace, resp.Data.State)
		assert.True(t, resp.Data.Entitled)
		assert.NotNil(t, resp.Data.Events)
		svc.AssertExpectations(t)
	})

	t.Run("подписчик без подписки", func(t *testing.T) {
		svc := new(MockService)
		svc.On("GetState", mock.Anything, "sub-2", now).Return(models.Snapshot{
			SubscriberID: "sub-2", At: now, LastEventSequence: 3,
		}, fmt.Errorf("wrap: %w", models.ErrNoSubscription))
		svc.On("ListEvents", mock.Anything, "sub-2").Return([]models.PaymentEvent{}, nil)

		rr, resp := serve(t, svc, now, "/entitlements/sub-2")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.False(t, resp.Data.Entitled)
		assert.Nil(t, resp.Data.Subscription)
		assert.Equal(t, int64(3), resp.Data.LastEventSequence)
	})

	t.Run("неизвестный подписчик", func(t *testing.T) {
		svc := new(MockService)
		svc.On("GetState", mock.Anything, "ghost", now).
			Return(models.Snapshot{}, fmt.Errorf("wrap: %w", models.ErrSubscriberNotFound))

		rr, resp := serve(t, svc, now, "/entitlements/ghost")

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "subscriber not found", resp.Error)
		svc.AssertNotCalled(t, "ListEvents", mock.Anything, mock.Anything)
	})

	t.Run("хранилище недоступно", func(t *testing.T) {
		svc := new(MockService)
		svc.On("GetState", mock.Anything, "sub-1", now).Return(models.Snapshot{}, errors.New("db down"))

		rr, _ := serve(t, svc, now, "/entitlements/sub-1")

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("некорректный момент", func(t *testing.T) {
		svc := new(MockService)

		rr, resp := serve(t, svc, now, "/entitlements/sub-1?at=yesterday")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, resp.Error, "RFC3339")
		svc.AssertNotCalled(t, "GetState", mock.Anything, mock.Anything, mock.Anything)
	})
}
