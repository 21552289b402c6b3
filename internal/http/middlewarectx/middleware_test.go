package middlewarectx_test

import (
	"context"
	"encoding/json"
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

	"github.com/magabrotheeeer/poc-paywall/internal/http/middlewarectx"
	"github.com/magabrotheeeer/poc-paywall/internal/http/response"
	"github.com/magabrotheeeer/poc-paywall/internal/models"
)

type GateMock struct{ mock.Mock }

func (m *GateMock) Authorize(ctx context.Context, subscriberID, presentedToken string) models.Decision {
	return m.Called(ctx, subscriberID, presentedToken).Get(0).(models.Decision)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestPaywallMiddleware(t *testing.T) {
	expires := time.Date(2025, 1, 1, 12, 1, 0, 0, time.UTC)

	tests := []struct {
		name           string
		subscriberID   string
		authHeader     string
		accessHeader   string
		wantToken      string
		decision       models.Decision
		wantStatusCode int
		wantCalled     bool
	}{
		{
			name:           "missing subscriber id",
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "granted from store returns fresh token",
			subscriberID:   "sub-1",
			decision:       models.Decision{SubscriberID: "sub-1", Granted: true, Reason: models.ReasonEntitled, Source: models.SourceStore, Token: "fresh", ExpiresAt: expires},
			wantStatusCode: http.StatusOK,
			wantCalled:     true,
		},
		{
			name:           "bearer token passed to gate",
			subscriberID:   "sub-1",
			authHeader:     "Bearer presented",
			wantToken:      "presented",
			decision:       models.Decision{SubscriberID: "sub-1", Granted: true, Reason: models.ReasonEntitled, Source: models.SourceToken, Token: "presented", ExpiresAt: expires},
			wantStatusCode: http.StatusOK,
			wantCalled:     true,
		},
		{
			name:           "access token header passed to gate",
			subscriberID:   "sub-1",
			accessHeader:   "from-header",
			wantToken:      "from-header",
			decision:       models.Decision{SubscriberID: "sub-1", Granted: true, Reason: models.ReasonEntitled, Source: models.SourceToken, Token: "from-header"},
			wantStatusCode: http.StatusOK,
			wantCalled:     true,
		},
		{
			name:           "not entitled is payment required",
			subscriberID:   "sub-1",
			decision:       models.Decision{SubscriberID: "sub-1", Reason: models.ReasonNotEntitled, Source: models.SourceStore, State: models.StateCanceled},
			wantStatusCode: http.StatusPaymentRequired,
		},
		{
			name:           "no subscription is payment required",
			subscriberID:   "sub-1",
			decision:       models.Decision{SubscriberID: "sub-1", Reason: models.ReasonNoSubscription, Source: models.SourceStore},
			wantStatusCode: http.StatusPaymentRequired,
		},
		{
			name:           "store unavailable fails closed",
			subscriberID:   "sub-1",
			decision:       models.Decision{SubscriberID: "sub-1", Reason: models.ReasonStoreUnavailable, Source: models.SourceStore},
			wantStatusCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := new(GateMock)
			if tt.subscriberID != "" {
				gate.On("Authorize", mock.Anything, tt.subscriberID, tt.wantToken).Return(tt.decision).Once()
			}

			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				d, ok := middlewarectx.DecisionFrom(r.Context())
				assert.True(t, ok)
				assert.Equal(t, tt.decision, d)
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/content/article-1", nil)
			if tt.subscriberID != "" {
				req.Header.Set(middlewarectx.HeaderSubscriberID, tt.subscriberID)
			}
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			if tt.accessHeader != "" {
				req.Header.Set(middlewarectx.HeaderAccessToken, tt.accessHeader)
			}
			rr := httptest.NewRecorder()

			middlewarectx.PaywallMiddleware(gate, newNoopLogger())(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatusCode, rr.Code)
			assert.Equal(t, tt.wantCalled, called)
			gate.AssertExpectations(t)

			if tt.wantCalled {
				assert.Equal(t, tt.decision.Token, rr.Header().Get(middlewarectx.HeaderAccessToken))
				if !tt.decision.ExpiresAt.IsZero() {
					assert.Equal(t, "2025-01-01T12:01:00Z", rr.Header().Get(middlewarectx.HeaderTokenExpires))
				}
				return
			}

			var resp response.Response
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, response.StatusError, resp.Status)
			assert.Empty(t, rr.Header().Get(middlewarectx.HeaderAccessToken))
			if tt.subscriberID != "" {
				assert.Equal(t, string(tt.decision.Reason), resp.Error)
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := middlewarectx.RateLimitMiddleware(newNoopLogger(), 0.001, 2)(next)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", nil))
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestDenialStatus(t *testing.T) {
	assert.Equal(t, http.StatusPaymentRequired, middlewarectx.DenialStatus(models.ReasonNotEntitled))
	assert.Equal(t, http.StatusPaymentRequired, middlewarectx.DenialStatus(models.ReasonNoSubscription))
	assert.Equal(t, http.StatusServiceUnavailable, middlewarectx.DenialStatus(models.ReasonStoreUnavailable))
}

func TestSubscriberMatchMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		header         string
		wantStatusCode int
	}{
		{name: "без заголовка", wantStatusCode: http.StatusUnauthorized},
		{name: "чужой подписчик", header: "sub-2", wantStatusCode: http.StatusForbidden},
		{name: "свой подписчик", header: "sub-1", wantStatusCode: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.With(middlewarectx.SubscriberMatchMiddleware(newNoopLogger(), "subscriber_id")).
				Put("/subscribers/{subscriber_id}", func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusNoContent)
				})

			req := httptest.NewRequest(http.MethodPut, "/subscribers/sub-1", nil)
			if tt.header != "" {
				req.Header.Set(middlewarectx.HeaderSubscriberID, tt.header)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatusCode, rr.Code)
		})
	}
}
