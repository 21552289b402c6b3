package authorize

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/poc-paywall/internal/http/middlewarectx"
	"github.com/magabrotheeeer/poc-paywall/internal/models"
)

type MockService struct{ mock.Mock }

func (m *MockService) Authorize(ctx context.Context, subscriberID, presentedToken string) models.Decision {
	return m.Called(ctx, subscriberID, presentedToken).Get(0).(models.Decision)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestAuthorizeHandler(t *testing.T) {
	expires := time.Date(2025, 1, 1, 12, 1, 0, 0, time.UTC)

	tests := []struct {
		name           string
		target         string
		headers        map[string]string
		setupMock      func(*MockService)
		expectedStatus int
		expectedReason models.Reason
		expectedToken  string
	}{
		{
			name:           "нет подписчика",
			target:         "/api/v1/access",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:    "доступ открыт",
			target:  "/api/v1/access",
			headers: map[string]string{middlewarectx.HeaderSubscriberID: "sub-1"},
			setupMock: func(m *MockService) {
				m.On("Authorize", mock.Anything, "sub-1", "").Return(models.Decision{
					SubscriberID: "sub-1", Granted: true, Reason: models.ReasonEntitled,
					Source: models.SourceStore, Token: "fresh", ExpiresAt: expires,
				})
			},
			expectedStatus: http.StatusOK,
			expectedReason: models.ReasonEntitled,
			expectedToken:  "fresh",
		},
		{
			name:    "подписчик из query и токен из заголовка",
			target:  "/api/v1/access?subscriber_id=sub-2",
			headers: map[string]string{"Authorization": "Bearer presented"},
			setupMock: func(m *MockService) {
				m.On("Authorize", mock.Anything, "sub-2", "presented").Return(models.Decision{
					SubscriberID: "sub-2", Granted: true, Reason: models.ReasonEntitled, Source: models.SourceToken,
				})
			},
			expectedStatus: http.StatusOK,
			expectedReason: models.ReasonEntitled,
		},
		{
			name:    "нет прав",
			target:  "/api/v1/access",
			headers: map[string]string{middlewarectx.HeaderSubscriberID: "sub-1"},
			setupMock: func(m *MockService) {
				m.On("Authorize", mock.Anything, "sub-1", "").Return(models.Decision{
					SubscriberID: "sub-1", Reason: models.ReasonNotEntitled, Source: models.SourceStore,
				})
			},
			expectedStatus: http.StatusPaymentRequired,
			expectedReason: models.ReasonNotEntitled,
		},
		{
			name:    "хранилище недоступно",
			target:  "/api/v1/access",
			headers: map[string]string{middlewarectx.HeaderSubscriberID: "sub-1"},
			setupMock: func(m *MockService) {
				m.On("Authorize", mock.Anything, "sub-1", "").Return(models.Decision{
					SubscriberID: "sub-1", Reason: models.ReasonStoreUnavailable, Source: models.SourceStore,
				})
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedReason: models.ReasonStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()

			New(newNoopLogger(), svc).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, tt.expectedToken, rr.Header().Get(middlewarectx.HeaderAccessToken))
			if tt.expectedReason != "" {
				var resp struct {
					Data models.Decision `json:"data"`
				}
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.Equal(t, tt.expectedReason, resp.Data.Reason)
			}
			svc.AssertExpectations(t)
		})
	}
}
