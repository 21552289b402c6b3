package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func ok(_ context.Context) error { return nil }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		checks         map[string]Check
		expectedStatus int
		expectedData   map[string]string
	}{
		{
			name:           "все зависимости доступны",
			checks:         map[string]Check{"storage": ok, "cache": ok},
			expectedStatus: http.StatusOK,
			expectedData:   map[string]string{"storage": "ok", "cache": "ok"},
		},
		{
			name: "хранилище недоступно",
			checks: map[string]Check{
				"storage": func(context.Context) error { return errors.New("connection refused") },
				"cache":   ok,
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedData:   map[string]string{"storage": "unavailable", "cache": "ok"},
		},
		{
			name: "проверка ограничена таймаутом",
			checks: map[string]Check{
				"broker": func(ctx context.Context) error {
					<-ctx.Done()
					return ctx.Err()
				},
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedData:   map[string]string{"broker": "unavailable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			New(newNoopLogger(), tt.checks, 50*time.Millisecond).
				ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			var resp struct {
				Data map[string]string `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedData, resp.Data)
		})
	}
}
