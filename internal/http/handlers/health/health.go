// Package health отдаёт состояние зависимостей сервиса.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/poc-paywall/internal/http/response"
	"github.com/magabrotheeeer/poc-paywall/internal/lib/sl"
)

// Check проверяет одну зависимость.
type Check func(ctx context.Context) error

// Handler опрашивает зависимости и отвечает 200, если все доступны, иначе 503.
type Handler struct {
	log     *slog.Logger
	checks  map[string]Check
	timeout time.Duration
}

// New создаёт Handler. timeout ограничивает опрос каждой зависимости.
func New(log *slog.Logger, checks map[string]Check, timeout time.Duration) *Handler {
	return &Handler{
		log:     log,
		checks:  checks,
		timeout: timeout,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			log.Warn("dependency unhealthy", slog.String("dependency", name), sl.Err(err))
			result[name] = "unavailable"
			healthy = false
			continue
		}
		result[name] = "ok"
	}

	if !healthy {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.ErrorWithData("dependency unavailable", result))
		return
	}
	render.JSON(w, r, response.StatusOKWithData(result))
}
