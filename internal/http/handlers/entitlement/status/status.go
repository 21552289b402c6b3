// Package status отдаёт состояние прав подписчика и журнал его платёжных событий.
package status

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/poc-paywall/internal/http/response"
	"github.com/magabrotheeeer/poc-paywall/internal/lib/sl"
	"github.com/magabrotheeeer/poc-paywall/internal/models"
)

// Service читает состояние подписчика.
type Service interface {
	GetState(ctx context.Context, subscriberID string, at time.Time) (models.Snapshot, error)
	ListEvents(ctx context.Context, subscriberID string) ([]models.PaymentEvent, error)
}

// Status - тело ответа.
type Status struct {
	SubscriberID      string                `json:"subscriber_id"`
	State             models.State          `json:"state,omitempty"`
	Entitled          bool                  `json:"entitled"`
	At                time.Time             `json:"at"`
	LastEventSequence int64                 `json:"last_event_sequence"`
	Subscription      *models.Subscription  `json:"subscription,omitempty"`
	Events            []models.PaymentEvent `json:"events"`
}

// Handler обрабатывает GET /entitlements/{subscriber_id}.
type Handler struct {
	log     *slog.Logger
	service Service
	now     func() time.Time
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		now:     time.Now,
	}
}

// ServeHTTP godoc
// @Summary Состояние подписки
// @Description Состояние подписки на момент at (по умолчанию сейчас) и журнал событий.
// @Tags Entitlements
// @Produce  json
// @Param subscriber_id path string true "ID подписчика"
// @Param at query string false "Момент времени в RFC3339"
// @Success 200 {object} response.Response "Состояние подписки"
// @Failure 400 {object} response.ErrorResponse "Некорректный параметр at"
// @Failure 404 {object} response.ErrorResponse "Подписчик не найден"
// @Failure 503 {object} response.ErrorResponse "Хранилище недоступно"
// @Router /entitlements/{subscriber_id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.entitlement.status"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	subscriberID := chi.URLParam(r, "subscriber_id")
	if subscriberID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("missing subscriber id"))
		return
	}

	at := h.now().UTC()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("invalid at, expected RFC3339"))
			return
		}
		at = parsed.UTC()
	}

	snap, err := h.service.GetState(r.Context(), subscriberID, at)
	switch {
	case errors.Is(err, models.ErrSubscriberNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("subscriber not found"))
		return
	case err != nil && !errors.Is(err, models.ErrNoSubscription):
		log.Error("failed to get entitlement state", sl.Subscriber(subscriberID), sl.Err(err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("entitlement store unavailable"))
		return
	}

	events, err := h.service.ListEvents(r.Context(), subscriberID)
	if err != nil {
		log.Error("failed to list payment events", sl.Subscriber(subscriberID), sl.Err(err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("entitlement store unavailable"))
		return
	}
	if events == nil {
		events = []models.PaymentEvent{}
	}

	st := Status{
		SubscriberID:      subscriberID,
		At:                at,
		LastEventSequence: snap.LastEventSequence,
		Events:            events,
	}
	if snap.Subscription.ID != "" {
		sub := snap.Subscription
		st.State = snap.State
		st.Entitled = snap.State.Entitled()
		st.Subscription = &sub
	}
	render.JSON(w, r, response.StatusOKWithData(st))
}
