// Package authorize реализует проверку доступа подписчика без обращения
// к защищённому контенту: клиент получает решение шлюза и, если доступ
// открыт, свежий токен доступа.
package authorize

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/poc-paywall/internal/http/middlewarectx"
	"github.com/magabrotheeeer/poc-paywall/internal/http/response"
	"github.com/magabrotheeeer/poc-paywall/internal/lib/sl"
	"github.com/magabrotheeeer/poc-paywall/internal/models"
)

// Service принимает решение о доступе.
type Service interface {
	Authorize(ctx context.Context, subscriberID, presentedToken string) models.Decision
}

// Handler отвечает решением шлюза доступа.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Проверка доступа подписчика
// @Description Возвращает решение шлюза. При доступе в заголовке X-Access-Token отдаётся свежий токен.
// @Tags Access
// @Produce  json
// @Param X-Subscriber-ID header string true "ID подписчика"
// @Param Authorization header string false "Bearer токен доступа"
// @Success 200 {object} response.Response "Доступ разрешён"
// @Failure 400 {object} response.ErrorResponse "Не передан ID подписчика"
// @Failure 402 {object} response.Response "Нет оплаченной подписки"
// @Failure 503 {object} response.Response "Хранилище недоступно"
// @Router /access [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.authorize"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	subscriberID := strings.TrimSpace(r.Header.Get(middlewarectx.HeaderSubscriberID))
	if subscriberID == "" {
		subscriberID = strings.TrimSpace(r.URL.Query().Get("subscriber_id"))
	}
	if subscriberID == "" {
		log.Warn("missing subscriber id")
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("missing subscriber id"))
		return
	}

	d := h.service.Authorize(r.Context(), subscriberID, middlewarectx.PresentedToken(r))
	if !d.Granted {
		log.Info("access denied", sl.Subscriber(subscriberID), slog.String("reason", string(d.Reason)))
		render.Status(r, middlewarectx.DenialStatus(d.Reason))
		render.JSON(w, r, response.ErrorWithData(string(d.Reason), d))
		return
	}

	middlewarectx.WriteTokenHeaders(w, d)
	render.JSON(w, r, response.StatusOKWithData(d))
}
