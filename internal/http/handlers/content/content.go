// Package content - пример защищённого ресурса за шлюзом доступа.
package content

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/poc-paywall/internal/http/middlewarectx"
	"github.com/magabrotheeeer/poc-paywall/internal/http/response"
)

// Item - отдаваемый ресурс.
type Item struct {
	Slug         string `json:"slug"`
	SubscriberID string `json:"subscriber_id"`
	Source       string `json:"source"`
}

// Handler отдаёт ресурс. Должен стоять за PaywallMiddleware.
type Handler struct {
	log *slog.Logger
}

// New создаёт Handler.
func New(log *slog.Logger) *Handler {
	return &Handler{log: log}
}

// ServeHTTP godoc
// @Summary Защищённый ресурс
// @Tags Content
// @Produce  json
// @Param slug path string true "Идентификатор ресурса"
// @Param X-Subscriber-ID header string true "ID подписчика"
// @Success 200 {object} response.Response "Ресурс"
// @Failure 401 {object} response.ErrorResponse "Не передан ID подписчика"
// @Failure 402 {object} response.Response "Нет оплаченной подписки"
// @Failure 503 {object} response.Response "Хранилище недоступно"
// @Router /content/{slug} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.content"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	d, ok := middlewarectx.DecisionFrom(r.Context())
	if !ok || !d.Granted {
		log.Error("content served without paywall decision")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("access decision missing"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(Item{
		Slug:         chi.URLParam(r, "slug"),
		SubscriberID: d.SubscriberID,
		Source:       string(d.Source),
	}))
}
