// Package register реализует регистрацию подписчика в хранилище прав.
package register

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/poc-paywall/internal/http/response"
	"github.com/magabrotheeeer/poc-paywall/internal/lib/sl"
)

// Service регистрирует подписчика.
type Service interface {
	EnsureSubscriber(ctx context.Context, subscriberID string) (bool, error)
}

// Result - тело ответа.
type Result struct {
	SubscriberID string `json:"subscriber_id"`
	Created      bool   `json:"created"`
}

// Handler обрабатывает PUT /subscribers/{subscriber_id}. Маршрут закрыт
// SubscriberMatchMiddleware: подписчик регистрирует только себя. Повторный вызов
// не меняет подписчика и отвечает 200 вместо 201.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Регистрация подписчика
// @Description Создаёт подписчика и, если настроен, пробный период. Повторный вызов отвечает 200.
// @Tags Subscribers
// @Produce  json
// @Param subscriber_id path string true "ID подписчика"
// @Param X-Subscriber-ID header string true "ID подписчика, совпадает с subscriber_id"
// @Success 201 {object} response.Response "Подписчик создан"
// @Success 200 {object} response.Response "Подписчик уже существовал"
// @Failure 400 {object} response.Response "Некорректный ID подписчика"
// @Failure 401 {object} response.ErrorResponse "Не передан X-Subscriber-ID"
// @Failure 403 {object} response.ErrorResponse "Чужой ID подписчика"
// @Failure 500 {object} response.ErrorResponse "Ошибка хранилища"
// @Router /subscribers/{subscriber_id} [put]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscriber.register"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	subscriberID := chi.URLParam(r, "subscriber_id")
	if err := h.validate.Var(subscriberID, "required,max=255,printascii"); err != nil {
		var validateErr validator.ValidationErrors
		if errors.As(err, &validateErr) {
			log.Info("invalid subscriber id", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ValidationError(validateErr))
			return
		}
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid subscriber id"))
		return
	}

	created, err := h.service.EnsureSubscriber(r.Context(), subscriberID)
	if err != nil {
		log.Error("failed to register subscriber", sl.Subscriber(subscriberID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not register subscriber"))
		return
	}

	if created {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, response.StatusOKWithData(Result{SubscriberID: subscriberID, Created: created}))
}
