// Package paymentwebhook реализует HTTP-обработчик уведомлений платёжного провайдера.
//
// Ответ различает подтверждение (200) и отклонение: неверная подпись - 401,
// некорректное уведомление - 400. При сбое хранилища возвращается 500,
// и провайдер доставит уведомление повторно.
package paymentwebhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/poc-paywall/internal/http/response"
	"github.com/magabrotheeeer/poc-paywall/internal/lib/sl"
	"github.com/magabrotheeeer/poc-paywall/internal/services/payment"
)

// SignatureHeader - заголовок с подписью тела уведомления.
const SignatureHeader = "X-Api-Signature"

// Service описывает обработчик уведомлений.
type Service interface {
	Ingest(ctx context.Context, n payment.Notification) (payment.Outcome, error)
}

// Handler принимает уведомления провайдера.
type Handler struct {
	log          *slog.Logger
	service      Service
	maxBodyBytes int64
}

// New создаёт Handler. maxBodyBytes ограничивает размер тела уведомления.
func New(log *slog.Logger, service Service, maxBodyBytes int64) *Handler {
	return &Handler{
		log:          log,
		service:      service,
		maxBodyBytes: maxBodyBytes,
	}
}

// ServeHTTP godoc
// @Summary Уведомление платёжного провайдера
// @Description Проверяет подпись X-Api-Signature и применяет событие. Повторная доставка подтверждается без изменений.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param X-Api-Signature header string true "base64(HMAC-SHA256(secret, body))"
// @Success 200 {object} response.Response "Уведомление принято"
// @Failure 400 {object} response.Response "Некорректное уведомление"
// @Failure 401 {object} response.Response "Неверная подпись"
// @Failure 413 {object} response.ErrorResponse "Слишком большое тело запроса"
// @Failure 429 {object} response.ErrorResponse "Слишком много запросов"
// @Failure 500 {object} response.ErrorResponse "Сбой хранилища, уведомление нужно доставить снова"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("webhook body too large", slog.Int64("limit", tooLarge.Limit))
			render.Status(r, http.StatusRequestEntityTooLarge)
			render.JSON(w, r, response.Error("request body too large"))
			return
		}
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to read request body"))
		return
	}

	out, err := h.service.Ingest(r.Context(), payment.Notification{
		Body:      body,
		Signature: r.Header.Get(SignatureHeader),
	})
	if err != nil {
		log.Error("failed to process webhook", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not process notification"))
		return
	}

	switch out.Reason {
	case payment.RejectInvalidSignature:
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.ErrorWithData(string(out.Reason), out))
	case payment.RejectMalformed:
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.ErrorWithData(string(out.Reason), out))
	default:
		render.JSON(w, r, response.StatusOKWithData(out))
	}
}
