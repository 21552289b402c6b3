// Package middlewarectx содержит HTTP middleware: закрытие защищённых маршрутов
// шлюзом доступа и ограничение частоты запросов.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/poc-paywall/internal/http/response"
	"github.com/magabrotheeeer/poc-paywall/internal/lib/sl"
	"github.com/magabrotheeeer/poc-paywall/internal/models"
)

// Заголовки шлюза доступа.
const (
	HeaderSubscriberID = "X-Subscriber-ID"
	HeaderAccessToken  = "X-Access-Token"
	HeaderTokenExpires = "X-Access-Token-Expires"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

// DecisionKey - ключ решения шлюза в контексте запроса.
const DecisionKey Key = "decision"

// DecisionFrom возвращает решение шлюза, сохранённое PaywallMiddleware.
func DecisionFrom(ctx context.Context) (models.Decision, bool) {
	d, ok := ctx.Value(DecisionKey).(models.Decision)
	return d, ok
}

// PresentedToken достаёт токен доступа из Authorization: Bearer или X-Access-Token.
func PresentedToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get(HeaderAccessToken))
}

// DenialStatus переводит причину отказа в HTTP статус: нет прав - 402,
// хранилище недоступно - 503.
func DenialStatus(reason models.Reason) int {
	if reason == models.ReasonStoreUnavailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusPaymentRequired
}

// WriteTokenHeaders отдаёт клиенту свежий токен, чтобы следующий запрос прошёл без хранилища.
func WriteTokenHeaders(w http.ResponseWriter, d models.Decision) {
	if d.Token == "" {
		return
	}
	w.Header().Set(HeaderAccessToken, d.Token)
	if !d.ExpiresAt.IsZero() {
		w.Header().Set(HeaderTokenExpires, d.ExpiresAt.UTC().Format(time.RFC3339))
	}
}

// PaywallMiddleware пропускает запрос к защищённому обработчику только при
// решении granted. Подписчик берётся из X-Subscriber-ID, который проставляет
// внешний прокси после аутентификации.
func PaywallMiddleware(gate Gate, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.Paywall"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			subscriberID := strings.TrimSpace(r.Header.Get(HeaderSubscriberID))
			if subscriberID == "" {
				log.Warn("missing subscriber id header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing subscriber id"))
				return
			}

			d := gate.Authorize(r.Context(), subscriberID, PresentedToken(r))
			if !d.Granted {
				log.Info("access denied", sl.Subscriber(subscriberID), slog.String("reason", string(d.Reason)))
				render.Status(r, DenialStatus(d.Reason))
				render.JSON(w, r, response.ErrorWithData(string(d.Reason), d))
				return
			}

			WriteTokenHeaders(w, d)
			ctx := context.WithValue(r.Context(), DecisionKey, d)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
