package middlewarectx

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/poc-paywall/internal/http/response"
)

// SubscriberMatchMiddleware пропускает запрос, только если X-Subscriber-ID,
// проставленный внешним прокси, совпадает с параметром маршрута param.
// Без заголовка ответ 401, с чужим ID 403.
func SubscriberMatchMiddleware(log *slog.Logger, param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.SubscriberMatch"
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
			if subscriberID != chi.URLParam(r, param) {
				log.Warn("subscriber id mismatch", slog.String("header", subscriberID))
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Error("subscriber id mismatch"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
