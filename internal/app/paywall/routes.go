package paywall

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/poc-paywall/internal/config"
	"github.com/magabrotheeeer/poc-paywall/internal/http/handlers/access/authorize"
	"github.com/magabrotheeeer/poc-paywall/internal/http/handlers/content"
	"github.com/magabrotheeeer/poc-paywall/internal/http/handlers/entitlement/status"
	"github.com/magabrotheeeer/poc-paywall/internal/http/handlers/health"
	"github.com/magabrotheeeer/poc-paywall/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/poc-paywall/internal/http/handlers/subscriber/register"
	"github.com/magabrotheeeer/poc-paywall/internal/http/middlewarectx"
	entitlementservice "github.com/magabrotheeeer/poc-paywall/internal/services/entitlement"
	"github.com/magabrotheeeer/poc-paywall/internal/services/gate"
	"github.com/magabrotheeeer/poc-paywall/internal/services/payment"
)

// Deps - сервисы, за которыми стоят маршруты.
type Deps struct {
	Entitlements *entitlementservice.EntitlementService
	Processor    *payment.Processor
	Gate         *gate.Gate
	Checks       map[string]health.Check
	Gatherer     prometheus.Gatherer
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, deps Deps) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/access", authorize.New(logger, deps.Gate).ServeHTTP)
		r.With(middlewarectx.SubscriberMatchMiddleware(logger, "subscriber_id")).
			Put("/subscribers/{subscriber_id}", register.New(logger, deps.Entitlements).ServeHTTP)
		r.Get("/entitlements/{subscriber_id}", status.New(logger, deps.Entitlements).ServeHTTP)

		// Уведомления провайдера: без шлюза, но с подписью и ограничением частоты
		r.With(middlewarectx.RateLimitMiddleware(logger, cfg.Webhook.RateLimit, cfg.Webhook.RateBurst)).
			Post("/payments/webhook", paymentwebhook.New(logger, deps.Processor, cfg.Webhook.MaxBodyBytes).ServeHTTP)

		// Защищённый контент
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.PaywallMiddleware(deps.Gate, logger))
			r.Get("/content/{slug}", content.New(logger).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger, deps.Checks, time.Second).ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
