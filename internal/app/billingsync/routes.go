// Package billingsync предоставляет маршруты для основного приложения.
package billingsync

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/billing-sync/internal/config"
	"github.com/magabrotheeeer/billing-sync/internal/http/handlers/access/status"
	"github.com/magabrotheeeer/billing-sync/internal/http/handlers/billing/webhook"
	"github.com/magabrotheeeer/billing-sync/internal/http/handlers/health"
	"github.com/magabrotheeeer/billing-sync/internal/http/handlers/subscription/cancel"
	"github.com/magabrotheeeer/billing-sync/internal/http/handlers/subscription/reconcile"
	"github.com/magabrotheeeer/billing-sync/internal/http/middlewarectx"
	accessservice "github.com/magabrotheeeer/billing-sync/internal/services/access"
	eventservice "github.com/magabrotheeeer/billing-sync/internal/services/event"
	reconcilerservice "github.com/magabrotheeeer/billing-sync/internal/services/reconciler"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config,
	eventSvc *eventservice.Service, accessSvc *accessservice.Service, reconcilerSvc *reconcilerservice.Service) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Webhook endpoint: аутентификация — подпись запроса.
		r.Post("/billing/webhook", webhook.New(logger, eventSvc, cfg.Provider.WebhookSecret).ServeHTTP)

		// Интерфейс для остального приложения.
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, 50, 100))
			r.Get("/access/{userUID}", status.New(logger, accessSvc).ServeHTTP)
			r.Post("/subscriptions/{providerSubscriptionID}/cancel", cancel.New(logger, accessSvc).ServeHTTP)
			r.Post("/subscriptions/{providerSubscriptionID}/reconcile", reconcile.New(logger, reconcilerSvc).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
