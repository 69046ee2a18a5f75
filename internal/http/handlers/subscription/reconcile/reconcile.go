// Package reconcile реализует HTTP-обработчик реконсиляции по требованию:
// запись подписки сверяется с провайдером немедленно, не дожидаясь
// планового фонового прохода.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-sync/internal/http/response"
	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
	"github.com/magabrotheeeer/billing-sync/internal/paymentprovider"
	"github.com/magabrotheeeer/billing-sync/internal/services/reconciler"
)

// Service описывает интерфейс реконсиляции одной подписки.
type Service interface {
	ReconcileSubscription(ctx context.Context, providerSubscriptionID string) (reconciler.Result, error)
}

// Handler управляет HTTP-запросами реконсиляции по требованию.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Сверить подписку с провайдером
// @Tags Subscriptions
// @Produce  json
// @Param providerSubscriptionID path string true "ID подписки у провайдера"
// @Success 200 {object} map[string]any "Итог сверки"
// @Failure 404 {object} response.ErrorResponse "Провайдер не знает такой подписки"
// @Failure 502 {object} response.ErrorResponse "Провайдер недоступен"
// @Router /subscriptions/{providerSubscriptionID}/reconcile [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.reconcile"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	providerSubscriptionID := chi.URLParam(r, "providerSubscriptionID")
	if providerSubscriptionID == "" {
		log.Error("providerSubscriptionID is empty")
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("providerSubscriptionID is required"))
		return
	}

	result, err := h.service.ReconcileSubscription(r.Context(), providerSubscriptionID)
	if err != nil {
		if errors.Is(err, paymentprovider.ErrSubscriptionNotFound) {
			log.Error("subscription missing at provider", slog.String("provider_subscription_id", providerSubscriptionID))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("subscription not found at provider"))
			return
		}
		log.Error("failed to reconcile subscription", sl.Err(err))
		w.WriteHeader(http.StatusBadGateway)
		render.JSON(w, r, response.Error("could not reconcile subscription"))
		return
	}

	log.Info("subscription reconciled", slog.String("provider_subscription_id", providerSubscriptionID),
		slog.String("result", string(result)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"result": string(result),
	}))
}
