// Package cancel реализует HTTP-обработчик локальной отмены подписки.
// Используется сценарием удаления аккаунта, которому нужна синхронная
// гарантированная отмена до удаления пользователя.
package cancel

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
	"github.com/magabrotheeeer/billing-sync/internal/storage/repository"
)

// Service описывает интерфейс локальной отмены подписки.
type Service interface {
	CancelLocalSubscription(ctx context.Context, providerSubscriptionID string) error
}

// Handler управляет HTTP-запросами локальной отмены.
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
// @Summary Отменить подписку локально
// @Tags Subscriptions
// @Produce  json
// @Param providerSubscriptionID path string true "ID подписки у провайдера"
// @Success 200 {object} map[string]any "Подписка отменена"
// @Failure 404 {object} response.ErrorResponse "Подписка не найдена"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /subscriptions/{providerSubscriptionID}/cancel [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.cancel"
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

	err := h.service.CancelLocalSubscription(r.Context(), providerSubscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Error("subscription not found", slog.String("provider_subscription_id", providerSubscriptionID))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("subscription not found"))
			return
		}
		log.Error("failed to cancel subscription", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not cancel subscription"))
		return
	}

	log.Info("subscription canceled locally", slog.String("provider_subscription_id", providerSubscriptionID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"provider_subscription_id": providerSubscriptionID,
	}))
}
