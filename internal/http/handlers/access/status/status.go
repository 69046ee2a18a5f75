// Package status реализует HTTP-обработчик чтения состояния платного доступа
// пользователя. Отсутствие записи подписки — не ошибка: возвращается
// has_paid_access=false.
package status

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-sync/internal/http/response"
	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
	"github.com/magabrotheeeer/billing-sync/internal/models"
)

// Service описывает интерфейс вычисления доступа.
type Service interface {
	GetAccessStatus(ctx context.Context, userUID string) (*models.AccessStatus, error)
}

// Handler управляет HTTP-запросами состояния доступа.
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
// @Summary Состояние платного доступа пользователя
// @Tags Access
// @Produce  json
// @Param userUID path string true "UID пользователя"
// @Success 200 {object} map[string]any "Состояние доступа"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /access/{userUID} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.status"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID := chi.URLParam(r, "userUID")
	if userUID == "" {
		log.Error("userUID is empty")
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("userUID is required"))
		return
	}

	status, err := h.service.GetAccessStatus(r.Context(), userUID)
	if err != nil {
		log.Error("failed to get access status", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get access status"))
		return
	}

	render.JSON(w, r, response.OKWithData(status))
}
