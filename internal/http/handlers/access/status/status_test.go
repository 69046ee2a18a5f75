package status_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/billing-sync/internal/http/handlers/access/status"
	"github.com/magabrotheeeer/billing-sync/internal/models"
)

type ServiceMock struct{ mock.Mock }

func (m *ServiceMock) GetAccessStatus(ctx context.Context, userUID string) (*models.AccessStatus, error) {
	args := m.Called(ctx, userUID)
	if st := args.Get(0); st != nil {
		return st.(*models.AccessStatus), args.Error(1)
	}
	return nil, args.Error(1)
}

func newRouter(svc status.Service) http.Handler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := chi.NewRouter()
	router.Get("/access/{userUID}", status.New(log, svc).ServeHTTP)
	return router
}

func TestStatusHandler(t *testing.T) {
	t.Run("доступ пользователя отдаётся как есть", func(t *testing.T) {
		svc := new(ServiceMock)
		svc.On("GetAccessStatus", mock.Anything, "user-1").
			Return(&models.AccessStatus{HasPaidAccess: true}, nil)

		rr := httptest.NewRecorder()
		newRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/access/user-1", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var resp struct {
			Status string              `json:"status"`
			Data   models.AccessStatus `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "OK", resp.Status)
		assert.True(t, resp.Data.HasPaidAccess)
		svc.AssertExpectations(t)
	})

	t.Run("нет подписки — доступ закрыт, статус 200", func(t *testing.T) {
		svc := new(ServiceMock)
		svc.On("GetAccessStatus", mock.Anything, "user-2").
			Return(&models.AccessStatus{HasPaidAccess: false}, nil)

		rr := httptest.NewRecorder()
		newRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/access/user-2", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"has_paid_access":false`)
	})

	t.Run("ошибка сервиса — 500", func(t *testing.T) {
		svc := new(ServiceMock)
		svc.On("GetAccessStatus", mock.Anything, "user-3").
			Return(nil, errors.New("storage down"))

		rr := httptest.NewRecorder()
		newRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/access/user-3", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}
