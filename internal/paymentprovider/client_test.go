package paymentprovider_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/billing-sync/internal/paymentprovider"
)

func basicAuth(shopID, secretKey string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(shopID+":"+secretKey))
}

func TestHTTPClient_GetSubscription(t *testing.T) {
	t.Run("снимок подписки разбирается вместе с планом", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/subscriptions/sub_1", r.URL.Path)
			assert.Equal(t, basicAuth("shop_123", "sk_test"), r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "sub_1",
				"status": "active",
				"current_period_end": 1750000000,
				"plan": {"id": "plan_basic", "amount": 499, "currency": "RUB", "interval": "month", "interval_count": 1},
				"metadata": {"user_uid": "user-1"},
				"created": 1740000000,
				"updated_at": 1745000000
			}`))
		}))
		defer server.Close()

		client := paymentprovider.NewHTTPClient(server.URL, "shop_123", "sk_test", 5*time.Second)
		obj, err := client.GetSubscription(context.Background(), "sub_1")

		require.NoError(t, err)
		assert.Equal(t, "sub_1", obj.ID)
		assert.Equal(t, "active", obj.Status)
		assert.Equal(t, "plan_basic", obj.Plan.ID)
		assert.Equal(t, int64(499), obj.Plan.Amount)
		assert.Equal(t, "user-1", obj.Metadata["user_uid"])
		assert.Equal(t, int64(1745000000), obj.UpdatedAt)
	})

	t.Run("404 транслируется в ErrSubscriptionNotFound", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := paymentprovider.NewHTTPClient(server.URL, "shop_123", "sk_test", 5*time.Second)
		_, err := client.GetSubscription(context.Background(), "sub_ghost")

		require.ErrorIs(t, err, paymentprovider.ErrSubscriptionNotFound)
	})

	t.Run("5xx провайдера возвращает ошибку", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := paymentprovider.NewHTTPClient(server.URL, "shop_123", "sk_test", 5*time.Second)
		_, err := client.GetSubscription(context.Background(), "sub_1")

		require.Error(t, err)
		assert.NotErrorIs(t, err, paymentprovider.ErrSubscriptionNotFound)
	})
}

func TestHTTPClient_ListActiveSubscriptions(t *testing.T) {
	t.Run("список активных подписок разбирается", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/subscriptions", r.URL.Path)
			assert.Equal(t, "active", r.URL.Query().Get("status"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"items": [
				{"id": "sub_1", "status": "active", "created": 1740000000},
				{"id": "sub_2", "status": "trialing", "created": 1741000000}
			]}`))
		}))
		defer server.Close()

		client := paymentprovider.NewHTTPClient(server.URL, "shop_123", "sk_test", 5*time.Second)
		items, err := client.ListActiveSubscriptions(context.Background())

		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "sub_1", items[0].ID)
		assert.Equal(t, "sub_2", items[1].ID)
	})

	t.Run("пустой список — не ошибка", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"items": []}`))
		}))
		defer server.Close()

		client := paymentprovider.NewHTTPClient(server.URL, "shop_123", "sk_test", 5*time.Second)
		items, err := client.ListActiveSubscriptions(context.Background())

		require.NoError(t, err)
		assert.Empty(t, items)
	})
}
