package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/billing-sync/internal/metrics"
	"github.com/magabrotheeeer/billing-sync/internal/models"
	"github.com/magabrotheeeer/billing-sync/internal/paymentprovider"
	"github.com/magabrotheeeer/billing-sync/internal/providerevent"
)

type ProviderMock struct{ mock.Mock }

func (m *ProviderMock) GetSubscription(ctx context.Context, providerSubscriptionID string) (*providerevent.SubscriptionObject, error) {
	args := m.Called(ctx, providerSubscriptionID)
	if obj := args.Get(0); obj != nil {
		return obj.(*providerevent.SubscriptionObject), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProviderMock) ListActiveSubscriptions(ctx context.Context) ([]*providerevent.SubscriptionObject, error) {
	args := m.Called(ctx)
	if objs := args.Get(0); objs != nil {
		return objs.([]*providerevent.SubscriptionObject), args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeRepo повторяет семантику условной записи хранилища в памяти.
type fakeRepo struct {
	mu   sync.Mutex
	subs map[string]models.Subscription
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{subs: make(map[string]models.Subscription)}
}

func (f *fakeRepo) UpsertSubscription(_ context.Context, sub models.Subscription) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.subs[sub.ProviderSubscriptionID]
	if ok && stored.ProviderUpdatedAt >= sub.ProviderUpdatedAt {
		return false, nil
	}
	f.subs[sub.ProviderSubscriptionID] = sub
	return true, nil
}

func (f *fakeRepo) ListSubscriptions(_ context.Context) ([]*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Subscription, 0, len(f.subs))
	for id := range f.subs {
		sub := f.subs[id]
		out = append(out, &sub)
	}
	return out, nil
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func snapshot(id, status string, updatedAt int64) *providerevent.SubscriptionObject {
	obj := &providerevent.SubscriptionObject{
		ID:        id,
		Status:    status,
		UpdatedAt: updatedAt,
		Metadata:  map[string]string{"user_uid": "user-1"},
	}
	obj.Plan.ID = "plan_basic"
	obj.Plan.Amount = 499
	obj.Plan.Currency = "RUB"
	obj.Plan.Interval = "month"
	obj.Plan.IntervalCount = 1
	return obj
}

func TestService_ReconcileSubscription(t *testing.T) {
	ctx := context.Background()

	t.Run("отставшая запись исправляется снимком провайдера", func(t *testing.T) {
		provider := new(ProviderMock)
		repo := newFakeRepo()
		repo.subs["sub_1"] = models.Subscription{
			ProviderSubscriptionID: "sub_1",
			Status:                 models.StatusTrialing,
			ProviderUpdatedAt:      1000,
		}
		provider.On("GetSubscription", mock.Anything, "sub_1").
			Return(snapshot("sub_1", models.StatusActive, 2000), nil)

		svc := New(provider, repo, nil, newTestMetrics(), newNoopLogger())
		result, err := svc.ReconcileSubscription(ctx, "sub_1")

		require.NoError(t, err)
		assert.Equal(t, ResultApplied, result)
		assert.Equal(t, models.StatusActive, repo.subs["sub_1"].Status)
	})

	t.Run("повторная сверка ничего не меняет", func(t *testing.T) {
		provider := new(ProviderMock)
		repo := newFakeRepo()
		provider.On("GetSubscription", mock.Anything, "sub_1").
			Return(snapshot("sub_1", models.StatusActive, 2000), nil)

		svc := New(provider, repo, nil, newTestMetrics(), newNoopLogger())

		result, err := svc.ReconcileSubscription(ctx, "sub_1")
		require.NoError(t, err)
		require.Equal(t, ResultApplied, result)

		result, err = svc.ReconcileSubscription(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, ResultUnchanged, result)
	})

	t.Run("снимок не затирает более свежую локальную запись", func(t *testing.T) {
		provider := new(ProviderMock)
		repo := newFakeRepo()
		repo.subs["sub_1"] = models.Subscription{
			ProviderSubscriptionID: "sub_1",
			Status:                 models.StatusActive,
			ProviderUpdatedAt:      3000,
		}
		provider.On("GetSubscription", mock.Anything, "sub_1").
			Return(snapshot("sub_1", models.StatusPastDue, 2000), nil)

		svc := New(provider, repo, nil, newTestMetrics(), newNoopLogger())
		result, err := svc.ReconcileSubscription(ctx, "sub_1")

		require.NoError(t, err)
		assert.Equal(t, ResultUnchanged, result)
		assert.Equal(t, models.StatusActive, repo.subs["sub_1"].Status)
	})

	t.Run("404 провайдера не трогает локальную запись", func(t *testing.T) {
		provider := new(ProviderMock)
		repo := newFakeRepo()
		repo.subs["sub_1"] = models.Subscription{
			ProviderSubscriptionID: "sub_1",
			Status:                 models.StatusActive,
			ProviderUpdatedAt:      1000,
		}
		provider.On("GetSubscription", mock.Anything, "sub_1").
			Return(nil, paymentprovider.ErrSubscriptionNotFound)

		svc := New(provider, repo, nil, newTestMetrics(), newNoopLogger())
		result, err := svc.ReconcileSubscription(ctx, "sub_1")

		require.ErrorIs(t, err, paymentprovider.ErrSubscriptionNotFound)
		assert.Equal(t, ResultUnchanged, result)
		assert.Equal(t, models.StatusActive, repo.subs["sub_1"].Status)
	})

	t.Run("исправленный дрейф публикует уведомление", func(t *testing.T) {
		provider := new(ProviderMock)
		repo := newFakeRepo()
		provider.On("GetSubscription", mock.Anything, "sub_1").
			Return(snapshot("sub_1", models.StatusActive, 2000), nil)

		published := make([]models.SubscriptionChange, 0, 1)
		publisher := publisherFunc(func(_, _ string, message any) error {
			published = append(published, message.(models.SubscriptionChange))
			return nil
		})

		svc := New(provider, repo, publisher, newTestMetrics(), newNoopLogger())
		_, err := svc.ReconcileSubscription(ctx, "sub_1")

		require.NoError(t, err)
		require.Len(t, published, 1)
		assert.Equal(t, "reconciler", published[0].Source)
		assert.Equal(t, "sub_1", published[0].ProviderSubscriptionID)
	})
}

type publisherFunc func(exchange, routingKey string, message any) error

func (f publisherFunc) Publish(exchange, routingKey string, message any) error {
	return f(exchange, routingKey, message)
}

func TestService_ReconcileAll(t *testing.T) {
	ctx := context.Background()

	t.Run("проход исправляет дрейф по списку провайдера", func(t *testing.T) {
		provider := new(ProviderMock)
		repo := newFakeRepo()
		repo.subs["sub_1"] = models.Subscription{
			ProviderSubscriptionID: "sub_1",
			Status:                 models.StatusTrialing,
			ProviderUpdatedAt:      1000,
		}
		provider.On("ListActiveSubscriptions", mock.Anything).
			Return([]*providerevent.SubscriptionObject{
				snapshot("sub_1", models.StatusActive, 2000),
				snapshot("sub_2", models.StatusTrialing, 1500),
			}, nil)

		svc := New(provider, repo, nil, newTestMetrics(), newNoopLogger())
		svc.ReconcileAll(ctx)

		assert.Equal(t, models.StatusActive, repo.subs["sub_1"].Status)
		assert.Equal(t, models.StatusTrialing, repo.subs["sub_2"].Status)
	})

	t.Run("локальная запись вне списка провайдера сверяется поштучно", func(t *testing.T) {
		provider := new(ProviderMock)
		repo := newFakeRepo()
		repo.subs["sub_lost"] = models.Subscription{
			ProviderSubscriptionID: "sub_lost",
			Status:                 models.StatusActive,
			ProviderUpdatedAt:      1000,
		}
		provider.On("ListActiveSubscriptions", mock.Anything).
			Return([]*providerevent.SubscriptionObject{}, nil)
		// Потерянный webhook отмены: провайдер уже не считает подписку
		// активной, но по прямому запросу отдаёт её финальное состояние.
		provider.On("GetSubscription", mock.Anything, "sub_lost").
			Return(snapshot("sub_lost", models.StatusCanceled, 2000), nil)

		svc := New(provider, repo, nil, newTestMetrics(), newNoopLogger())
		svc.ReconcileAll(ctx)

		assert.Equal(t, models.StatusCanceled, repo.subs["sub_lost"].Status)
	})

	t.Run("отменённые локальные записи не сверяются", func(t *testing.T) {
		provider := new(ProviderMock)
		repo := newFakeRepo()
		repo.subs["sub_done"] = models.Subscription{
			ProviderSubscriptionID: "sub_done",
			Status:                 models.StatusCanceled,
			ProviderUpdatedAt:      1000,
		}
		provider.On("ListActiveSubscriptions", mock.Anything).
			Return([]*providerevent.SubscriptionObject{}, nil)

		svc := New(provider, repo, nil, newTestMetrics(), newNoopLogger())
		svc.ReconcileAll(ctx)

		provider.AssertNotCalled(t, "GetSubscription", mock.Anything, mock.Anything)
	})

	t.Run("ошибка списка провайдера завершает проход без паники", func(t *testing.T) {
		provider := new(ProviderMock)
		repo := newFakeRepo()
		provider.On("ListActiveSubscriptions", mock.Anything).
			Return(nil, errors.New("provider unavailable"))

		svc := New(provider, repo, nil, newTestMetrics(), newNoopLogger())
		svc.ReconcileAll(ctx)

		assert.Empty(t, repo.subs)
	})
}
