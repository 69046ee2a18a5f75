// Package reconciler сверяет локальные записи подписок с состоянием
// платёжного провайдера. Пропущенные, потерянные или навсегда проваленные
// webhook-доставки исправляются здесь: снимок подписки запрашивается у
// провайдера напрямую и проходит через тот же путь записи, что и события
// реального времени.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
	"github.com/magabrotheeeer/billing-sync/internal/metrics"
	"github.com/magabrotheeeer/billing-sync/internal/models"
	"github.com/magabrotheeeer/billing-sync/internal/paymentprovider"
	"github.com/magabrotheeeer/billing-sync/internal/providerevent"
	"github.com/magabrotheeeer/billing-sync/internal/rabbitmq"
)

// SubscriptionRepository определяет запись подписок с проверкой упорядочивания.
type SubscriptionRepository interface {
	UpsertSubscription(ctx context.Context, sub models.Subscription) (bool, error)
	ListSubscriptions(ctx context.Context) ([]*models.Subscription, error)
}

// Publisher публикует уведомления об исправленном дрейфе.
type Publisher interface {
	Publish(exchange, routingKey string, message any) error
}

// Result — итог реконсиляции одной подписки.
type Result string

const (
	// ResultApplied — локальная запись отставала и была исправлена.
	ResultApplied Result = "applied"
	// ResultUnchanged — локальная запись уже актуальна.
	ResultUnchanged Result = "unchanged"
)

// Service выполняет фоновую и по-требованию реконсиляцию подписок.
type Service struct {
	provider  paymentprovider.Client
	repo      SubscriptionRepository
	publisher Publisher
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// New создает новый экземпляр Service. Publisher может быть nil.
func New(provider paymentprovider.Client, repo SubscriptionRepository, publisher Publisher, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		provider:  provider,
		repo:      repo,
		publisher: publisher,
		metrics:   m,
		log:       log,
	}
}

// ReconcileSubscription запрашивает у провайдера актуальный снимок подписки
// и применяет его через тот же условный upsert, что и webhook-конвейер.
// Ответ 404 от провайдера не отменяет локальную запись автоматически —
// только предупреждение в лог и ошибка вызывающей стороне.
// Ошибки провайдера не ретраятся внутри: повтор — забота вызывающего
// или следующего планового прохода.
func (s *Service) ReconcileSubscription(ctx context.Context, providerSubscriptionID string) (Result, error) {
	const op = "reconciler.ReconcileSubscription"

	obj, err := s.provider.GetSubscription(ctx, providerSubscriptionID)
	if err != nil {
		s.metrics.ProviderErrors.Inc()
		if errors.Is(err, paymentprovider.ErrSubscriptionNotFound) {
			s.log.Warn("subscription missing at provider, local record left untouched",
				slog.String("provider_subscription_id", providerSubscriptionID))
		}
		return ResultUnchanged, fmt.Errorf("%s: %w", op, err)
	}

	sub, err := providerevent.SubscriptionFromObject(obj)
	if err != nil {
		return ResultUnchanged, fmt.Errorf("%s: %w", op, err)
	}

	applied, err := s.repo.UpsertSubscription(ctx, *sub)
	if err != nil {
		return ResultUnchanged, fmt.Errorf("%s: %w", op, err)
	}
	if !applied {
		s.metrics.ReconcileTotal.WithLabelValues(string(ResultUnchanged)).Inc()
		return ResultUnchanged, nil
	}

	s.metrics.ReconcileTotal.WithLabelValues(string(ResultApplied)).Inc()
	s.log.Info("drift corrected from provider snapshot",
		slog.String("provider_subscription_id", sub.ProviderSubscriptionID),
		slog.String("status", sub.Status))
	s.notify(sub)
	return ResultApplied, nil
}

// ReconcileAll сверяет все подписки, которые провайдер считает активными,
// а затем локальные записи, о которых провайдер больше не сообщает.
// Ошибки по отдельным подпискам логируются и не прерывают проход.
func (s *Service) ReconcileAll(ctx context.Context) {
	s.log.Info("starting reconciliation pass")

	snapshots, err := s.provider.ListActiveSubscriptions(ctx)
	if err != nil {
		s.metrics.ProviderErrors.Inc()
		s.log.Error("failed to list provider subscriptions, retrying next pass", sl.Err(err))
		return
	}

	seen := make(map[string]struct{}, len(snapshots))
	var corrected int
	for _, obj := range snapshots {
		seen[obj.ID] = struct{}{}
		sub, err := providerevent.SubscriptionFromObject(obj)
		if err != nil {
			s.log.Warn("skipping malformed provider snapshot", sl.Err(err))
			continue
		}
		applied, err := s.repo.UpsertSubscription(ctx, *sub)
		if err != nil {
			s.log.Error("failed to apply provider snapshot", sl.Err(err),
				slog.String("provider_subscription_id", sub.ProviderSubscriptionID))
			continue
		}
		if applied {
			corrected++
			s.metrics.ReconcileTotal.WithLabelValues(string(ResultApplied)).Inc()
			s.notify(sub)
		} else {
			s.metrics.ReconcileTotal.WithLabelValues(string(ResultUnchanged)).Inc()
		}
	}

	// Локальные активные записи, которых нет в списке провайдера,
	// сверяются поштучно: так отмена, чей webhook потерялся, доедет сюда.
	local, err := s.repo.ListSubscriptions(ctx)
	if err != nil {
		s.log.Error("failed to list local subscriptions", sl.Err(err))
		return
	}
	for _, sub := range local {
		if _, ok := seen[sub.ProviderSubscriptionID]; ok {
			continue
		}
		if sub.Status == models.StatusCanceled {
			continue
		}
		if _, err := s.ReconcileSubscription(ctx, sub.ProviderSubscriptionID); err != nil {
			s.log.Warn("failed to reconcile local subscription", sl.Err(err),
				slog.String("provider_subscription_id", sub.ProviderSubscriptionID))
		}
	}

	s.log.Info("reconciliation pass finished", slog.Int("corrected", corrected))
}

// Run запускает плановую реконсиляцию с заданным интервалом
// и блокируется до отмены контекста.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	s.ReconcileAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			s.ReconcileAll(ctx)
		}
	}
}

func (s *Service) notify(sub *models.Subscription) {
	if s.publisher == nil {
		return
	}
	msg := models.SubscriptionChange{
		ProviderSubscriptionID: sub.ProviderSubscriptionID,
		UserUID:                sub.UserUID,
		Status:                 sub.Status,
		Source:                 "reconciler",
	}
	if err := s.publisher.Publish(rabbitmq.Exchange, rabbitmq.RoutingKeyChanged, msg); err != nil {
		s.log.Warn("failed to publish subscription change", sl.Err(err))
	}
}
