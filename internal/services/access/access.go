// Package access отдаёт остальному приложению производное состояние доступа
// и локальную отмену подписки. Строки подписок снаружи не изменяются и не
// читаются напрямую — только через этот сервис.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	accesslib "github.com/magabrotheeeer/billing-sync/internal/lib/access"
	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
	"github.com/magabrotheeeer/billing-sync/internal/models"
	"github.com/magabrotheeeer/billing-sync/internal/rabbitmq"
	"github.com/magabrotheeeer/billing-sync/internal/storage/repository"
)

// SubscriptionRepository определяет чтение и локальную отмену подписок.
type SubscriptionRepository interface {
	FindSubscriptionByUserUID(ctx context.Context, userUID string) (*models.Subscription, error)
	FindSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error)
	MarkSubscriptionCanceled(ctx context.Context, providerSubscriptionID string, providerUpdatedAt int64) (bool, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Publisher публикует уведомления о локальных отменах.
type Publisher interface {
	Publish(exchange, routingKey string, message any) error
}

const accessCacheTTL = time.Minute

// Service реализует вычисление доступа с кешированием и локальную отмену.
type Service struct {
	repo      SubscriptionRepository
	cache     Cache
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time // подменяется в тестах
}

// New создает новый экземпляр Service. Publisher может быть nil.
func New(repo SubscriptionRepository, cache Cache, publisher Publisher, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// GetAccessStatus возвращает состояние платного доступа пользователя.
// Отсутствие записи подписки — безопасный дефолт "нет доступа", а не ошибка:
// сбои этой подсистемы не должны ломать несвязанные сценарии приложения.
func (s *Service) GetAccessStatus(ctx context.Context, userUID string) (*models.AccessStatus, error) {
	cacheKey := accessCacheKey(userUID)

	var cached models.AccessStatus
	found, err := s.cache.Get(cacheKey, &cached)
	if err != nil {
		s.log.Warn("failed to read access cache", slog.String("key", cacheKey), sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	sub, err := s.repo.FindSubscriptionByUserUID(ctx, userUID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	status := &models.AccessStatus{
		HasPaidAccess: accesslib.HasPaidAccess(sub, s.now()),
		Subscription:  sub,
	}

	if err := s.cache.Set(cacheKey, status, accessCacheTTL); err != nil {
		s.log.Warn("failed to cache access status", slog.String("key", cacheKey), sl.Err(err))
	}
	return status, nil
}

// CancelLocalSubscription синхронно помечает подписку отменённой. Используется
// сценарием удаления аккаунта, которому нужна гарантированная отмена до
// удаления пользователя. Меткой упорядочивания служит текущее время: более
// позднее событие провайдера по-прежнему сможет перезаписать запись.
func (s *Service) CancelLocalSubscription(ctx context.Context, providerSubscriptionID string) error {
	const op = "access.CancelLocalSubscription"

	sub, err := s.repo.FindSubscriptionByProviderID(ctx, providerSubscriptionID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	applied, err := s.repo.MarkSubscriptionCanceled(ctx, providerSubscriptionID, s.now().Unix())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !applied {
		// Запись уже отменена данными не старше текущего момента.
		return nil
	}

	if err := s.cache.Invalidate(accessCacheKey(sub.UserUID)); err != nil {
		s.log.Warn("failed to invalidate access cache", slog.String("user_uid", sub.UserUID), sl.Err(err))
	}

	if s.publisher != nil {
		msg := models.SubscriptionChange{
			ProviderSubscriptionID: providerSubscriptionID,
			UserUID:                sub.UserUID,
			Status:                 models.StatusCanceled,
			Source:                 "local",
		}
		if err := s.publisher.Publish(rabbitmq.Exchange, rabbitmq.RoutingKeyChanged, msg); err != nil {
			s.log.Warn("failed to publish subscription change", sl.Err(err))
		}
	}

	s.log.Info("subscription canceled locally", slog.String("provider_subscription_id", providerSubscriptionID))
	return nil
}

// WithNow подменяет источник времени. Нужен тестам, чтобы не зависеть
// от системных часов.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

func accessCacheKey(userUID string) string {
	return "access:" + userUID
}
