// Package event содержит конвейер обработки webhook-событий провайдера:
// идемпотентный диспетчер поверх журнала событий и применение
// нормализованного события к хранилищу подписок.
package event

import (
	"context"
	"log/slog"

	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
	"github.com/magabrotheeeer/billing-sync/internal/metrics"
	"github.com/magabrotheeeer/billing-sync/internal/models"
	"github.com/magabrotheeeer/billing-sync/internal/providerevent"
	"github.com/magabrotheeeer/billing-sync/internal/rabbitmq"
)

// SubscriptionRepository определяет запись подписок с проверкой упорядочивания.
type SubscriptionRepository interface {
	UpsertSubscription(ctx context.Context, sub models.Subscription) (bool, error)
	MarkSubscriptionCanceled(ctx context.Context, providerSubscriptionID string, providerUpdatedAt int64) (bool, error)
}

// Publisher публикует уведомления об применённых изменениях.
type Publisher interface {
	Publish(exchange, routingKey string, message any) error
}

// Service применяет webhook-события к локальной записи подписки.
type Service struct {
	dispatcher *Dispatcher
	repo       SubscriptionRepository
	publisher  Publisher
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// New создает новый экземпляр Service. Publisher может быть nil,
// тогда уведомления не публикуются.
func New(dispatcher *Dispatcher, repo SubscriptionRepository, publisher Publisher, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		dispatcher: dispatcher,
		repo:       repo,
		publisher:  publisher,
		metrics:    m,
		log:        log,
	}
}

// ProcessEvent обрабатывает одно webhook-событие от начала до конца:
// занятие идентификатора, нормализация, условная запись. Дубликат и
// устаревшее событие — штатные исходы, не ошибки. Неразбираемое или
// неинтересное событие помечается обработанным: повторять его доставку
// бессмысленно. Провал хранилища снимает занятие, чтобы следующая
// доставка провайдера повторила обработку.
func (s *Service) ProcessEvent(ctx context.Context, env providerevent.Envelope) (Outcome, error) {
	log := s.log.With(slog.String("event_id", env.ID), slog.String("event_type", env.Type))

	outcome, err := s.dispatcher.Process(ctx, env.ID, func(ctx context.Context) error {
		instr, nerr := providerevent.Normalize(env)
		if nerr != nil {
			log.Warn("event not applicable, marking processed", sl.Err(nerr))
			return nil
		}
		return s.apply(ctx, log, instr)
	})

	s.metrics.EventsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (s *Service) apply(ctx context.Context, log *slog.Logger, instr *providerevent.Instruction) error {
	switch instr.Action {
	case providerevent.ActionUpsert:
		applied, err := s.repo.UpsertSubscription(ctx, *instr.Subscription)
		if err != nil {
			return err
		}
		if !applied {
			s.metrics.StaleUpdates.Inc()
			log.Info("stale update discarded by ordering check",
				slog.String("provider_subscription_id", instr.Subscription.ProviderSubscriptionID),
				slog.Int64("provider_updated_at", instr.Subscription.ProviderUpdatedAt))
			return nil
		}
		log.Info("subscription upserted",
			slog.String("provider_subscription_id", instr.Subscription.ProviderSubscriptionID),
			slog.String("status", instr.Subscription.Status))
		s.notify(log, instr.Subscription.ProviderSubscriptionID, instr.Subscription.UserUID, instr.Subscription.Status)

	case providerevent.ActionCancel:
		applied, err := s.repo.MarkSubscriptionCanceled(ctx, instr.ProviderSubscriptionID, instr.ProviderUpdatedAt)
		if err != nil {
			return err
		}
		if !applied {
			s.metrics.StaleUpdates.Inc()
			log.Info("stale cancel discarded by ordering check",
				slog.String("provider_subscription_id", instr.ProviderSubscriptionID))
			return nil
		}
		log.Info("subscription canceled",
			slog.String("provider_subscription_id", instr.ProviderSubscriptionID))
		s.notify(log, instr.ProviderSubscriptionID, "", models.StatusCanceled)
	}
	return nil
}

// notify публикует уведомление об изменении. Ошибка публикации только
// логируется: уведомления вторичны и не должны проваливать событие.
func (s *Service) notify(log *slog.Logger, providerSubscriptionID, userUID, status string) {
	if s.publisher == nil {
		return
	}
	msg := models.SubscriptionChange{
		ProviderSubscriptionID: providerSubscriptionID,
		UserUID:                userUID,
		Status:                 status,
		Source:                 "webhook",
	}
	if err := s.publisher.Publish(rabbitmq.Exchange, rabbitmq.RoutingKeyChanged, msg); err != nil {
		log.Warn("failed to publish subscription change", sl.Err(err))
	}
}
