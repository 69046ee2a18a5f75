// Package metrics регистрирует счётчики Prometheus для конвейера событий
// и реконсиляции. Метрики передаются сервисам явным коллаборатором,
// чтобы конкурентные тесты не делили глобальное состояние.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics содержит счётчики подсистемы синхронизации подписок.
type Metrics struct {
	EventsTotal    *prometheus.CounterVec // исход обработки webhook-события
	StaleUpdates   prometheus.Counter     // обновления, отклонённые проверкой упорядочивания
	ReconcileTotal *prometheus.CounterVec // исход реконсиляции одной подписки
	ProviderErrors prometheus.Counter     // ошибки вызовов API провайдера
}

// New создаёт и регистрирует метрики в переданном Registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing_sync",
			Name:      "webhook_events_total",
			Help:      "Total number of webhook events by processing outcome.",
		}, []string{"outcome"}),

		StaleUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "billing_sync",
			Name:      "stale_updates_total",
			Help:      "Total number of updates discarded by the ordering check.",
		}),

		ReconcileTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing_sync",
			Name:      "reconcile_total",
			Help:      "Total number of reconciled subscriptions by result.",
		}, []string{"result"}),

		ProviderErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "billing_sync",
			Name:      "provider_errors_total",
			Help:      "Total number of failed billing provider API calls.",
		}),
	}
}
