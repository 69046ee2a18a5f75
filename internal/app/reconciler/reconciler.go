// Package reconciler собирает фоновое приложение реконсиляции подписок.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/billing-sync/internal/config"
	"github.com/magabrotheeeer/billing-sync/internal/metrics"
	"github.com/magabrotheeeer/billing-sync/internal/paymentprovider"
	"github.com/magabrotheeeer/billing-sync/internal/rabbitmq"
	reconcilerservice "github.com/magabrotheeeer/billing-sync/internal/services/reconciler"
	"github.com/magabrotheeeer/billing-sync/internal/storage/repository"
)

// App представляет приложение реконсиляции.
type App struct {
	service  *reconcilerservice.Service
	interval time.Duration
	conn     *amqp.Connection
	ch       *amqp.Channel
	db       *repository.Storage
	logger   *slog.Logger
}

func waitForDB(db *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения реконсиляции.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn)
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}

	if err := waitForDB(db); err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}

	providerClient := paymentprovider.NewHTTPClient(
		cfg.Provider.APIURL, cfg.Provider.ShopID, cfg.Provider.SecretKey, cfg.Provider.ProviderTimeout)

	m := metrics.New(prometheus.DefaultRegisterer)
	service := reconcilerservice.New(providerClient, db, rabbitmq.NewPublisher(ch), m, logger)

	return &App{
		service:  service,
		interval: cfg.ReconcileInterval,
		conn:     conn,
		ch:       ch,
		db:       db,
		logger:   logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", "error", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", "error", err)
		}
	}
}

// Run запускает плановую реконсиляцию и блокируется до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	a.service.Run(ctx, a.interval)

	a.logger.Info("shutting down reconciler")

	closeResources(a.ch, a.conn, a.logger)
	_ = a.db.DB.Close()

	return nil
}
