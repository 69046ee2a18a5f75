// Package billingsync собирает HTTP-приложение синхронизации подписок:
// хранилище, кеш, RabbitMQ, клиент провайдера, сервисы и маршруты.
package billingsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/billing-sync/internal/config"
	"github.com/magabrotheeeer/billing-sync/internal/metrics"
	"github.com/magabrotheeeer/billing-sync/internal/migrations"
	"github.com/magabrotheeeer/billing-sync/internal/paymentprovider"
	"github.com/magabrotheeeer/billing-sync/internal/rabbitmq"
	accessservice "github.com/magabrotheeeer/billing-sync/internal/services/access"
	eventservice "github.com/magabrotheeeer/billing-sync/internal/services/event"
	reconcilerservice "github.com/magabrotheeeer/billing-sync/internal/services/reconciler"
	"github.com/magabrotheeeer/billing-sync/internal/storage/cache"
	"github.com/magabrotheeeer/billing-sync/internal/storage/repository"
)

// App представляет HTTP-приложение синхронизации подписок.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	cache  *cache.Cache
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// New создает новый экземпляр App со всеми зависимостями.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	publisher := rabbitmq.NewPublisher(ch)

	providerClient := paymentprovider.NewHTTPClient(
		cfg.Provider.APIURL, cfg.Provider.ShopID, cfg.Provider.SecretKey, cfg.Provider.ProviderTimeout)

	m := metrics.New(prometheus.DefaultRegisterer)

	dispatcher := eventservice.NewDispatcher(db, logger)
	eventSvc := eventservice.New(dispatcher, db, publisher, m, logger)
	reconcilerSvc := reconcilerservice.New(providerClient, db, publisher, m, logger)
	accessSvc := accessservice.New(db, cacheRedis, publisher, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, eventSvc, accessSvc, reconcilerSvc)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		cache:  cacheRedis,
		conn:   conn,
		ch:     ch,
	}, nil
}

// Run запускает HTTP-сервер и блокируется до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		if chErr := a.ch.Close(); chErr != nil {
			a.logger.Error("failed to close channel", slog.Any("err", chErr))
		}
		if connErr := a.conn.Close(); connErr != nil {
			a.logger.Error("failed to close connection", slog.Any("err", connErr))
		}
		_ = a.cache.Close()
		_ = a.db.DB.Close()
		return err
	}
}
