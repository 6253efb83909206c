// Package api собирает HTTP-приложение: хранилище, кеш, брокер сообщений,
// клиенты блокчейнов, сервисы и маршруты.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/cache"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/chain"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/chain/bsc"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/chain/tron"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/config"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/jwt"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/metrics"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/migrations"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/models"
	paymentservice "github.com/magabrotheeeer/crypto-subscriptions/internal/services/payment"
	subservice "github.com/magabrotheeeer/crypto-subscriptions/internal/services/subscription"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/storage/repository"
)

// App представляет HTTP-приложение платёжного сервиса.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	conn   *amqp.Connection
	ch     *amqp.Channel
	bsc    *bsc.Client
}

// New создает новый экземпляр App.
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
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetPaymentQueues())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	publisher := &rabbitmq.ChannelPublisher{Ch: ch}

	tronClient := tron.New(cfg.Tron, logger)
	bscClient, err := bsc.New(cfg.Bsc, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to init BSC client: %w", err)
	}
	clients := map[models.Currency]chain.Client{
		models.CurrencyUSDTTRC20: tronClient,
		models.CurrencyUSDTBEP20: bscClient,
	}

	metrics.InitMetrics()

	subscriptionService := subservice.New(db, cacheRedis, cfg.Subscriptions.DurationDays, logger)
	paymentService := paymentservice.New(db, subscriptionService, cacheRedis, publisher,
		clients, cfg.Subscriptions, logger)
	jwtMaker := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, jwtMaker, paymentService, subscriptionService, db)

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
		conn:   conn,
		ch:     ch,
		bsc:    bscClient,
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
		a.close()
		return err
	}
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", slog.Any("err", err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", slog.Any("err", err))
	}
	a.bsc.Close()
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close database", slog.Any("err", err))
	}
}
