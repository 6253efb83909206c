// Package scheduler собирает приложение фонового планировщика:
// периодическую сверку платежей и архивирование публикаций.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/cache"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/chain"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/chain/bsc"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/chain/tron"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/config"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/metrics"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/models"
	paymentservice "github.com/magabrotheeeer/crypto-subscriptions/internal/services/payment"
	schedulerservice "github.com/magabrotheeeer/crypto-subscriptions/internal/services/scheduler"
	subservice "github.com/magabrotheeeer/crypto-subscriptions/internal/services/subscription"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/storage/repository"
)

// App представляет приложение планировщика.
type App struct {
	schedulerService *schedulerservice.Service
	conn             *amqp.Connection
	ch               *amqp.Channel
	db               *repository.Storage
	bsc              *bsc.Client
	logger           *slog.Logger
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	for range 10 {
		if err := db.CheckDatabaseReady(ctx); err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetPaymentQueues())
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	publisher := &rabbitmq.ChannelPublisher{Ch: ch}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := waitForDB(ctx, db); err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	tronClient := tron.New(cfg.Tron, logger)
	bscClient, err := bsc.New(cfg.Bsc, logger)
	if err != nil {
		closeResources(ch, conn, logger)
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
	schedulerService := schedulerservice.New(paymentService, db, cfg.Scheduler, logger)

	return &App{
		schedulerService: schedulerService,
		conn:             conn,
		ch:               ch,
		db:               db,
		bsc:              bscClient,
		logger:           logger,
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

// Run запускает фоновые циклы и блокируется до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	go a.schedulerService.RunPaymentSweep(ctx)
	go a.schedulerService.RunPostArchival(ctx)

	<-ctx.Done()

	a.logger.Info("shutting down scheduler service")
	closeResources(a.ch, a.conn, a.logger)
	a.bsc.Close()
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close database", slog.Any("err", err))
	}
	return nil
}
