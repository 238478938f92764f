package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/assets"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/config"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery/storage"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/events"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/mail"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/recipients"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/tracking"
	"github.com/Steliosgeox/kktires-crm-sub002/shared/logger"
	"github.com/Steliosgeox/kktires-crm-sub002/shared/postgresql"
	"github.com/Steliosgeox/kktires-crm-sub002/shared/rabbitmq"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("DELIVERY_WORKER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/delivery-worker/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// One identity per process lifetime; leases held by a crashed
	// worker expire rather than being reused.
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	appLogger.Info("Starting delivery worker",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("worker_id", workerID),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	var rabbitClient *rabbitmq.Client
	var publisher delivery.EventPublisher
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		publisher = events.NewPublisher(rabbitClient, appLogger.Logger)

		appLogger.Info("RabbitMQ connection established")
	}

	transport, err := mail.NewFromConfig(context.Background(), &cfg.Mail, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize mail transport: %w", err)
	}
	if transport == nil {
		appLogger.Warn("No mail provider configured, claimed jobs will fail")
	}

	store := storage.NewStorage(dbClient, appLogger.Logger)
	resolver := recipients.NewResolver(dbClient.GetDB(), appLogger.Logger)
	preparer := assets.NewFetcher(dbClient.GetDB(), appLogger.Logger)
	signer := tracking.NewSigner(cfg.Tracking.Secret, cfg.Tracking.BaseURL)

	engine := delivery.NewEngine(store, resolver, transport, preparer, signer, publisher,
		appLogger.Logger, delivery.Config{
			LeaseTimeout: cfg.Delivery.LeaseTimeout,
			BatchLimit:   cfg.Delivery.BatchLimit,
			Concurrency:  cfg.Delivery.Concurrency,
			YieldDelay:   cfg.Delivery.YieldDelay,
			RequeueDelay: cfg.Delivery.RequeueDelay,
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Delivery.TickInterval)
	defer ticker.Stop()

	appLogger.Info("Delivery worker started",
		slog.Duration("tick_interval", cfg.Delivery.TickInterval),
		slog.Duration("time_budget", cfg.Delivery.TimeBudget),
	)

	// Each tick mimics one bounded invocation: claim due jobs, work
	// within the time budget, release or finish, and go idle again.
	tick := func() {
		summary, err := engine.ProcessDueJobs(ctx, workerID, cfg.Delivery.TimeBudget, cfg.Delivery.MaxJobs)
		if err != nil {
			appLogger.Error("Tick failed",
				slog.Any("error", err),
			)
			return
		}

		if summary.Claimed > 0 {
			appLogger.Info("Tick complete",
				slog.Int("claimed", summary.Claimed),
				slog.Int("jobs", summary.ProcessedJobs),
				slog.Int("sent", summary.Sent),
				slog.Int("failed", summary.Failed),
				slog.Duration("elapsed", summary.Elapsed),
			)
		}
	}

	tick()

loop:
	for {
		select {
		case <-ticker.C:
			tick()
		case sig := <-quit:
			appLogger.Info("Received signal, shutting down gracefully",
				slog.String("signal", sig.String()),
			)
			break loop
		}
	}

	cancel()

	if dbClient != nil {
		dbClient.Close()
	}
	if rabbitClient != nil {
		rabbitClient.Close()
	}

	appLogger.Info("Delivery worker shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
