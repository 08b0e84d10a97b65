/**
 * @description
 * This is the main entry point for the transfer-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * the distributed account lock, the risk engine, the notification dispatcher,
 * repositories, the core application service, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client backing the transfer lock.
 * - github.com/robfig/cron/v3: Scheduler for the stale transfer sweep.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/realtime: AMQP publisher for realtime client updates.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/vaultpay/transfer-service/internal/api"
	"github.com/vaultpay/transfer-service/internal/app"
	"github.com/vaultpay/transfer-service/internal/config"
	"github.com/vaultpay/transfer-service/internal/domain"
	"github.com/vaultpay/transfer-service/internal/lock"
	"github.com/vaultpay/transfer-service/internal/notify"
	"github.com/vaultpay/transfer-service/internal/risk"
	"github.com/vaultpay/transfer-service/internal/store"
	"github.com/vaultpay/transfer-service/pkg/realtime"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting transfer-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Redis backs the distributed per-account transfer lock. The service cannot
	// serialize concurrent transfers without it, so a failed connection is fatal.
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"redis url must be configured\" env=REDIS_URL")
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"redis url parse failed\" err=%v", err)
	}
	redisClient := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"redis ping failed\" err=%v", pingErr)
	}
	defer redisClient.Close()
	log.Println("level=info component=bootstrap msg=\"redis connected\"")

	// Initialize the AMQP publisher for realtime client updates. Missing broker
	// config should not prevent the service from booting; realtime signals degrade
	// to a no-op.
	var publisher realtime.Publisher
	if amqpPublisher, pubErr := realtime.NewAMQPPublisher(cfg.RabbitMQURL); pubErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"amqp publisher unavailable; using fallback\" err=%v", pubErr)
		publisher = realtime.NoopPublisher{}
	} else {
		defer amqpPublisher.Close()
		publisher = amqpPublisher
		log.Println("level=info component=bootstrap msg=\"amqp publisher connected\"")
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Distributed account lock and risk scoring engine.
	accountLock := lock.NewAccountLock(redisClient)
	riskEngine := risk.NewEngine(repository)

	// Build the provider failover chains for the notification fan-out. A blank
	// endpoint leaves the provider out of its chain.
	chains := notify.ProviderChains{}
	appendProvider := func(channel domain.Channel, name, url, key string) {
		if strings.TrimSpace(url) == "" {
			log.Printf("level=warn component=bootstrap msg=\"notification provider not configured\" provider=%s", name)
			return
		}
		chains[channel] = append(chains[channel], notify.NewHTTPProvider(name, url, key))
	}
	appendProvider(domain.ChannelEmail, "email-primary", cfg.EmailPrimaryURL, cfg.EmailPrimaryAPIKey)
	appendProvider(domain.ChannelEmail, "email-fallback", cfg.EmailFallbackURL, cfg.EmailFallbackAPIKey)
	appendProvider(domain.ChannelSMS, "sms-primary", cfg.SMSPrimaryURL, cfg.SMSPrimaryAPIKey)
	appendProvider(domain.ChannelSMS, "sms-fallback", cfg.SMSFallbackURL, cfg.SMSFallbackAPIKey)

	dispatcher := notify.NewDispatcher(repository, chains)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	go dispatcher.Run(rootCtx)

	// Initialize the core application service with its dependencies.
	transferService := app.NewService(
		repository,
		accountLock,
		riskEngine,
		dispatcher,
		publisher,
		cfg.LockTTL(),
		cfg.TransferFeeMinimum,
	)

	// Schedule the stale transfer sweep.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ReconcileCronSpec, func() {
		sweepCtx, cancelSweep := context.WithTimeout(rootCtx, time.Minute)
		defer cancelSweep()
		if _, err := transferService.FailStaleTransfers(sweepCtx, cfg.StaleTransferMaxAge()); err != nil {
			log.Printf("level=error component=scheduler msg=\"stale transfer sweep run failed\" err=%v", err)
		}
	}); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"invalid reconcile cron spec\" spec=%q err=%v", cfg.ReconcileCronSpec, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize the API handlers.
	transferHandlers := api.NewTransferHandlers(transferService, cfg.StaleTransferMaxAge())

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.TransferRoutes(transferHandlers, cfg.JWTSecret, cfg.InternalAPIKey))

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	// Stop the dispatcher worker and let in-flight retries drain.
	cancelRoot()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
