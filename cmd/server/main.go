package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reservation-service/internal/api"
	"reservation-service/internal/config"
	"reservation-service/internal/kafka"
	"reservation-service/internal/manager"
	"reservation-service/internal/metrics"
	"reservation-service/internal/query"
	redisCache "reservation-service/internal/redis"
	"reservation-service/internal/repository"
	"reservation-service/internal/sweeper"
)

// setupLogging configures structured logging
func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// initializeDatabase sets up and tests the database connection
func initializeDatabase(cfg *config.Config) *sqlx.DB {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}

	log.Info().Msg("Database connection established")
	return db
}

// initializeCache sets up Redis cache with cluster support
func initializeCache(cfg *config.Config) *redisCache.CacheClient {
	cache := redisCache.NewCacheClient(
		cfg.RedisAddrs,
		cfg.RedisPassword,
		cfg.RedisClusterMode,
		cfg.RedisTTL,
		cfg.RedisKeyPrefix,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	log.Info().Msg("Redis connection established")
	return cache
}

// startHTTPServer starts the HTTP server with the metrics endpoint mounted
func startHTTPServer(cfg *config.Config, router *gin.Engine) *http.Server {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Reservation Service HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	return server
}

// gracefulShutdown handles graceful shutdown of the service
func gracefulShutdown(cancel context.CancelFunc, server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Reservation Service...")

	// Stop the sweeper and outbox publisher
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Reservation Service stopped")
}

func main() {
	setupLogging()
	log.Info().Msg("Starting Reservation Service...")

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	metrics.Register(prometheus.DefaultRegisterer)

	db := initializeDatabase(cfg)
	defer db.Close()

	cache := initializeCache(cfg)
	defer cache.Close()

	store := repository.NewPostgresStore(db)
	outboxRepo := repository.NewOutboxRepository(db)

	mgr, err := manager.NewManager(store, cache, manager.Config{
		DefaultTTL:        cfg.ReservationTTL,
		MaxReservationQty: cfg.MaxReservationQty,
		LockTimeout:       cfg.LockTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create reservation manager")
	}

	querySvc := query.NewService(store, cache)

	publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopicName, cfg.KafkaStateTopicName)
	defer publisher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background workers: event fan-out and TTL reclamation
	go publisher.RunOutboxPublisher(ctx, outboxRepo, kafka.OutboxConfig{
		LockKey:      cfg.OutboxLockKey,
		BatchSize:    cfg.OutboxBatchSize,
		PollInterval: cfg.OutboxPollInterval,
	})

	sw := sweeper.NewSweeper(store, mgr, sweeper.Config{
		SweepInterval:     cfg.SweepInterval,
		BatchSize:         cfg.SweepBatchSize,
		ReconcileInterval: cfg.ReconcileInterval,
	})
	go sw.Run(ctx)

	handler := api.NewServerHandler(mgr, querySvc)
	server := startHTTPServer(cfg, handler.SetupRoutes())

	log.Info().Str("instance_id", cfg.InstanceID).Msg("Reservation Service started")

	gracefulShutdown(cancel, server)
}
