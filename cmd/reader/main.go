package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reservation-service/internal/api"
	"reservation-service/internal/config"
	"reservation-service/internal/kafka"
	"reservation-service/internal/query"
	redisCache "reservation-service/internal/redis"
	"reservation-service/internal/repository"
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

// startHTTPServer starts the read-only HTTP server
func startHTTPServer(cfg *config.Config, querySvc *query.Service) *http.Server {
	readerHandler := api.NewReaderHandler(querySvc)
	router := readerHandler.SetupReaderRoutes()
	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerAddr, cfg.ServerPort)

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Reader Service HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	return server
}

// startStateConsumer tails the state topic to keep this replica's cache warm
func startStateConsumer(ctx context.Context, consumer *kafka.Consumer, cache *redisCache.CacheClient) {
	go func() {
		if err := consumer.ConsumeState(ctx, cache); err != nil {
			log.Error().Err(err).Msg("State consumption stopped")
		}
	}()
}

// gracefulShutdown handles graceful shutdown of the service
func gracefulShutdown(cancel context.CancelFunc, server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Reader Service...")

	// Cancel context to stop Kafka consumption
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Reader Service stopped")
}

func main() {
	setupLogging()
	log.Info().Msg("Starting Reader Service...")

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	db := initializeDatabase(cfg)
	defer db.Close()

	cache := initializeCache(cfg)
	defer cache.Close()

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup+"-reader", cfg.KafkaStateTopicName)
	defer consumer.Close()

	store := repository.NewPostgresStore(db)
	querySvc := query.NewService(store, cache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := startHTTPServer(cfg, querySvc)
	startStateConsumer(ctx, consumer, cache)

	log.Info().Str("instance_id", cfg.InstanceID).Msg("Reader Service started")

	gracefulShutdown(cancel, server)
}
