package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/oguzhanali/nft-marketplace/internal/broadcast"
	"github.com/oguzhanali/nft-marketplace/internal/config"
)

// Config holds the broadcast service configuration.
type Config struct {
	ServerAddr    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LogLevel      string
}

func loadConfig() *Config {
	return &Config{
		ServerAddr:    config.GetEnv("SERVER_ADDR", ":8081"),
		RedisAddr:     config.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: config.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       config.GetEnvInt("REDIS_DB", 0),
		LogLevel:      config.GetEnv("LOG_LEVEL", "info"),
	}
}

func main() {
	_ = godotenv.Load()

	cfg := loadConfig()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", "broadcast").
		Logger()

	log.Info().Msg("starting broadcast service")

	subscriber, err := broadcast.NewSubscriber(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer subscriber.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := subscriber.SubscribeAll(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to bid events")
	}
	log.Info().Msg("subscribed to bid events")

	manager := broadcast.NewManager(log)
	go manager.Run()

	eventChan := make(chan *broadcast.Event, 256)
	go func() {
		if err := subscriber.Listen(ctx, eventChan); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("redis listener stopped")
		}
	}()

	// Forward Redis Pub/Sub messages to WebSocket clients.
	go func() {
		for event := range eventChan {
			manager.Broadcast(event.AssetID, []byte(event.Payload))
		}
	}()

	handler := broadcast.NewHandler(manager, log)
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler.SetupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ServerAddr).Msg("broadcast service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down broadcast service")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("broadcast service stopped gracefully")
}
