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
	"github.com/rs/zerolog/log"

	"github.com/aamakeev/director-extension/internal/config"
	"github.com/aamakeev/director-extension/internal/sessionapi"
	"github.com/aamakeev/director-extension/internal/sessionstore"
	"github.com/aamakeev/director-extension/internal/tipmenu"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadSessionAPI(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	var store *sessionstore.Store
	switch {
	case cfg.RedisURL != "":
		store, err = sessionstore.NewRedis(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
	case cfg.AllowMemoryFallback:
		log.Warn().Msg("REDIS_URL not set, sessions will not survive restarts")
		store = sessionstore.NewMemory()
	default:
		log.Warn().Msg("REDIS_URL not set and ALLOW_MEMORY_FALLBACK is off, session storage is disabled")
		store = sessionstore.NewDisabled()
	}

	log.Info().
		Str("addr", cfg.Addr).
		Str("storage", store.Mode()).
		Msg("starting session API")

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      sessionapi.New(store, tipmenu.New(cfg.MenuOrigins), cfg.APIKey).Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("session API shutdown complete")
}
