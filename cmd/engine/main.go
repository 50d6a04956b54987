package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aamakeev/director-extension/internal/bus"
	"github.com/aamakeev/director-extension/internal/config"
	"github.com/aamakeev/director-extension/internal/game"
	"github.com/aamakeev/director-extension/internal/gateway"
	"github.com/aamakeev/director-extension/internal/sessionclient"
	"github.com/aamakeev/director-extension/internal/snapshot"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadEngine(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Str("nats_url", cfg.NATSURL).
		Str("gateway_addr", cfg.GatewayAddr).
		Msg("starting director engine")

	b, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer b.Close()

	messenger := bus.NewMessenger(b)

	sessionID := cfg.SessionID
	if sessionID == "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if sc, err := messenger.RequestContext(ctx); err == nil && sc.ModelID != "" {
			sessionID = sc.ModelID
		} else {
			log.Warn().Err(err).Msg("could not resolve session id from context")
		}
		cancel()
	}

	var remote snapshot.Remote
	if cfg.BackendURL != "" && sessionID != "" {
		remote = sessionclient.New(cfg.BackendURL, sessionID, cfg.BackendAPIKey)
		log.Info().Str("session_id", sessionID).Str("backend", cfg.BackendURL).Msg("remote snapshots enabled")
	} else {
		log.Info().Msg("remote snapshots disabled, using local cache only")
	}

	cache := snapshot.NewFileCache(cfg.CacheFile)

	var engine *game.Engine
	reconciler := snapshot.New(cache, remote, func(state *game.GameState) {
		engine.Post(game.AdoptSnapshotEvent{State: state})
	})
	engine = game.NewEngine(messenger, reconciler, clockwork.NewRealClock())

	detachEngine, err := bus.SubscribeEngine(b, engine)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe engine")
	}
	defer detachEngine()

	manager, detachRelay, err := gateway.NewBusRelay(gateway.DefaultConfig(), b)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start gateway relay")
	}
	defer detachRelay()

	mux := manager.Mux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         cfg.GatewayAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reconciler.Run(ctx)
	go manager.Start(ctx)

	engine.Start(ctx)
	go engine.Run(ctx)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("gateway HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	time.Sleep(1 * time.Second)

	log.Info().Msg("director engine shutdown complete")
}
