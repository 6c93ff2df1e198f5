package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lobbysignal/internal/core/ports"
	"lobbysignal/internal/core/services"
	httphandlers "lobbysignal/internal/handlers/http"
	"lobbysignal/internal/infrastructure/distributed"
	"lobbysignal/internal/infrastructure/middleware"
	"lobbysignal/internal/infrastructure/monitoring"
	"lobbysignal/internal/infrastructure/repositories"
	"lobbysignal/pkg/config"
	"lobbysignal/pkg/logger"
	"lobbysignal/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/cors"
)

func main() {
	cfg, loadedFrom, err := config.LoadFirst(
		"configs/config.yaml",
		"/etc/lobbysignal/config.yaml",
		"config.yaml",
	)
	if err != nil {
		bootLog := logger.New("info").Sugar()
		bootLog.Fatalw("failed to load configuration", "path", loadedFrom, "error", err)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if loadedFrom == "" {
		log.Info("no config file found, using defaults")
	} else {
		log.Infow("configuration loaded", "path", loadedFrom)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "lobbysignal",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	lobbyRepo := repoFactory.CreateLobbyRepository()

	collector := monitoring.NewPrometheusCollector(nil)
	relay := services.NewMailboxRelay(collector)

	// Relay instances sharing Redis mirror lobby and peer removals into each
	// other's mailboxes.
	var mailbox ports.Mailbox = relay
	var bus *distributed.EventBus
	if client := repoFactory.RedisClient(); client != nil {
		bus = distributed.NewEventBus(client, cfg.Redis.KeyPrefix, uuid.NewString(), log)
		if err := bus.Subscribe(context.Background(), distributed.ApplyToMailbox(relay)); err != nil {
			log.Fatalw("failed to subscribe to lobby events", "error", err)
		}
		mailbox = distributed.NewSyncedMailbox(relay, bus, log)
		log.Infow("lobby event bus started", "instance_id", bus.InstanceID())
	}

	lobbyService := services.NewLobbyService(lobbyRepo, mailbox, log)
	presence := services.NewPresenceNotifier(mailbox, lobbyService, collector, log)

	health := monitoring.NewHealthChecker()
	health.AddRepositoryCheck(lobbyRepo, 2*time.Second)

	var issuer *middleware.TokenIssuer
	if cfg.Auth.Enabled {
		issuer = middleware.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		log.Info("bearer token authentication enabled")
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := httphandlers.NewRouter(httphandlers.RouterDeps{
		Config:        cfg,
		Logger:        zapLogger,
		SignalHandler: httphandlers.NewSignalHandler(mailbox, presence),
		LobbyHandler:  httphandlers.NewLobbyHandler(lobbyService),
		Relay:         relay,
		Health:        health,
		Collector:     collector,
		Issuer:        issuer,
	})

	// Browser clients call the relay from the game's own origin.
	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}).Handler(router)

	samplerCtx, stopSampler := context.WithCancel(context.Background())
	defer stopSampler()
	collector.StartRelaySampler(samplerCtx, relay, cfg.Monitoring.MetricsInterval)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting lobbysignal relay",
			"address", cfg.Server.Address,
			"redis", repoFactory.UsingRedis(),
			"auth", cfg.Auth.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	} else {
		log.Info("server shutdown gracefully")
	}

	stopSampler()
	if bus != nil {
		if err := bus.Close(); err != nil {
			log.Errorw("error closing lobby event bus", "error", err)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer provider", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	log.Info("lobbysignal relay stopped")
}
