// Command peer is a headless lobby member: it creates or joins a lobby,
// negotiates data channels with every other member through the relay and
// logs what arrives on them.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/services"
	"lobbysignal/internal/infrastructure/middleware"
	"lobbysignal/internal/infrastructure/monitoring"
	signalinfra "lobbysignal/internal/infrastructure/signal"
	webrtcinfra "lobbysignal/internal/infrastructure/webrtc"
	"lobbysignal/pkg/circuitbreaker"
	"lobbysignal/pkg/config"
	"lobbysignal/pkg/logger"
	"lobbysignal/pkg/retry"
	"lobbysignal/pkg/utils"
	"lobbysignal/pkg/validation"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	relayURL := flag.String("relay", "", "relay base URL (overrides config)")
	lobbyID := flag.String("lobby", "", "lobby to join; a new lobby is created when empty")
	peerID := flag.String("peer", "", "peer id (generated when empty)")
	pingEvery := flag.Duration("ping", 5*time.Second, "broadcast a ping this often, 0 disables")
	metricsAddr := flag.String("metrics-addr", "", "serve prometheus metrics on this address")
	flag.Parse()

	cfg, loadedFrom, err := config.LoadFirst(*configPath)
	if err != nil {
		logger.New("info").Sugar().Fatalw("failed to load configuration", "path", loadedFrom, "error", err)
	}
	if *relayURL != "" {
		cfg.Signaling.RelayURL = *relayURL
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if loadedFrom == "" {
		log.Infow("config file not found, using defaults", "path", *configPath)
	}

	if err := validation.ValidateURL(cfg.Signaling.RelayURL); err != nil {
		log.Fatalw("invalid relay url", "url", cfg.Signaling.RelayURL, "error", err)
	}

	self := domain.PeerID(*peerID)
	if self == "" {
		self = domain.PeerID(utils.GeneratePeerID())
	}
	log = log.With("peer_id", self)

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Signaling.PostRetries
	api := signalinfra.NewHTTPClient(cfg.Signaling.RelayURL, cfg.Signaling.RequestTimeout, retryCfg)
	api.SetLogger(log.With("component", "relay_client"))
	if cfg.Signaling.Breaker.Failures > 0 {
		breaker := signalinfra.NewBreaker(cfg.Signaling.Breaker.Failures, cfg.Signaling.Breaker.Cooldown)
		breaker.OnStateChange(func(from, to circuitbreaker.State) {
			log.Warnw("relay circuit breaker changed state", "from", from, "to", to)
		})
		api.SetBreaker(breaker)
	}

	// With auth enabled on the relay the peer mints its own token from the
	// shared secret.
	if cfg.Auth.Enabled {
		token, err := middleware.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Issue(self)
		if err != nil {
			log.Fatalw("failed to issue token", "error", err)
		}
		api.SetToken(token)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lobby, err := enterLobby(ctx, api, domain.LobbyID(*lobbyID), self)
	if err != nil {
		log.Fatalw("failed to enter lobby", "lobby_id", *lobbyID, "error", err)
	}
	log = log.With("lobby_id", lobby.ID)
	log.Infow("entered lobby", "members", lobby.Members)

	factory, err := webrtcinfra.NewTransportFactory(webrtcinfra.ConfigFrom(cfg), log)
	if err != nil {
		log.Fatalw("failed to create transport factory", "error", err)
	}

	collector := monitoring.NewPrometheusCollector(nil)
	hub := services.NewEventHub()
	hub.Subscribe(collector.RecordPeerEvent)
	hub.Subscribe(func(ev domain.PeerEvent) {
		switch ev.Kind {
		case domain.EventDataMessage:
			log.Infow("data message", "from", ev.PeerID, "type", ev.MessageType, "data", utils.TruncateString(utils.SanitizeString(string(ev.Data)), 512))
		default:
			log.Infow("peer event", "kind", ev.Kind, "remote_peer", ev.PeerID)
		}
	})

	manager := services.NewConnectionManager(self, factory, hub, services.ConnectionManagerConfig{
		DataChannelLabel: cfg.WebRTC.DataChannelLabel,
	}, log)
	hub.Subscribe(func(ev domain.PeerEvent) {
		if ev.Kind == domain.EventPeerConnected {
			if _, err := manager.SendTo(ev.PeerID, "hello", map[string]string{"from": string(self)}); err != nil {
				log.Warnw("failed to greet peer", "remote_peer", ev.PeerID, "error", err)
			}
		}
	})

	client := services.NewSignalingClient(api, manager, hub, services.SignalingClientConfig{
		PollInterval:   cfg.Signaling.PollInterval,
		RequestTimeout: cfg.Signaling.RequestTimeout,
	}, log)

	if err := client.Initialize(ctx, lobby.ID, self); err != nil {
		log.Fatalw("failed to start signaling", "error", err)
	}
	if err := client.NotifyJoined(ctx, lobby.ID); err != nil {
		log.Fatalw("failed to announce join", "error", err)
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warnw("metrics server stopped", "error", err)
			}
		}()
	}

	var ticks <-chan time.Time
	if *pingEvery > 0 {
		ticker := time.NewTicker(*pingEvery)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case <-client.Done():
			running = false
		case <-ticks:
			n, err := manager.Broadcast("ping", time.Now().UnixMilli())
			if err != nil {
				log.Warnw("ping failed", "error", err)
				continue
			}
			log.Debugw("ping sent", "peers", n)
		}
	}

	log.Info("leaving lobby")
	leaveCtx, cancel := context.WithTimeout(context.Background(), cfg.Signaling.RequestTimeout)
	defer cancel()

	client.StopPolling()
	if err := client.NotifyLeft(leaveCtx, lobby.ID); err != nil {
		log.Warnw("failed to announce leave", "error", err)
	}
	if err := api.LeaveLobby(leaveCtx, lobby.ID, self); err != nil {
		log.Warnw("failed to leave lobby", "error", err)
	}
	client.Cleanup()
}

func enterLobby(ctx context.Context, api *signalinfra.HTTPClient, lobbyID domain.LobbyID, self domain.PeerID) (*domain.Lobby, error) {
	if lobbyID == "" {
		return api.CreateLobby(ctx, self)
	}
	if err := validation.ValidateLobbyID(string(lobbyID)); err != nil {
		return nil, err
	}
	return api.JoinLobby(ctx, lobbyID, self)
}
