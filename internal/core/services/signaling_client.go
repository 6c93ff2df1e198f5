package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/ports"
	"lobbysignal/pkg/tracing"

	"go.uber.org/zap"
)

const DefaultPollInterval = 2 * time.Second

// ClientState is the lifecycle of a SignalingClient's poll loop.
type ClientState string

const (
	ClientIdle    ClientState = "idle"
	ClientPolling ClientState = "polling"
	ClientStopped ClientState = "stopped"
)

// SignalingClientConfig tunes polling. Zero values fall back to defaults.
type SignalingClientConfig struct {
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

// SignalingClient polls the relay for this peer's mailbox and feeds the
// messages to the ConnectionManager. Dispatch happens on a single goroutine,
// one tick at a time.
type SignalingClient struct {
	api     ports.SignalingAPI
	manager *ConnectionManager
	hub     *EventHub
	cfg     SignalingClientConfig
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	state   ClientState
	lobbyID domain.LobbyID
	selfID  domain.PeerID
	stop    chan struct{}
	done    chan struct{}

	// runCtx outlives StopPolling so an in-flight poll finishes dispatching.
	runCtx    context.Context
	runCancel context.CancelFunc
}

// NewSignalingClient wires the client to manager and registers it as the
// sink for locally gathered ICE candidates. A nil hub gets a private one.
func NewSignalingClient(
	api ports.SignalingAPI,
	manager *ConnectionManager,
	hub *EventHub,
	cfg SignalingClientConfig,
	logger *zap.SugaredLogger,
) *SignalingClient {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if hub == nil {
		hub = NewEventHub()
	}

	c := &SignalingClient{
		api:     api,
		manager: manager,
		hub:     hub,
		cfg:     cfg,
		logger:  logger,
		state:   ClientIdle,
		done:    make(chan struct{}),
	}
	manager.OnLocalCandidate(c.sendCandidate)
	return c
}

// State returns the current lifecycle state.
func (c *SignalingClient) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Initialize binds the client to a lobby and starts the recurring poll.
func (c *SignalingClient) Initialize(ctx context.Context, lobbyID domain.LobbyID, selfID domain.PeerID) error {
	if selfID != c.manager.LocalPeer() {
		return fmt.Errorf("self id %s does not match connection manager peer %s", selfID, c.manager.LocalPeer())
	}

	c.mu.Lock()
	if c.state != ClientIdle {
		c.mu.Unlock()
		return domain.ErrAlreadyPolling
	}
	c.state = ClientPolling
	c.lobbyID = lobbyID
	c.selfID = selfID
	c.stop = make(chan struct{})
	c.runCtx, c.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	stop := c.stop
	c.mu.Unlock()

	c.logger.Infow("signaling started",
		"lobby_id", lobbyID,
		"peer_id", selfID,
		"poll_interval", c.cfg.PollInterval,
	)

	go c.run(stop)
	return nil
}

// StopPolling cancels the recurring poll. It never blocks, so it is safe from
// event observers running on the poll goroutine. Repeated calls are no-ops.
func (c *SignalingClient) StopPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case ClientPolling:
		close(c.stop)
		c.state = ClientStopped
		c.logger.Infow("signaling stopped", "lobby_id", c.lobbyID, "peer_id", c.selfID)
	case ClientIdle:
		c.state = ClientStopped
		close(c.done)
	}
}

// Done is closed once the poll loop has exited.
func (c *SignalingClient) Done() <-chan struct{} {
	return c.done
}

// Cleanup stops polling and closes every peer connection.
func (c *SignalingClient) Cleanup() {
	c.StopPolling()
	c.manager.CloseAll()
}

func (c *SignalingClient) run(stop <-chan struct{}) {
	defer close(c.done)
	defer c.runCancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// A stop that raced the tick wins.
			select {
			case <-stop:
				return
			default:
			}
			c.PollOnce(c.runCtx)
		}
	}
}

func (c *SignalingClient) session() (domain.LobbyID, domain.PeerID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lobbyID, c.selfID, c.lobbyID != "" && c.selfID != ""
}

// PollOnce drains the mailbox once and dispatches every message in order.
// Failures are logged and leave existing connections untouched.
func (c *SignalingClient) PollOnce(ctx context.Context) int {
	lobbyID, selfID, ok := c.session()
	if !ok {
		return 0
	}

	start := time.Now()
	ctx, span := tracing.TraceRelay(ctx, "poll", string(lobbyID), string(selfID))
	defer span.End()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	messages, err := c.api.Drain(reqCtx, lobbyID, selfID)
	cancel()
	if err != nil {
		tracing.RecordError(ctx, err)
		c.logger.Warnw("error polling signaling messages", "lobby_id", lobbyID, "error", err)
		return 0
	}

	for _, msg := range messages {
		c.dispatch(ctx, msg)
	}
	tracing.MeasureDuration(ctx, start, "signaling.poll")
	return len(messages)
}

func (c *SignalingClient) dispatch(ctx context.Context, msg domain.SignalingMessage) {
	log := c.logger.With("type", msg.Type, "from", msg.From)

	switch msg.Type {
	case domain.MessageOffer:
		ctx, span := tracing.TraceNegotiation(ctx, "accept_offer", string(c.manager.LocalPeer()), string(msg.From))
		defer span.End()

		answer, err := c.manager.AcceptOfferAndAnswer(msg.From, *msg.Description)
		if err != nil {
			tracing.RecordError(ctx, err)
			log.Warnw("error handling offer", "error", err)
			return
		}
		c.post(ctx, domain.NewAnswer(c.manager.LocalPeer(), msg.From, answer))

	case domain.MessageAnswer:
		if err := c.manager.AcceptAnswer(msg.From, *msg.Description); err != nil {
			log.Warnw("error handling answer", "error", err)
		}

	case domain.MessageICECandidate:
		if err := c.manager.AddRemoteIceCandidate(msg.From, *msg.Candidate); err != nil {
			log.Warnw("error handling ice candidate", "error", err)
		}

	case domain.MessagePeerJoined:
		c.hub.Publish(domain.PeerEvent{Kind: domain.EventPeerJoined, PeerID: msg.From})
		if msg.From != c.manager.LocalPeer() {
			c.initiate(ctx, msg.From)
		}

	case domain.MessagePeerLeft:
		c.hub.Publish(domain.PeerEvent{Kind: domain.EventPeerLeft, PeerID: msg.From})
		c.manager.Close(msg.From)

	default:
		log.Warn("ignoring unknown signaling message")
	}
}

// initiate offers a connection to a newly joined peer. A connection that got
// past the offer/answer exchange belongs to an earlier session of that peer
// and is replaced. An exchange still in flight is left to finish: answers
// carry no offer id, so a second offer would let the answer to the first one
// land on the wrong transport.
func (c *SignalingClient) initiate(ctx context.Context, peerID domain.PeerID) {
	if state, ok := c.manager.State(peerID); ok {
		switch state {
		case domain.StateOfferSent, domain.StateOfferReceived:
			c.logger.Infow("negotiation already in progress, ignoring repeated join",
				"peer_id", peerID,
				"state", state,
			)
			return
		case domain.StateAnswerSent, domain.StateAnswerReceived, domain.StateConnected:
			c.logger.Infow("peer rejoined, replacing connection", "peer_id", peerID, "state", state)
			c.manager.Close(peerID)
		}
	}

	ctx, span := tracing.TraceNegotiation(ctx, "create_offer", string(c.manager.LocalPeer()), string(peerID))
	defer span.End()

	offer, err := c.manager.CreateOffer(peerID)
	if err != nil {
		tracing.RecordError(ctx, err)
		c.logger.Warnw("error initiating connection to peer", "peer_id", peerID, "error", err)
		return
	}
	c.post(ctx, domain.NewOffer(c.manager.LocalPeer(), peerID, offer))
}

func (c *SignalingClient) sendCandidate(peerID domain.PeerID, candidate domain.ICECandidate) {
	c.mu.Lock()
	polling := c.state == ClientPolling
	ctx := c.runCtx
	c.mu.Unlock()
	if !polling {
		return
	}
	c.post(ctx, domain.NewICECandidate(c.manager.LocalPeer(), peerID, candidate))
}

func (c *SignalingClient) post(ctx context.Context, msg domain.SignalingMessage) {
	lobbyID, _, ok := c.session()
	if !ok {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if err := c.api.Post(reqCtx, lobbyID, msg); err != nil {
		c.logger.Warnw("error sending signaling message",
			"type", msg.Type,
			"to", msg.To,
			"error", err,
		)
	}
}

// NotifyJoined announces this peer to the lobby.
func (c *SignalingClient) NotifyJoined(ctx context.Context, lobbyID domain.LobbyID) error {
	return c.api.NotifyJoined(ctx, lobbyID, c.manager.LocalPeer())
}

// NotifyLeft announces departure from the lobby.
func (c *SignalingClient) NotifyLeft(ctx context.Context, lobbyID domain.LobbyID) error {
	return c.api.NotifyLeft(ctx, lobbyID, c.manager.LocalPeer())
}
