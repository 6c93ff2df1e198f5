package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/ports"

	"go.uber.org/zap"
)

const DefaultDataChannelLabel = "gameState"

// ConnectionManagerConfig holds the data channel label. Empty means
// DefaultDataChannelLabel.
type ConnectionManagerConfig struct {
	DataChannelLabel string
}

// peerConnection is the per-remote-peer state. All fields are guarded by
// ConnectionManager.mu. transport and channel are nil once closed.
type peerConnection struct {
	peerID    domain.PeerID
	role      domain.Role
	state     domain.NegotiationState
	transport ports.PeerTransport
	channel   ports.DataChannel
}

// ConnectionManager owns one negotiation state machine per remote peer and
// drives it through the supplied TransportFactory.
type ConnectionManager struct {
	localPeer domain.PeerID
	factory   ports.TransportFactory
	hub       *EventHub
	label     string
	logger    *zap.SugaredLogger

	mu          sync.Mutex
	conns       map[domain.PeerID]*peerConnection
	candidateFn func(peerID domain.PeerID, candidate domain.ICECandidate)
}

// released collects resources detached under the lock so they can be torn
// down, and events published, after it is dropped.
type released struct {
	transports []ports.PeerTransport
	channels   []ports.DataChannel
	events     []domain.PeerEvent
}

// NewConnectionManager creates a manager for localPeer. A nil hub gets a
// private one.
func NewConnectionManager(
	localPeer domain.PeerID,
	factory ports.TransportFactory,
	hub *EventHub,
	cfg ConnectionManagerConfig,
	logger *zap.SugaredLogger,
) *ConnectionManager {
	if cfg.DataChannelLabel == "" {
		cfg.DataChannelLabel = DefaultDataChannelLabel
	}
	if hub == nil {
		hub = NewEventHub()
	}
	return &ConnectionManager{
		localPeer: localPeer,
		factory:   factory,
		hub:       hub,
		label:     cfg.DataChannelLabel,
		logger:    logger.With("local_peer", localPeer),
		conns:     make(map[domain.PeerID]*peerConnection),
	}
}

// LocalPeer returns the id this manager negotiates as.
func (m *ConnectionManager) LocalPeer() domain.PeerID {
	return m.localPeer
}

// OnLocalCandidate registers the sink for ICE candidates gathered locally.
func (m *ConnectionManager) OnLocalCandidate(fn func(peerID domain.PeerID, candidate domain.ICECandidate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidateFn = fn
}

// CreateOrGetConnection returns the live state for peerID or builds a new one
// in state new.
func (m *ConnectionManager) CreateOrGetConnection(peerID domain.PeerID, asInitiator bool) (domain.ConnectionInfo, error) {
	role := domain.RoleResponder
	if asInitiator {
		role = domain.RoleInitiator
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if pc, ok := m.conns[peerID]; ok && pc.state != domain.StateClosed {
		return pc.info(), nil
	}
	pc, err := m.newConnectionLocked(peerID, role)
	if err != nil {
		return domain.ConnectionInfo{}, err
	}
	return pc.info(), nil
}

// CreateOffer moves a fresh connection to offer-sent. A peer without live
// state gets a new initiator connection first.
func (m *ConnectionManager) CreateOffer(peerID domain.PeerID) (domain.SessionDescription, error) {
	var rel released
	defer m.finish(&rel)

	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.conns[peerID]
	if !ok || pc.state == domain.StateClosed {
		var err error
		if pc, err = m.newConnectionLocked(peerID, domain.RoleInitiator); err != nil {
			return domain.SessionDescription{}, err
		}
	}
	if err := checkAdvance(pc, domain.StateOfferSent); err != nil {
		return domain.SessionDescription{}, err
	}

	if pc.role == domain.RoleResponder {
		// Placeholder created by an early candidate; take over as initiator.
		dc, err := pc.transport.CreateDataChannel(m.label)
		if err != nil {
			m.closeLocked(pc, &rel)
			return domain.SessionDescription{}, fmt.Errorf("failed to create data channel: %w", err)
		}
		m.attachChannelLocked(pc, dc)
		pc.role = domain.RoleInitiator
	}

	offer, err := pc.transport.CreateOffer()
	if err != nil {
		m.logger.Warnw("offer creation failed, closing connection", "peer_id", peerID, "error", err)
		m.closeLocked(pc, &rel)
		return domain.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}

	if err := advanceLocked(pc, domain.StateOfferSent); err != nil {
		m.closeLocked(pc, &rel)
		return domain.SessionDescription{}, err
	}
	m.logger.Debugw("offer created", "peer_id", peerID)
	return offer, nil
}

// AcceptOfferAndAnswer answers a remote offer, creating a responder on demand.
//
// Glare (both sides in offer-sent) is settled by peer ID: the smaller ID keeps
// its offer and rejects the incoming one, the larger ID drops its own attempt
// and answers. An offer on any other live, non-new state is a remote restart
// and replaces the old connection.
func (m *ConnectionManager) AcceptOfferAndAnswer(peerID domain.PeerID, offer domain.SessionDescription) (domain.SessionDescription, error) {
	var rel released
	defer m.finish(&rel)

	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.conns[peerID]
	if ok && pc.state != domain.StateClosed && pc.state != domain.StateNew {
		if pc.state == domain.StateOfferSent && m.localPeer < peerID {
			return domain.SessionDescription{}, fmt.Errorf("%w: glare with %s, keeping local offer",
				domain.ErrInvalidTransition, peerID)
		}
		m.logger.Infow("replacing connection on incoming offer", "peer_id", peerID, "state", pc.state)
		m.closeLocked(pc, &rel)
	}

	if !ok || pc.state == domain.StateClosed {
		var err error
		if pc, err = m.newConnectionLocked(peerID, domain.RoleResponder); err != nil {
			return domain.SessionDescription{}, err
		}
	}

	pc.role = domain.RoleResponder
	if err := advanceLocked(pc, domain.StateOfferReceived); err != nil {
		return domain.SessionDescription{}, err
	}

	answer, err := pc.transport.CreateAnswer(offer)
	if err != nil {
		m.logger.Warnw("answer creation failed, closing connection", "peer_id", peerID, "error", err)
		m.closeLocked(pc, &rel)
		return domain.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}

	if err := advanceLocked(pc, domain.StateAnswerSent); err != nil {
		m.closeLocked(pc, &rel)
		return domain.SessionDescription{}, err
	}
	m.logger.Debugw("answer created", "peer_id", peerID)
	return answer, nil
}

// AcceptAnswer applies the remote answer to an outstanding offer.
func (m *ConnectionManager) AcceptAnswer(peerID domain.PeerID, answer domain.SessionDescription) error {
	var rel released
	defer m.finish(&rel)

	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.conns[peerID]
	if !ok {
		return fmt.Errorf("%w: no connection for %s", domain.ErrPeerNotFound, peerID)
	}
	if pc.state == domain.StateClosed {
		return domain.ErrConnectionClosed
	}
	if pc.state != domain.StateOfferSent {
		return fmt.Errorf("%w: cannot accept answer from %s in state %s",
			domain.ErrInvalidTransition, peerID, pc.state)
	}

	if err := pc.transport.SetRemoteDescription(answer); err != nil {
		m.logger.Warnw("applying answer failed, closing connection", "peer_id", peerID, "error", err)
		m.closeLocked(pc, &rel)
		return fmt.Errorf("failed to apply answer: %w", err)
	}

	if err := advanceLocked(pc, domain.StateAnswerReceived); err != nil {
		m.closeLocked(pc, &rel)
		return err
	}
	m.logger.Debugw("answer applied", "peer_id", peerID)
	return nil
}

// AddRemoteIceCandidate hands a remote candidate to the transport. Unknown
// peers get a responder placeholder so early candidates are not lost.
func (m *ConnectionManager) AddRemoteIceCandidate(peerID domain.PeerID, candidate domain.ICECandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.conns[peerID]
	if !ok {
		var err error
		if pc, err = m.newConnectionLocked(peerID, domain.RoleResponder); err != nil {
			return err
		}
	}
	if pc.state == domain.StateClosed {
		return domain.ErrConnectionClosed
	}

	if err := pc.transport.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ice candidate: %w", err)
	}
	return nil
}

// Close moves peerID to closed and releases its transport. Closing an unknown
// or already closed peer is a no-op.
func (m *ConnectionManager) Close(peerID domain.PeerID) {
	var rel released
	defer m.finish(&rel)

	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.conns[peerID]
	if !ok || pc.state == domain.StateClosed {
		return
	}
	m.closeLocked(pc, &rel)
	m.logger.Infow("peer connection closed", "peer_id", peerID)
}

// CloseAll closes every connection and forgets all peers.
func (m *ConnectionManager) CloseAll() {
	var rel released
	defer m.finish(&rel)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pc := range m.conns {
		if pc.state != domain.StateClosed {
			m.closeLocked(pc, &rel)
		}
	}
	m.conns = make(map[domain.PeerID]*peerConnection)
}

// SendTo writes one envelope to peerID. It reports false without error when
// the channel is not open.
func (m *ConnectionManager) SendTo(peerID domain.PeerID, msgType string, data any) (bool, error) {
	frame, err := encodeEnvelope(msgType, data)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	pc, ok := m.conns[peerID]
	var ch ports.DataChannel
	if ok && pc.sendable() {
		ch = pc.channel
	}
	m.mu.Unlock()

	if ch == nil {
		return false, nil
	}
	return m.send(peerID, ch, frame), nil
}

// Broadcast writes one envelope to every open channel and returns how many
// peers it reached.
func (m *ConnectionManager) Broadcast(msgType string, data any) (int, error) {
	frame, err := encodeEnvelope(msgType, data)
	if err != nil {
		return 0, err
	}

	type target struct {
		peerID domain.PeerID
		ch     ports.DataChannel
	}

	m.mu.Lock()
	targets := make([]target, 0, len(m.conns))
	for id, pc := range m.conns {
		if pc.sendable() {
			targets = append(targets, target{peerID: id, ch: pc.channel})
		}
	}
	m.mu.Unlock()

	delivered := 0
	for _, t := range targets {
		if m.send(t.peerID, t.ch, frame) {
			delivered++
		}
	}
	return delivered, nil
}

func (m *ConnectionManager) send(peerID domain.PeerID, ch ports.DataChannel, frame []byte) bool {
	if err := ch.Send(frame); err != nil {
		m.logger.Debugw("data channel send failed", "peer_id", peerID, "error", err)
		return false
	}
	return true
}

// State returns the negotiation state of peerID, if known.
func (m *ConnectionManager) State(peerID domain.PeerID) (domain.NegotiationState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.conns[peerID]
	if !ok {
		return "", false
	}
	return pc.state, true
}

// Snapshot returns every known connection, closed ones included, sorted by
// peer id.
func (m *ConnectionManager) Snapshot() []domain.ConnectionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.ConnectionInfo, 0, len(m.conns))
	for _, pc := range m.conns {
		out = append(out, pc.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// ConnectedPeers lists peers whose data channel is usable.
func (m *ConnectionManager) ConnectedPeers() []domain.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var peers []domain.PeerID
	for id, pc := range m.conns {
		if pc.sendable() {
			peers = append(peers, id)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// IsPeerConnected reports whether peerID is connected with an open data
// channel.
func (m *ConnectionManager) IsPeerConnected(peerID domain.PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.conns[peerID]
	return ok && pc.sendable()
}

func (m *ConnectionManager) newConnectionLocked(peerID domain.PeerID, role domain.Role) (*peerConnection, error) {
	transport, err := m.factory.NewTransport()
	if err != nil {
		return nil, fmt.Errorf("failed to create transport for %s: %w", peerID, err)
	}

	pc := &peerConnection{
		peerID:    peerID,
		role:      role,
		state:     domain.StateNew,
		transport: transport,
	}

	transport.OnICECandidate(func(c domain.ICECandidate) {
		m.handleLocalCandidate(pc, c)
	})
	transport.OnConnectionStateChange(func(s ports.TransportState) {
		m.handleTransportState(pc, s)
	})

	if role == domain.RoleInitiator {
		dc, err := transport.CreateDataChannel(m.label)
		if err != nil {
			_ = transport.Close()
			return nil, fmt.Errorf("failed to create data channel: %w", err)
		}
		m.attachChannelLocked(pc, dc)
	}
	// Either side may end up answering, so always accept remote channels.
	transport.OnDataChannel(func(dc ports.DataChannel) {
		m.handleRemoteChannel(pc, dc)
	})

	m.conns[peerID] = pc
	m.logger.Debugw("peer connection created", "peer_id", peerID, "role", role)
	return pc, nil
}

func (m *ConnectionManager) attachChannelLocked(pc *peerConnection, dc ports.DataChannel) {
	pc.channel = dc
	peerID := pc.peerID

	dc.OnOpen(func() {
		m.logger.Infow("data channel opened", "peer_id", peerID, "label", dc.Label())
	})
	dc.OnClose(func() {
		m.logger.Infow("data channel closed", "peer_id", peerID, "label", dc.Label())
	})
	dc.OnMessage(func(data []byte) {
		m.handleData(pc, data)
	})
}

// closeLocked moves pc to closed and hands its resources to rel.
func (m *ConnectionManager) closeLocked(pc *peerConnection, rel *released) {
	wasConnected := pc.state == domain.StateConnected
	if advanceLocked(pc, domain.StateClosed) != nil {
		return
	}

	if pc.channel != nil {
		rel.channels = append(rel.channels, pc.channel)
		pc.channel = nil
	}
	if pc.transport != nil {
		rel.transports = append(rel.transports, pc.transport)
		pc.transport = nil
	}
	if wasConnected {
		rel.events = append(rel.events, domain.PeerEvent{Kind: domain.EventPeerDisconnected, PeerID: pc.peerID})
	}
}

// finish releases detached resources and publishes events. It must run after
// m.mu is unlocked.
func (m *ConnectionManager) finish(rel *released) {
	for _, ch := range rel.channels {
		if err := ch.Close(); err != nil {
			m.logger.Debugw("data channel close failed", "error", err)
		}
	}
	for _, t := range rel.transports {
		if err := t.Close(); err != nil {
			m.logger.Debugw("transport close failed", "error", err)
		}
	}
	for _, ev := range rel.events {
		m.hub.Publish(ev)
	}
}

// checkAdvance returns ErrInvalidTransition unless pc may move to next.
func checkAdvance(pc *peerConnection, next domain.NegotiationState) error {
	if !pc.state.CanAdvanceTo(next) {
		return fmt.Errorf("%w: %s cannot move from %s to %s",
			domain.ErrInvalidTransition, pc.peerID, pc.state, next)
	}
	return nil
}

// advanceLocked is the only place a connection changes state. States never
// move backward and closed is final.
func advanceLocked(pc *peerConnection, next domain.NegotiationState) error {
	if err := checkAdvance(pc, next); err != nil {
		return err
	}
	pc.state = next
	return nil
}

// currentLocked reports whether pc is still the live entry for its peer.
func (m *ConnectionManager) currentLocked(pc *peerConnection) bool {
	return m.conns[pc.peerID] == pc && pc.state != domain.StateClosed
}

func (m *ConnectionManager) handleTransportState(pc *peerConnection, s ports.TransportState) {
	var rel released
	defer m.finish(&rel)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(pc) {
		return
	}

	switch {
	case s == ports.TransportConnected:
		if pc.state != domain.StateAnswerSent && pc.state != domain.StateAnswerReceived {
			return
		}
		if advanceLocked(pc, domain.StateConnected) == nil {
			rel.events = append(rel.events, domain.PeerEvent{Kind: domain.EventPeerConnected, PeerID: pc.peerID})
			m.logger.Infow("peer connected", "peer_id", pc.peerID, "role", pc.role)
		}
	case s.Terminal():
		m.logger.Infow("transport ended, closing connection", "peer_id", pc.peerID, "transport_state", s)
		m.closeLocked(pc, &rel)
	}
}

func (m *ConnectionManager) handleLocalCandidate(pc *peerConnection, c domain.ICECandidate) {
	m.mu.Lock()
	live := m.currentLocked(pc)
	fn := m.candidateFn
	m.mu.Unlock()

	if live && fn != nil {
		fn(pc.peerID, c)
	}
}

func (m *ConnectionManager) handleRemoteChannel(pc *peerConnection, dc ports.DataChannel) {
	m.mu.Lock()
	if !m.currentLocked(pc) {
		m.mu.Unlock()
		_ = dc.Close()
		return
	}
	if dc.Label() != m.label {
		m.logger.Warnw("unexpected data channel label", "peer_id", pc.peerID, "label", dc.Label())
	}
	m.attachChannelLocked(pc, dc)
	m.mu.Unlock()
}

func (m *ConnectionManager) handleData(pc *peerConnection, data []byte) {
	m.mu.Lock()
	live := m.currentLocked(pc)
	m.mu.Unlock()
	if !live {
		return
	}

	var env domain.DataEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.logger.Warnw("dropping malformed data channel message", "peer_id", pc.peerID, "error", err)
		return
	}

	m.hub.Publish(domain.PeerEvent{
		Kind:        domain.EventDataMessage,
		PeerID:      pc.peerID,
		MessageType: env.Type,
		Data:        env.Data,
	})
}

func (pc *peerConnection) sendable() bool {
	return pc.state == domain.StateConnected && pc.channel != nil && pc.channel.IsOpen()
}

func (pc *peerConnection) info() domain.ConnectionInfo {
	return domain.ConnectionInfo{
		PeerID:      pc.peerID,
		Role:        pc.role,
		State:       pc.state,
		ChannelOpen: pc.channel != nil && pc.channel.IsOpen(),
	}
}

func encodeEnvelope(msgType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	return json.Marshal(domain.DataEnvelope{Type: msgType, Data: raw})
}
