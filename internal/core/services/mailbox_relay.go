package services

import (
	"context"
	"sync"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/ports"
)

// RelayMetrics receives relay traffic counts. The prometheus collector
// implements it.
type RelayMetrics interface {
	MessagePosted(msgType domain.MessageType)
	MessagesDrained(count int)
	LobbySectionsChanged(delta int)
}

type noopRelayMetrics struct{}

func (noopRelayMetrics) MessagePosted(domain.MessageType) {}
func (noopRelayMetrics) MessagesDrained(int)              {}
func (noopRelayMetrics) LobbySectionsChanged(int)         {}

// lobbyMailbox holds the per-recipient queues of one lobby. dead is set once
// the section has been detached from the relay.
type lobbyMailbox struct {
	mu     sync.Mutex
	queues map[domain.PeerID][]domain.SignalingMessage
	dead   bool
}

// MailboxRelay is an in-memory, lobby-scoped mailbox. Each lobby section has
// its own lock so traffic in one lobby never blocks another.
type MailboxRelay struct {
	mu      sync.Mutex
	lobbies map[domain.LobbyID]*lobbyMailbox

	metrics RelayMetrics
}

// RelayStats is a point-in-time view used by health checks.
type RelayStats struct {
	Lobbies        int `json:"lobbies"`
	Recipients     int `json:"recipients"`
	QueuedMessages int `json:"queued_messages"`
}

// NewMailboxRelay returns an empty relay. A nil metrics sink is allowed.
func NewMailboxRelay(metrics RelayMetrics) *MailboxRelay {
	if metrics == nil {
		metrics = noopRelayMetrics{}
	}
	return &MailboxRelay{
		lobbies: make(map[domain.LobbyID]*lobbyMailbox),
		metrics: metrics,
	}
}

var _ ports.Mailbox = (*MailboxRelay)(nil)

func (r *MailboxRelay) section(lobbyID domain.LobbyID, create bool) *lobbyMailbox {
	r.mu.Lock()
	defer r.mu.Unlock()

	box, ok := r.lobbies[lobbyID]
	if !ok && create {
		box = &lobbyMailbox{queues: make(map[domain.PeerID][]domain.SignalingMessage)}
		r.lobbies[lobbyID] = box
		r.metrics.LobbySectionsChanged(1)
	}
	return box
}

// sweep detaches box if it has no queues left. Lock order is relay then
// section.
func (r *MailboxRelay) sweep(lobbyID domain.LobbyID, box *lobbyMailbox) {
	r.mu.Lock()
	defer r.mu.Unlock()

	box.mu.Lock()
	defer box.mu.Unlock()

	if box.dead || len(box.queues) > 0 || r.lobbies[lobbyID] != box {
		return
	}
	box.dead = true
	delete(r.lobbies, lobbyID)
	r.metrics.LobbySectionsChanged(-1)
}

// Post appends msg to the queue of msg.To in lobbyID.
func (r *MailboxRelay) Post(ctx context.Context, lobbyID domain.LobbyID, msg domain.SignalingMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	queued := msg.Clone()

	for {
		box := r.section(lobbyID, true)

		box.mu.Lock()
		if box.dead {
			// Detached between lookup and lock; resolve a fresh section.
			box.mu.Unlock()
			continue
		}
		box.queues[queued.To] = append(box.queues[queued.To], queued)
		box.mu.Unlock()

		r.metrics.MessagePosted(queued.Type)
		return nil
	}
}

// Drain returns and clears every message queued for peerID. Unknown lobbies
// and recipients yield an empty, non-nil slice.
func (r *MailboxRelay) Drain(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) ([]domain.SignalingMessage, error) {
	box := r.section(lobbyID, false)
	if box == nil {
		return []domain.SignalingMessage{}, nil
	}

	box.mu.Lock()
	messages := box.queues[peerID]
	delete(box.queues, peerID)
	empty := len(box.queues) == 0
	box.mu.Unlock()

	if empty {
		r.sweep(lobbyID, box)
	}

	if messages == nil {
		return []domain.SignalingMessage{}, nil
	}
	r.metrics.MessagesDrained(len(messages))
	return messages, nil
}

// RemoveLobby drops the whole section for lobbyID.
func (r *MailboxRelay) RemoveLobby(ctx context.Context, lobbyID domain.LobbyID) error {
	r.mu.Lock()
	box, ok := r.lobbies[lobbyID]
	if ok {
		delete(r.lobbies, lobbyID)
		r.metrics.LobbySectionsChanged(-1)
	}
	r.mu.Unlock()

	if ok {
		box.mu.Lock()
		box.dead = true
		box.queues = nil
		box.mu.Unlock()
	}
	return nil
}

// RemovePeer drops one recipient's queue.
func (r *MailboxRelay) RemovePeer(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) error {
	box := r.section(lobbyID, false)
	if box == nil {
		return nil
	}

	box.mu.Lock()
	delete(box.queues, peerID)
	empty := len(box.queues) == 0
	box.mu.Unlock()

	if empty {
		r.sweep(lobbyID, box)
	}
	return nil
}

// Stats counts lobbies, recipients and queued messages. Each section is
// read under its own lock, so the totals are not an atomic snapshot.
func (r *MailboxRelay) Stats() RelayStats {
	r.mu.Lock()
	boxes := make([]*lobbyMailbox, 0, len(r.lobbies))
	for _, box := range r.lobbies {
		boxes = append(boxes, box)
	}
	r.mu.Unlock()

	stats := RelayStats{Lobbies: len(boxes)}
	for _, box := range boxes {
		box.mu.Lock()
		stats.Recipients += len(box.queues)
		for _, q := range box.queues {
			stats.QueuedMessages += len(q)
		}
		box.mu.Unlock()
	}
	return stats
}
