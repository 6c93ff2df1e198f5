package distributed

import (
	"context"
	"fmt"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/ports"

	"go.uber.org/zap"
)

type lobbyEventPublisher interface {
	PublishLobbyDeleted(ctx context.Context, lobbyID domain.LobbyID) error
	PublishPeerLeft(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) error
}

// SyncedMailbox broadcasts local lobby and peer removals so other relay
// instances drop the same queues. Post and Drain stay local.
type SyncedMailbox struct {
	ports.Mailbox
	bus    lobbyEventPublisher
	logger *zap.SugaredLogger
}

// NewSyncedMailbox wraps local and broadcasts its removals on bus.
func NewSyncedMailbox(local ports.Mailbox, bus lobbyEventPublisher, logger *zap.SugaredLogger) *SyncedMailbox {
	return &SyncedMailbox{Mailbox: local, bus: bus, logger: logger}
}

var _ ports.Mailbox = (*SyncedMailbox)(nil)

// RemoveLobby purges locally first. A failed broadcast is only logged.
func (m *SyncedMailbox) RemoveLobby(ctx context.Context, lobbyID domain.LobbyID) error {
	if err := m.Mailbox.RemoveLobby(ctx, lobbyID); err != nil {
		return err
	}
	if err := m.bus.PublishLobbyDeleted(ctx, lobbyID); err != nil {
		m.logger.Warnw("failed to broadcast lobby removal", "lobby_id", lobbyID, "error", err)
	}
	return nil
}

// RemovePeer purges locally first. A failed broadcast is only logged.
func (m *SyncedMailbox) RemovePeer(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) error {
	if err := m.Mailbox.RemovePeer(ctx, lobbyID, peerID); err != nil {
		return err
	}
	if err := m.bus.PublishPeerLeft(ctx, lobbyID, peerID); err != nil {
		m.logger.Warnw("failed to broadcast peer removal",
			"lobby_id", lobbyID,
			"peer_id", peerID,
			"error", err,
		)
	}
	return nil
}

// ApplyToMailbox returns an EventBus handler that mirrors remote removals
// into the local mailbox. local must be the undecorated mailbox so applied
// events are not broadcast again.
func ApplyToMailbox(local ports.Mailbox) func(*Event) error {
	return func(event *Event) error {
		ctx := context.Background()
		switch event.Type {
		case EventLobbyDeleted:
			return local.RemoveLobby(ctx, event.LobbyID)
		case EventPeerLeft:
			return local.RemovePeer(ctx, event.LobbyID, event.PeerID)
		default:
			return fmt.Errorf("unknown event type %q", event.Type)
		}
	}
}
