package services

import (
	"context"
	"fmt"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/ports"
	"lobbysignal/pkg/tracing"

	"go.uber.org/zap"
)

// PresenceMetrics counts presence fan-out.
type PresenceMetrics interface {
	PresenceFanout(kind domain.MessageType, recipients int)
}

// PresenceNotifier queues peer-joined and peer-left messages for the other
// members of a lobby.
type PresenceNotifier struct {
	mailbox   ports.Mailbox
	directory ports.LobbyDirectory
	metrics   PresenceMetrics
	logger    *zap.SugaredLogger
}

// NewPresenceNotifier reads membership from directory and queues presence
// messages on mailbox.
func NewPresenceNotifier(
	mailbox ports.Mailbox,
	directory ports.LobbyDirectory,
	metrics PresenceMetrics,
	logger *zap.SugaredLogger,
) *PresenceNotifier {
	return &PresenceNotifier{
		mailbox:   mailbox,
		directory: directory,
		metrics:   metrics,
		logger:    logger,
	}
}

var _ ports.PresenceNotifier = (*PresenceNotifier)(nil)

// NotifyJoined queues a peer-joined message for every other member.
func (n *PresenceNotifier) NotifyJoined(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) error {
	ctx, span := tracing.TracePresence(ctx, "notify_joined", string(lobbyID), string(peerID))
	defer span.End()

	exists, err := n.directory.Exists(ctx, lobbyID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to look up lobby %s: %w", lobbyID, err)
	}
	if !exists {
		return domain.ErrLobbyNotFound
	}

	sent, err := n.fanout(ctx, lobbyID, peerID, domain.MessagePeerJoined)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	tracing.AddSpanAttributes(ctx, tracing.RecipientsKey.Int(sent))

	n.logger.Infow("peer joined lobby, notifications sent",
		"lobby_id", lobbyID,
		"peer_id", peerID,
		"recipients", sent,
	)
	return nil
}

// NotifyLeft queues a peer-left message for the remaining members when the
// lobby still exists, then drops the leaving peer's own queue.
func (n *PresenceNotifier) NotifyLeft(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) error {
	ctx, span := tracing.TracePresence(ctx, "notify_left", string(lobbyID), string(peerID))
	defer span.End()

	exists, err := n.directory.Exists(ctx, lobbyID)
	if err != nil {
		// A broken directory must not keep the leaver's queue alive.
		n.logger.Warnw("lobby lookup failed during leave, skipping fan-out",
			"lobby_id", lobbyID,
			"peer_id", peerID,
			"error", err,
		)
		exists = false
	}

	sent := 0
	if exists {
		sent, err = n.fanout(ctx, lobbyID, peerID, domain.MessagePeerLeft)
		if err != nil {
			tracing.RecordError(ctx, err)
			return err
		}
	}

	if err := n.mailbox.RemovePeer(ctx, lobbyID, peerID); err != nil {
		return fmt.Errorf("failed to remove mailbox for %s: %w", peerID, err)
	}

	n.logger.Infow("peer left lobby, notifications sent",
		"lobby_id", lobbyID,
		"peer_id", peerID,
		"recipients", sent,
	)
	return nil
}

func (n *PresenceNotifier) fanout(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID, kind domain.MessageType) (int, error) {
	members, err := n.directory.Members(ctx, lobbyID)
	if err != nil {
		return 0, fmt.Errorf("failed to list members of lobby %s: %w", lobbyID, err)
	}

	sent := 0
	for _, member := range members {
		if member == peerID {
			continue
		}
		msg := domain.SignalingMessage{Type: kind, From: peerID, To: member}
		if err := n.mailbox.Post(ctx, lobbyID, msg); err != nil {
			return sent, fmt.Errorf("failed to notify %s: %w", member, err)
		}
		sent++
	}

	if n.metrics != nil {
		n.metrics.PresenceFanout(kind, sent)
	}
	return sent, nil
}
