package ports

import (
	"context"

	"lobbysignal/internal/core/domain"
)

// Mailbox is the server-side store-and-forward queue of signaling messages.
type Mailbox interface {
	Post(ctx context.Context, lobbyID domain.LobbyID, msg domain.SignalingMessage) error
	Drain(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) ([]domain.SignalingMessage, error)
	RemoveLobby(ctx context.Context, lobbyID domain.LobbyID) error
	RemovePeer(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) error
}

// PresenceNotifier announces joins and departures to the rest of a lobby.
type PresenceNotifier interface {
	NotifyJoined(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) error
	NotifyLeft(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) error
}

// LobbyService manages lobby membership.
type LobbyService interface {
	CreateLobby(ctx context.Context, host domain.PeerID) (*domain.Lobby, error)
	GetLobby(ctx context.Context, id domain.LobbyID) (*domain.Lobby, error)
	JoinLobby(ctx context.Context, id domain.LobbyID, peerID domain.PeerID) (*domain.Lobby, error)
	LeaveLobby(ctx context.Context, id domain.LobbyID, peerID domain.PeerID) (*domain.Lobby, error)
	DeleteLobby(ctx context.Context, id domain.LobbyID) error
}

// SignalingAPI is the client-side view of the relay's HTTP surface.
type SignalingAPI interface {
	Post(ctx context.Context, lobbyID domain.LobbyID, msg domain.SignalingMessage) error
	Drain(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) ([]domain.SignalingMessage, error)
	NotifyJoined(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) error
	NotifyLeft(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) error
}
