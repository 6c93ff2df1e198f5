package ports

import (
	"context"

	"lobbysignal/internal/core/domain"
)

// LobbyRepository stores lobby membership. It stands in for the persistence
// layer that owns users and lobbies.
type LobbyRepository interface {
	Create(ctx context.Context, lobby *domain.Lobby) error
	GetByID(ctx context.Context, id domain.LobbyID) (*domain.Lobby, error)
	AddMember(ctx context.Context, id domain.LobbyID, peerID domain.PeerID) (*domain.Lobby, error)
	RemoveMember(ctx context.Context, id domain.LobbyID, peerID domain.PeerID) (*domain.Lobby, error)
	Delete(ctx context.Context, id domain.LobbyID) error
	Ping(ctx context.Context) error
}

// LobbyDirectory is the read-only view of lobby membership the presence
// notifier consumes.
type LobbyDirectory interface {
	Exists(ctx context.Context, id domain.LobbyID) (bool, error)
	Members(ctx context.Context, id domain.LobbyID) ([]domain.PeerID, error)
}
