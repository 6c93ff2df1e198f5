package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/ports"
)

// MemoryLobbyRepository is a process-local LobbyRepository.
type MemoryLobbyRepository struct {
	lobbies map[domain.LobbyID]*domain.Lobby
	mu      sync.RWMutex
}

func NewMemoryLobbyRepository() ports.LobbyRepository {
	return &MemoryLobbyRepository{
		lobbies: make(map[domain.LobbyID]*domain.Lobby),
	}
}

func (r *MemoryLobbyRepository) Create(ctx context.Context, lobby *domain.Lobby) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.lobbies[lobby.ID]; exists {
		return fmt.Errorf("lobby already exists: %s", lobby.ID)
	}

	r.lobbies[lobby.ID] = copyLobby(lobby)
	return nil
}

func (r *MemoryLobbyRepository) GetByID(ctx context.Context, id domain.LobbyID) (*domain.Lobby, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lobby, exists := r.lobbies[id]
	if !exists {
		return nil, domain.ErrLobbyNotFound
	}
	return copyLobby(lobby), nil
}

func (r *MemoryLobbyRepository) AddMember(ctx context.Context, id domain.LobbyID, peerID domain.PeerID) (*domain.Lobby, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lobby, exists := r.lobbies[id]
	if !exists {
		return nil, domain.ErrLobbyNotFound
	}
	lobby.AddMember(peerID)
	lobby.LastActivity = time.Now()
	return copyLobby(lobby), nil
}

func (r *MemoryLobbyRepository) RemoveMember(ctx context.Context, id domain.LobbyID, peerID domain.PeerID) (*domain.Lobby, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lobby, exists := r.lobbies[id]
	if !exists {
		return nil, domain.ErrLobbyNotFound
	}
	lobby.RemoveMember(peerID)
	lobby.LastActivity = time.Now()
	return copyLobby(lobby), nil
}

func (r *MemoryLobbyRepository) Delete(ctx context.Context, id domain.LobbyID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.lobbies[id]; !exists {
		return domain.ErrLobbyNotFound
	}
	delete(r.lobbies, id)
	return nil
}

// Count returns the number of stored lobbies.
func (r *MemoryLobbyRepository) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.lobbies)), nil
}

func (r *MemoryLobbyRepository) Ping(ctx context.Context) error {
	return nil
}

// Callers get their own copy so membership changes never race with readers.
func copyLobby(l *domain.Lobby) *domain.Lobby {
	cp := *l
	cp.Members = append([]domain.PeerID(nil), l.Members...)
	return &cp
}
