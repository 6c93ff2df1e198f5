package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/ports"
	"lobbysignal/pkg/utils"

	"go.uber.org/zap"
)

// LobbyService manages lobby membership and doubles as the LobbyDirectory
// the presence notifier reads from.
type LobbyService struct {
	repo    ports.LobbyRepository
	mailbox ports.Mailbox
	logger  *zap.SugaredLogger
}

// NewLobbyService stores lobbies in repo and drops their queues from mailbox
// on delete.
func NewLobbyService(repo ports.LobbyRepository, mailbox ports.Mailbox, logger *zap.SugaredLogger) *LobbyService {
	return &LobbyService{
		repo:    repo,
		mailbox: mailbox,
		logger:  logger,
	}
}

var (
	_ ports.LobbyService   = (*LobbyService)(nil)
	_ ports.LobbyDirectory = (*LobbyService)(nil)
)

// CreateLobby creates a lobby with host as its only member.
func (s *LobbyService) CreateLobby(ctx context.Context, host domain.PeerID) (*domain.Lobby, error) {
	now := time.Now()
	lobby := &domain.Lobby{
		ID:           domain.LobbyID(utils.GenerateLobbyID()),
		Members:      []domain.PeerID{host},
		CreatedAt:    now,
		LastActivity: now,
	}

	if err := s.repo.Create(ctx, lobby); err != nil {
		return nil, fmt.Errorf("failed to create lobby: %w", err)
	}

	s.logger.Infow("lobby created", "lobby_id", lobby.ID, "host", host)
	return lobby, nil
}

func (s *LobbyService) GetLobby(ctx context.Context, id domain.LobbyID) (*domain.Lobby, error) {
	return s.repo.GetByID(ctx, id)
}

// JoinLobby adds peerID to the lobby. Joining twice is not an error.
func (s *LobbyService) JoinLobby(ctx context.Context, id domain.LobbyID, peerID domain.PeerID) (*domain.Lobby, error) {
	lobby, err := s.repo.AddMember(ctx, id, peerID)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("peer joined lobby", "lobby_id", id, "peer_id", peerID)
	return lobby, nil
}

func (s *LobbyService) LeaveLobby(ctx context.Context, id domain.LobbyID, peerID domain.PeerID) (*domain.Lobby, error) {
	lobby, err := s.repo.RemoveMember(ctx, id, peerID)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("peer left lobby", "lobby_id", id, "peer_id", peerID)
	return lobby, nil
}

// DeleteLobby removes the lobby and its signaling mailbox.
func (s *LobbyService) DeleteLobby(ctx context.Context, id domain.LobbyID) error {
	if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrLobbyNotFound) {
		return fmt.Errorf("failed to delete lobby: %w", err)
	}
	if err := s.mailbox.RemoveLobby(ctx, id); err != nil {
		return fmt.Errorf("failed to drop lobby mailbox: %w", err)
	}
	s.logger.Infow("lobby deleted", "lobby_id", id)
	return nil
}

// Exists reports whether the lobby is known. A missing lobby is not an
// error.
func (s *LobbyService) Exists(ctx context.Context, id domain.LobbyID) (bool, error) {
	_, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, domain.ErrLobbyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Members lists the lobby's members, or nil if the lobby is unknown.
func (s *LobbyService) Members(ctx context.Context, id domain.LobbyID) ([]domain.PeerID, error) {
	lobby, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, domain.ErrLobbyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lobby.Members, nil
}
