package memory

import (
	"context"
	"testing"
	"time"

	"lobbysignal/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLobby(id string, members ...domain.PeerID) *domain.Lobby {
	now := time.Now()
	return &domain.Lobby{ID: domain.LobbyID(id), Members: members, CreatedAt: now, LastActivity: now}
}

func TestMemoryLobbyRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLobbyRepository()

	require.NoError(t, repo.Create(ctx, newLobby("l1", "host")))
	assert.Error(t, repo.Create(ctx, newLobby("l1", "other")))

	lobby, err := repo.GetByID(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"host"}, lobby.Members)

	count, err := repo.(*MemoryLobbyRepository).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, repo.Delete(ctx, "l1"))
	_, err = repo.GetByID(ctx, "l1")
	assert.ErrorIs(t, err, domain.ErrLobbyNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "l1"), domain.ErrLobbyNotFound)
}

func TestMemoryLobbyRepository_Membership(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLobbyRepository()
	require.NoError(t, repo.Create(ctx, newLobby("l1", "p")))

	lobby, err := repo.AddMember(ctx, "l1", "a")
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"p", "a"}, lobby.Members)

	// Adding twice is idempotent.
	lobby, err = repo.AddMember(ctx, "l1", "a")
	require.NoError(t, err)
	assert.Len(t, lobby.Members, 2)

	lobby, err = repo.RemoveMember(ctx, "l1", "p")
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"a"}, lobby.Members)

	_, err = repo.AddMember(ctx, "missing", "a")
	assert.ErrorIs(t, err, domain.ErrLobbyNotFound)
	_, err = repo.RemoveMember(ctx, "missing", "a")
	assert.ErrorIs(t, err, domain.ErrLobbyNotFound)
}

func TestMemoryLobbyRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLobbyRepository()
	original := newLobby("l1", "p")
	require.NoError(t, repo.Create(ctx, original))

	original.Members[0] = "mutated"
	lobby, err := repo.GetByID(ctx, "l1")
	require.NoError(t, err)
	lobby.Members = append(lobby.Members, "x")

	again, err := repo.GetByID(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"p"}, again.Members)
	assert.NoError(t, repo.Ping(ctx))
}
