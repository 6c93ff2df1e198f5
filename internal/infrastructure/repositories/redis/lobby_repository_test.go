package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"lobbysignal/internal/core/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to LOBBYSIGNAL_TEST_REDIS (default localhost:6379)
// and skips when no server is reachable.
func newTestClient(t *testing.T) (*redis.Client, string) {
	t.Helper()

	addr := os.Getenv("LOBBYSIGNAL_TEST_REDIS")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	prefix := "lobbysignal-test-" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})
	return client, prefix
}

func TestRedisLobbyRepository_Lifecycle(t *testing.T) {
	client, prefix := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, client, prefix, nil))

	repo := NewRedisLobbyRepository(client, prefix, time.Minute)
	now := time.Now()
	require.NoError(t, repo.Create(ctx, &domain.Lobby{ID: "l1", Members: []domain.PeerID{"host"}, CreatedAt: now, LastActivity: now}))
	assert.Error(t, repo.Create(ctx, &domain.Lobby{ID: "l1", CreatedAt: now}))

	lobby, err := repo.AddMember(ctx, "l1", "a")
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"host", "a"}, lobby.Members)

	lobby, err = repo.AddMember(ctx, "l1", "a")
	require.NoError(t, err)
	assert.Len(t, lobby.Members, 2)

	lobby, err = repo.RemoveMember(ctx, "l1", "host")
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"a"}, lobby.Members)

	count, err := repo.(*RedisLobbyRepository).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, repo.Delete(ctx, "l1"))
	_, err = repo.GetByID(ctx, "l1")
	assert.ErrorIs(t, err, domain.ErrLobbyNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "l1"), domain.ErrLobbyNotFound)

	_, err = repo.AddMember(ctx, "l1", "a")
	assert.ErrorIs(t, err, domain.ErrLobbyNotFound)
}

func TestMigrate_RebuildsIndex(t *testing.T) {
	client, prefix := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, prefix+":lobby:orphan", `{"id":"orphan"}`, 0).Err())
	require.NoError(t, client.ZAdd(ctx, prefix+":lobby:orphan:members", redis.Z{Score: 1, Member: "p"}).Err())

	require.NoError(t, Migrate(ctx, client, prefix, nil))

	members, err := client.SMembers(ctx, prefix+":lobby:index").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, members)

	version, err := getSchemaVersion(ctx, client, prefix)
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}
