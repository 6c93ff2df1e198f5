package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/ports"
	"lobbysignal/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

// lobbyMeta is the JSON document stored under the lobby key. Members live in
// a sorted set scored by join time so membership order survives round trips.
type lobbyMeta struct {
	ID           domain.LobbyID `json:"id"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastActivity time.Time      `json:"lastActivity"`
}

// RedisLobbyRepository keeps lobby metadata in a string key and members in a
// sorted set scored by join time, so membership order survives.
type RedisLobbyRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLobbyRepository stores lobbies under "<prefix>:lobby:". A zero ttl
// keeps lobbies until they are deleted.
func NewRedisLobbyRepository(client *redis.Client, prefix string, ttl time.Duration) ports.LobbyRepository {
	return &RedisLobbyRepository{
		client: client,
		prefix: prefix + ":lobby:",
		ttl:    ttl,
	}
}

func (r *RedisLobbyRepository) metaKey(id domain.LobbyID) string {
	return r.prefix + string(id)
}

func (r *RedisLobbyRepository) membersKey(id domain.LobbyID) string {
	return r.prefix + string(id) + ":members"
}

func (r *RedisLobbyRepository) indexKey() string {
	return r.prefix + "index"
}

func (r *RedisLobbyRepository) Create(ctx context.Context, lobby *domain.Lobby) error {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "create", "lobbies")
	defer span.End()

	data, err := json.Marshal(lobbyMeta{ID: lobby.ID, CreatedAt: lobby.CreatedAt, LastActivity: lobby.LastActivity})
	if err != nil {
		return fmt.Errorf("failed to marshal lobby: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.metaKey(lobby.ID), data, r.ttl).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to set lobby in Redis: %w", err)
	}
	if !created {
		return fmt.Errorf("lobby already exists: %s", lobby.ID)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		base := lobby.CreatedAt.UnixNano()
		for i, m := range lobby.Members {
			pipe.ZAddNX(ctx, r.membersKey(lobby.ID), redis.Z{Score: float64(base + int64(i)), Member: string(m)})
		}
		if r.ttl > 0 {
			pipe.Expire(ctx, r.membersKey(lobby.ID), r.ttl)
		}
		pipe.SAdd(ctx, r.indexKey(), string(lobby.ID))
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to store lobby members: %w", err)
	}
	return nil
}

func (r *RedisLobbyRepository) GetByID(ctx context.Context, id domain.LobbyID) (*domain.Lobby, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "get", "lobbies")
	defer span.End()

	return r.load(ctx, id)
}

func (r *RedisLobbyRepository) load(ctx context.Context, id domain.LobbyID) (*domain.Lobby, error) {
	var (
		metaCmd    *redis.StringCmd
		membersCmd *redis.StringSliceCmd
	)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.Get(ctx, r.metaKey(id))
		membersCmd = pipe.ZRange(ctx, r.membersKey(id), 0, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get lobby from Redis: %w", err)
	}

	data, err := metaCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrLobbyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lobby from Redis: %w", err)
	}

	var meta lobbyMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lobby: %w", err)
	}

	lobby := &domain.Lobby{
		ID:           meta.ID,
		Members:      []domain.PeerID{},
		CreatedAt:    meta.CreatedAt,
		LastActivity: meta.LastActivity,
	}
	for _, m := range membersCmd.Val() {
		lobby.Members = append(lobby.Members, domain.PeerID(m))
	}
	return lobby, nil
}

func (r *RedisLobbyRepository) AddMember(ctx context.Context, id domain.LobbyID, peerID domain.PeerID) (*domain.Lobby, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "add_member", "lobbies")
	defer span.End()

	return r.updateMembers(ctx, id, func(pipe redis.Pipeliner) {
		pipe.ZAddNX(ctx, r.membersKey(id), redis.Z{Score: float64(time.Now().UnixNano()), Member: string(peerID)})
	})
}

// RemoveMember drops peerID. An emptied lobby stays until it is deleted.
func (r *RedisLobbyRepository) RemoveMember(ctx context.Context, id domain.LobbyID, peerID domain.PeerID) (*domain.Lobby, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "remove_member", "lobbies")
	defer span.End()

	return r.updateMembers(ctx, id, func(pipe redis.Pipeliner) {
		pipe.ZRem(ctx, r.membersKey(id), string(peerID))
	})
}

// updateMembers applies change and refreshes LastActivity, guarded by a
// WATCH on the lobby key so a concurrent delete is not resurrected.
func (r *RedisLobbyRepository) updateMembers(ctx context.Context, id domain.LobbyID, change func(redis.Pipeliner)) (*domain.Lobby, error) {
	key := r.metaKey(id)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrLobbyNotFound
		}
		if err != nil {
			return err
		}

		var meta lobbyMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("failed to unmarshal lobby: %w", err)
		}
		meta.LastActivity = time.Now()
		updated, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal lobby: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			change(pipe)
			pipe.Set(ctx, key, updated, r.ttl)
			if r.ttl > 0 {
				pipe.Expire(ctx, r.membersKey(id), r.ttl)
			}
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, domain.ErrLobbyNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update lobby members: %w", err)
	}

	return r.load(ctx, id)
}

func (r *RedisLobbyRepository) Delete(ctx context.Context, id domain.LobbyID) error {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "delete", "lobbies")
	defer span.End()

	var delCmd *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.Del(ctx, r.metaKey(id))
		pipe.Del(ctx, r.membersKey(id))
		pipe.SRem(ctx, r.indexKey(), string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete lobby from Redis: %w", err)
	}
	if delCmd.Val() == 0 {
		return domain.ErrLobbyNotFound
	}
	return nil
}

func (r *RedisLobbyRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Count returns the number of indexed lobbies.
func (r *RedisLobbyRepository) Count(ctx context.Context) (int64, error) {
	return r.client.SCard(ctx, r.indexKey()).Result()
}
