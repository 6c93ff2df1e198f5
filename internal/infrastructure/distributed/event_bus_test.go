package distributed

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/services"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingPublisher struct {
	deleted []domain.LobbyID
	left    []domain.PeerID
	err     error
}

func (p *recordingPublisher) PublishLobbyDeleted(_ context.Context, lobbyID domain.LobbyID) error {
	p.deleted = append(p.deleted, lobbyID)
	return p.err
}

func (p *recordingPublisher) PublishPeerLeft(_ context.Context, _ domain.LobbyID, peerID domain.PeerID) error {
	p.left = append(p.left, peerID)
	return p.err
}

func queue(t *testing.T, relay *services.MailboxRelay, lobbyID domain.LobbyID, to domain.PeerID) {
	t.Helper()
	require.NoError(t, relay.Post(context.Background(), lobbyID, domain.NewPeerJoined("host", to)))
}

func TestSyncedMailbox_BroadcastsRemovals(t *testing.T) {
	ctx := context.Background()
	relay := services.NewMailboxRelay(nil)
	pub := &recordingPublisher{}
	mailbox := NewSyncedMailbox(relay, pub, zaptest.NewLogger(t).Sugar())

	queue(t, relay, "lobby-1", "peer-a")
	queue(t, relay, "lobby-1", "peer-b")

	require.NoError(t, mailbox.RemovePeer(ctx, "lobby-1", "peer-a"))
	assert.Equal(t, []domain.PeerID{"peer-a"}, pub.left)
	assert.Equal(t, 1, relay.Stats().Recipients)

	require.NoError(t, mailbox.RemoveLobby(ctx, "lobby-1"))
	assert.Equal(t, []domain.LobbyID{"lobby-1"}, pub.deleted)
	assert.Equal(t, 0, relay.Stats().Lobbies)
}

func TestSyncedMailbox_PublishFailureIsNotFatal(t *testing.T) {
	relay := services.NewMailboxRelay(nil)
	pub := &recordingPublisher{err: errors.New("redis down")}
	mailbox := NewSyncedMailbox(relay, pub, zaptest.NewLogger(t).Sugar())

	queue(t, relay, "lobby-1", "peer-a")
	assert.NoError(t, mailbox.RemoveLobby(context.Background(), "lobby-1"))
	assert.Equal(t, 0, relay.Stats().QueuedMessages)
}

func TestSyncedMailbox_PostAndDrainStayLocal(t *testing.T) {
	ctx := context.Background()
	relay := services.NewMailboxRelay(nil)
	pub := &recordingPublisher{}
	mailbox := NewSyncedMailbox(relay, pub, zaptest.NewLogger(t).Sugar())

	require.NoError(t, mailbox.Post(ctx, "lobby-1", domain.NewPeerJoined("a", "b")))
	msgs, err := mailbox.Drain(ctx, "lobby-1", "b")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Empty(t, pub.deleted)
	assert.Empty(t, pub.left)
}

func TestApplyToMailbox(t *testing.T) {
	relay := services.NewMailboxRelay(nil)
	apply := ApplyToMailbox(relay)

	queue(t, relay, "lobby-1", "peer-a")
	queue(t, relay, "lobby-1", "peer-b")
	queue(t, relay, "lobby-2", "peer-c")

	require.NoError(t, apply(&Event{Type: EventPeerLeft, LobbyID: "lobby-1", PeerID: "peer-a"}))
	assert.Equal(t, 2, relay.Stats().Recipients)

	require.NoError(t, apply(&Event{Type: EventLobbyDeleted, LobbyID: "lobby-1"}))
	assert.Equal(t, 1, relay.Stats().Lobbies)

	assert.Error(t, apply(&Event{Type: "lobby.renamed", LobbyID: "lobby-2"}))
}

func TestEventBus_HandleSkipsOwnAndMalformedEvents(t *testing.T) {
	bus := NewEventBus(nil, "test", "instance-a", zaptest.NewLogger(t).Sugar())

	var got []*Event
	handler := func(e *Event) error {
		got = append(got, e)
		return nil
	}

	bus.handle(`{"type":"lobby.deleted","instance_id":"instance-a","lobby_id":"l1"}`, handler)
	bus.handle(`not json`, handler)
	bus.handle(`{"type":"lobby.deleted","instance_id":"instance-b","lobby_id":"l1"}`, handler)

	require.Len(t, got, 1)
	assert.Equal(t, domain.LobbyID("l1"), got[0].LobbyID)
	assert.Equal(t, "instance-b", got[0].InstanceID)
}

func newTestRedis(t *testing.T) (*redis.Client, string) {
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
	t.Cleanup(func() { client.Close() })
	return client, "lobbysignal-test-" + uuid.NewString()
}

func TestEventBus_RemovalReachesOtherInstance(t *testing.T) {
	client, prefix := newTestRedis(t)
	logger := zaptest.NewLogger(t).Sugar()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relayA := services.NewMailboxRelay(nil)
	relayB := services.NewMailboxRelay(nil)
	busA := NewEventBus(client, prefix, "instance-a", logger)
	busB := NewEventBus(client, prefix, "instance-b", logger)
	defer busA.Close()
	defer busB.Close()

	require.NoError(t, busA.Subscribe(ctx, ApplyToMailbox(relayA)))
	require.NoError(t, busB.Subscribe(ctx, ApplyToMailbox(relayB)))
	assert.Error(t, busB.Subscribe(ctx, ApplyToMailbox(relayB)))

	queue(t, relayA, "lobby-1", "peer-a")
	queue(t, relayB, "lobby-1", "peer-a")

	mailboxA := NewSyncedMailbox(relayA, busA, logger)
	require.NoError(t, mailboxA.RemoveLobby(ctx, "lobby-1"))

	assert.Eventually(t, func() bool {
		return relayB.Stats().Lobbies == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-busB.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription loop did not exit")
	}
}
