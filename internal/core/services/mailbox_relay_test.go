package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"lobbysignal/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offerMsg(from, to domain.PeerID, sdp string) domain.SignalingMessage {
	return domain.NewOffer(from, to, domain.SessionDescription{Type: "offer", SDP: sdp})
}

func TestMailboxRelay_DrainOnce(t *testing.T) {
	relay := NewMailboxRelay(nil)
	ctx := context.Background()

	require.NoError(t, relay.Post(ctx, "l1", offerMsg("a", "b", "1")))

	first, err := relay.Drain(ctx, "l1", "b")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "1", first[0].Description.SDP)

	second, err := relay.Drain(ctx, "l1", "b")
	require.NoError(t, err)
	assert.NotNil(t, second)
	assert.Empty(t, second)
}

func TestMailboxRelay_FIFOPerRecipient(t *testing.T) {
	relay := NewMailboxRelay(nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, relay.Post(ctx, "l1", offerMsg("a", "b", fmt.Sprint(i))))
		require.NoError(t, relay.Post(ctx, "l1", offerMsg("a", "c", fmt.Sprint(i))))
	}

	for _, peer := range []domain.PeerID{"b", "c"} {
		msgs, err := relay.Drain(ctx, "l1", peer)
		require.NoError(t, err)
		require.Len(t, msgs, 5)
		for i, m := range msgs {
			assert.Equal(t, fmt.Sprint(i), m.Description.SDP)
			assert.Equal(t, peer, m.To)
		}
	}
}

func TestMailboxRelay_LobbiesAreIsolated(t *testing.T) {
	relay := NewMailboxRelay(nil)
	ctx := context.Background()

	require.NoError(t, relay.Post(ctx, "l1", domain.NewPeerJoined("a", "b")))

	msgs, err := relay.Drain(ctx, "l2", "b")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = relay.Drain(ctx, "l1", "b")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMailboxRelay_RejectsInvalidMessages(t *testing.T) {
	relay := NewMailboxRelay(nil)
	ctx := context.Background()

	tests := []struct {
		name string
		msg  domain.SignalingMessage
	}{
		{"missing type", domain.SignalingMessage{From: "a", To: "b"}},
		{"missing from", domain.SignalingMessage{Type: domain.MessagePeerJoined, To: "b"}},
		{"missing to", domain.SignalingMessage{Type: domain.MessagePeerJoined, From: "a"}},
		{"offer without sdp", domain.SignalingMessage{Type: domain.MessageOffer, From: "a", To: "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := relay.Post(ctx, "l1", tt.msg)
			assert.ErrorIs(t, err, domain.ErrInvalidMessage)
		})
	}
	assert.Equal(t, RelayStats{}, relay.Stats())
}

func TestMailboxRelay_StoresCopies(t *testing.T) {
	relay := NewMailboxRelay(nil)
	ctx := context.Background()

	desc := &domain.SessionDescription{Type: "offer", SDP: "original"}
	msg := domain.SignalingMessage{Type: domain.MessageOffer, From: "a", To: "b", Description: desc}
	require.NoError(t, relay.Post(ctx, "l1", msg))
	desc.SDP = "mutated"

	msgs, err := relay.Drain(ctx, "l1", "b")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "original", msgs[0].Description.SDP)
}

func TestMailboxRelay_SweepsEmptyLobbies(t *testing.T) {
	relay := NewMailboxRelay(nil)
	ctx := context.Background()

	require.NoError(t, relay.Post(ctx, "l1", domain.NewPeerJoined("a", "b")))
	require.NoError(t, relay.Post(ctx, "l1", domain.NewPeerJoined("a", "c")))
	assert.Equal(t, RelayStats{Lobbies: 1, Recipients: 2, QueuedMessages: 2}, relay.Stats())

	_, err := relay.Drain(ctx, "l1", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, relay.Stats().Lobbies)

	require.NoError(t, relay.RemovePeer(ctx, "l1", "c"))
	assert.Equal(t, RelayStats{}, relay.Stats())

	// A swept lobby is recreated on the next post.
	require.NoError(t, relay.Post(ctx, "l1", domain.NewPeerLeft("a", "b")))
	msgs, err := relay.Drain(ctx, "l1", "b")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMailboxRelay_RemoveLobby(t *testing.T) {
	relay := NewMailboxRelay(nil)
	ctx := context.Background()

	require.NoError(t, relay.Post(ctx, "l1", domain.NewPeerJoined("a", "b")))
	require.NoError(t, relay.Post(ctx, "l2", domain.NewPeerJoined("a", "b")))
	require.NoError(t, relay.RemoveLobby(ctx, "l1"))
	require.NoError(t, relay.RemoveLobby(ctx, "missing"))

	msgs, err := relay.Drain(ctx, "l1", "b")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = relay.Drain(ctx, "l2", "b")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMailboxRelay_ConcurrentPostAndDrain(t *testing.T) {
	relay := NewMailboxRelay(nil)
	ctx := context.Background()

	const (
		lobbies = 4
		senders = 8
		perSend = 50
	)

	var wg sync.WaitGroup
	for l := 0; l < lobbies; l++ {
		lobbyID := domain.LobbyID(fmt.Sprintf("l%d", l))
		for s := 0; s < senders; s++ {
			from := domain.PeerID(fmt.Sprintf("s%d", s))
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perSend; i++ {
					_ = relay.Post(ctx, lobbyID, domain.NewPeerJoined(from, "target"))
				}
			}()
		}
	}

	received := make([]int, lobbies)
	var drainers sync.WaitGroup
	done := make(chan struct{})
	for l := 0; l < lobbies; l++ {
		drainers.Add(1)
		go func(l int) {
			defer drainers.Done()
			lobbyID := domain.LobbyID(fmt.Sprintf("l%d", l))
			for {
				msgs, _ := relay.Drain(ctx, lobbyID, "target")
				received[l] += len(msgs)
				select {
				case <-done:
					msgs, _ := relay.Drain(ctx, lobbyID, "target")
					received[l] += len(msgs)
					return
				default:
				}
			}
		}(l)
	}

	wg.Wait()
	close(done)
	drainers.Wait()

	for l := 0; l < lobbies; l++ {
		assert.Equal(t, senders*perSend, received[l], "lobby %d", l)
	}
	assert.Equal(t, RelayStats{}, relay.Stats())
}
