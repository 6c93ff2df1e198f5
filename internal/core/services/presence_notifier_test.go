package services

import (
	"context"
	"errors"
	"testing"

	"lobbysignal/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type MockLobbyDirectory struct {
	mock.Mock
}

func (m *MockLobbyDirectory) Exists(ctx context.Context, id domain.LobbyID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockLobbyDirectory) Members(ctx context.Context, id domain.LobbyID) ([]domain.PeerID, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PeerID), args.Error(1)
}

type fanoutCounter struct {
	counts map[domain.MessageType]int
}

func (f *fanoutCounter) PresenceFanout(kind domain.MessageType, recipients int) {
	if f.counts == nil {
		f.counts = make(map[domain.MessageType]int)
	}
	f.counts[kind] += recipients
}

func TestPresenceNotifier_NotifyJoined(t *testing.T) {
	ctx := context.Background()
	relay := NewMailboxRelay(nil)
	dir := new(MockLobbyDirectory)
	metrics := &fanoutCounter{}
	notifier := NewPresenceNotifier(relay, dir, metrics, zaptest.NewLogger(t).Sugar())

	dir.On("Exists", mock.Anything, domain.LobbyID("l1")).Return(true, nil)
	dir.On("Members", mock.Anything, domain.LobbyID("l1")).Return([]domain.PeerID{"a", "b", "c"}, nil)

	require.NoError(t, notifier.NotifyJoined(ctx, "l1", "c"))

	for _, peer := range []domain.PeerID{"a", "b"} {
		msgs, err := relay.Drain(ctx, "l1", peer)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, domain.NewPeerJoined("c", peer), msgs[0])
	}
	msgs, err := relay.Drain(ctx, "l1", "c")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, 2, metrics.counts[domain.MessagePeerJoined])
	dir.AssertExpectations(t)
}

func TestPresenceNotifier_NotifyJoinedUnknownLobby(t *testing.T) {
	relay := NewMailboxRelay(nil)
	dir := new(MockLobbyDirectory)
	notifier := NewPresenceNotifier(relay, dir, nil, zaptest.NewLogger(t).Sugar())

	dir.On("Exists", mock.Anything, domain.LobbyID("nope")).Return(false, nil)

	err := notifier.NotifyJoined(context.Background(), "nope", "a")
	assert.ErrorIs(t, err, domain.ErrLobbyNotFound)
	dir.AssertNotCalled(t, "Members", mock.Anything, mock.Anything)
	assert.Equal(t, RelayStats{}, relay.Stats())
}

func TestPresenceNotifier_NotifyJoinedAlone(t *testing.T) {
	relay := NewMailboxRelay(nil)
	dir := new(MockLobbyDirectory)
	notifier := NewPresenceNotifier(relay, dir, nil, zaptest.NewLogger(t).Sugar())

	dir.On("Exists", mock.Anything, domain.LobbyID("l1")).Return(true, nil)
	dir.On("Members", mock.Anything, domain.LobbyID("l1")).Return([]domain.PeerID{}, nil)

	assert.NoError(t, notifier.NotifyJoined(context.Background(), "l1", "a"))
	assert.Equal(t, RelayStats{}, relay.Stats())
}

func TestPresenceNotifier_NotifyLeft(t *testing.T) {
	ctx := context.Background()
	relay := NewMailboxRelay(nil)
	dir := new(MockLobbyDirectory)
	notifier := NewPresenceNotifier(relay, dir, nil, zaptest.NewLogger(t).Sugar())

	dir.On("Exists", mock.Anything, domain.LobbyID("l1")).Return(true, nil)
	dir.On("Members", mock.Anything, domain.LobbyID("l1")).Return([]domain.PeerID{"a", "b"}, nil)

	// Pending traffic for the leaver is discarded.
	require.NoError(t, relay.Post(ctx, "l1", offerMsg("a", "b", "x")))

	require.NoError(t, notifier.NotifyLeft(ctx, "l1", "b"))

	msgs, err := relay.Drain(ctx, "l1", "a")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.NewPeerLeft("b", "a"), msgs[0])

	msgs, err = relay.Drain(ctx, "l1", "b")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestPresenceNotifier_NotifyLeftMissingLobby(t *testing.T) {
	ctx := context.Background()
	relay := NewMailboxRelay(nil)
	dir := new(MockLobbyDirectory)
	notifier := NewPresenceNotifier(relay, dir, nil, zaptest.NewLogger(t).Sugar())

	dir.On("Exists", mock.Anything, domain.LobbyID("gone")).Return(false, nil)
	dir.On("Exists", mock.Anything, domain.LobbyID("broken")).Return(false, errors.New("redis down"))

	require.NoError(t, relay.Post(ctx, "gone", offerMsg("a", "b", "x")))
	require.NoError(t, relay.Post(ctx, "broken", offerMsg("a", "b", "x")))

	assert.NoError(t, notifier.NotifyLeft(ctx, "gone", "b"))
	assert.NoError(t, notifier.NotifyLeft(ctx, "broken", "b"))

	dir.AssertNotCalled(t, "Members", mock.Anything, mock.Anything)
	assert.Equal(t, RelayStats{}, relay.Stats())
}
