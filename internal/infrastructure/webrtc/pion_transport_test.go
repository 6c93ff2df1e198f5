package webrtc

import (
	"sync"
	"testing"
	"time"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/ports"
	"lobbysignal/pkg/config"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFactory(t *testing.T) *TransportFactory {
	t.Helper()
	f, err := NewTransportFactory(Config{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return f
}

func TestConfigFrom(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.WebRTC.PortRange.Min = 50000
	cfg.WebRTC.PortRange.Max = 50100

	out := ConfigFrom(cfg)
	require.Len(t, out.ICEServers, 2)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, out.ICEServers[0].URLs)
	assert.Equal(t, uint16(50000), out.PortRange.Min)

	cfg.WebRTC.ICEServers = nil
	assert.Equal(t, DefaultICEServers, ConfigFrom(cfg).ICEServers)
}

func TestMapConnectionState(t *testing.T) {
	assert.Equal(t, ports.TransportConnected, mapConnectionState(webrtc.PeerConnectionStateConnected))
	assert.Equal(t, ports.TransportFailed, mapConnectionState(webrtc.PeerConnectionStateFailed))
	assert.Equal(t, ports.TransportNew, mapConnectionState(webrtc.PeerConnectionStateNew))
	assert.True(t, mapConnectionState(webrtc.PeerConnectionStateDisconnected).Terminal())
}

func TestPionTransport_CandidatesQueueUntilRemoteDescription(t *testing.T) {
	f := newTestFactory(t)
	tr, err := f.NewTransport()
	require.NoError(t, err)
	defer tr.Close()

	pt := tr.(*pionTransport)
	err = tr.AddICECandidate(domain.ICECandidate{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host"})
	require.NoError(t, err)

	pt.mu.Lock()
	assert.Len(t, pt.pending, 1)
	assert.False(t, pt.remoteSet)
	pt.mu.Unlock()
}

// Loopback negotiation between two in-process transports, host candidates
// only.
func TestPionTransport_LoopbackDataChannel(t *testing.T) {
	f := newTestFactory(t)

	a, err := f.NewTransport()
	require.NoError(t, err)
	defer a.Close()
	b, err := f.NewTransport()
	require.NoError(t, err)
	defer b.Close()

	toB := make(chan domain.ICECandidate, 32)
	toA := make(chan domain.ICECandidate, 32)
	a.OnICECandidate(func(c domain.ICECandidate) { toB <- c })
	b.OnICECandidate(func(c domain.ICECandidate) { toA <- c })

	received := make(chan []byte, 1)
	b.OnDataChannel(func(dc ports.DataChannel) {
		assert.Equal(t, "gameState", dc.Label())
		dc.OnMessage(func(data []byte) { received <- data })
	})

	connected := make(chan struct{})
	var once sync.Once
	a.OnConnectionStateChange(func(s ports.TransportState) {
		if s == ports.TransportConnected {
			once.Do(func() { close(connected) })
		}
	})

	ch, err := a.CreateDataChannel("gameState")
	require.NoError(t, err)
	opened := make(chan struct{})
	ch.OnOpen(func() { close(opened) })

	offer, err := a.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)

	// Candidates that beat the offer to b are queued by the adapter.
	answer, err := b.CreateAnswer(offer)
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)
	require.NoError(t, a.SetRemoteDescription(answer))

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case c := <-toB:
				_ = b.AddICECandidate(c)
			case c := <-toA:
				_ = a.AddICECandidate(c)
			case <-done:
				return
			}
		}
	}()

	select {
	case <-connected:
	case <-time.After(15 * time.Second):
		t.Fatal("transports did not connect")
	}
	select {
	case <-opened:
	case <-time.After(10 * time.Second):
		t.Fatal("data channel did not open")
	}

	assert.True(t, ch.IsOpen())
	require.NoError(t, ch.Send([]byte(`{"type":"move","data":1}`)))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"type":"move","data":1}`, string(data))
	case <-time.After(10 * time.Second):
		t.Fatal("message not delivered")
	}
}
