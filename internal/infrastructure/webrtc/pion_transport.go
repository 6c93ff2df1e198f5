package webrtc

import (
	"fmt"
	"sync"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/ports"
	"lobbysignal/pkg/config"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// DefaultICEServers are used when the configuration lists none.
var DefaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
}

// ConfigFrom converts the webrtc section of the application config.
func ConfigFrom(cfg *config.Config) Config {
	var out Config
	for _, s := range cfg.WebRTC.ICEServers {
		out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(out.ICEServers) == 0 {
		out.ICEServers = DefaultICEServers
	}
	out.PortRange.Min = cfg.WebRTC.PortRange.Min
	out.PortRange.Max = cfg.WebRTC.PortRange.Max
	return out
}

// Config configures the pion-backed transports.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// TransportFactory builds pion PeerConnections sharing one API instance. An
// empty ICE server list restricts gathering to host candidates.
type TransportFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger *zap.SugaredLogger
}

// NewTransportFactory builds a pion API that logs through logger and, if
// set, restricts ICE to cfg.PortRange.
func NewTransportFactory(cfg Config, logger *zap.SugaredLogger) (*TransportFactory, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.LoggerFactory = newZapLoggerFactory(logger)
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	return &TransportFactory{
		api: webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		config: webrtc.Configuration{
			ICEServers: cfg.ICEServers,
		},
		logger: logger,
	}, nil
}

var _ ports.TransportFactory = (*TransportFactory)(nil)

// NewTransport opens a pion PeerConnection with the configured ICE servers.
func (f *TransportFactory) NewTransport() (ports.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &pionTransport{pc: pc, logger: f.logger}, nil
}

// pionTransport adapts a pion PeerConnection. Remote candidates that arrive
// before the remote description are held and applied once it is set.
type pionTransport struct {
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func (t *pionTransport) CreateDataChannel(label string) (ports.DataChannel, error) {
	dc, err := t.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return &dataChannel{dc: dc}, nil
}

func (t *pionTransport) OnDataChannel(fn func(ports.DataChannel)) {
	t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(&dataChannel{dc: dc})
	})
}

func (t *pionTransport) CreateOffer() (domain.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to set local offer: %w", err)
	}
	return fromPionDescription(offer), nil
}

func (t *pionTransport) CreateAnswer(offer domain.SessionDescription) (domain.SessionDescription, error) {
	if err := t.SetRemoteDescription(offer); err != nil {
		return domain.SessionDescription{}, err
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to set local answer: %w", err)
	}
	return fromPionDescription(answer), nil
}

func (t *pionTransport) SetRemoteDescription(desc domain.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(toPionDescription(desc)); err != nil {
		return fmt.Errorf("failed to set remote %s: %w", desc.Type, err)
	}

	t.mu.Lock()
	t.remoteSet = true
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, c := range pending {
		if err := t.pc.AddICECandidate(c); err != nil {
			t.logger.Warnw("failed to apply queued ICE candidate", "error", err)
		}
	}
	return nil
}

func (t *pionTransport) AddICECandidate(candidate domain.ICECandidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	}

	t.mu.Lock()
	if !t.remoteSet {
		t.pending = append(t.pending, init)
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	return t.pc.AddICECandidate(init)
}

func (t *pionTransport) OnICECandidate(fn func(domain.ICECandidate)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		init := c.ToJSON()
		fn(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (t *pionTransport) OnConnectionStateChange(fn func(ports.TransportState)) {
	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(mapConnectionState(s))
	})
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}

func mapConnectionState(s webrtc.PeerConnectionState) ports.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return ports.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return ports.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ports.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ports.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return ports.TransportClosed
	default:
		return ports.TransportNew
	}
}

func toPionDescription(desc domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(desc.Type), SDP: desc.SDP}
}

func fromPionDescription(desc webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}
}

type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Label() string { return d.dc.Label() }

func (d *dataChannel) IsOpen() bool {
	return d.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (d *dataChannel) Send(data []byte) error {
	return d.dc.Send(data)
}

func (d *dataChannel) OnOpen(fn func()) { d.dc.OnOpen(fn) }

func (d *dataChannel) OnMessage(fn func(data []byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (d *dataChannel) OnClose(fn func()) { d.dc.OnClose(fn) }

func (d *dataChannel) Close() error { return d.dc.Close() }
