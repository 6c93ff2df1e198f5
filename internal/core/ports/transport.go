package ports

import "lobbysignal/internal/core/domain"

// TransportState is the connection state reported by a PeerTransport.
type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// Terminal reports whether the state ends the connection.
func (s TransportState) Terminal() bool {
	return s == TransportDisconnected || s == TransportFailed || s == TransportClosed
}

// TransportFactory creates one PeerTransport per remote peer.
type TransportFactory interface {
	NewTransport() (PeerTransport, error)
}

// PeerTransport is the ICE/SDP capability the connection manager drives.
// Callbacks may fire on any goroutine but must not be invoked synchronously
// from inside a PeerTransport method.
type PeerTransport interface {
	CreateDataChannel(label string) (DataChannel, error)
	OnDataChannel(fn func(DataChannel))

	// CreateOffer generates an offer and applies it as the local description.
	CreateOffer() (domain.SessionDescription, error)
	// CreateAnswer applies the remote offer, then generates and applies an answer.
	CreateAnswer(offer domain.SessionDescription) (domain.SessionDescription, error)
	SetRemoteDescription(desc domain.SessionDescription) error
	// AddICECandidate queues the candidate until a remote description is set.
	AddICECandidate(candidate domain.ICECandidate) error

	OnICECandidate(fn func(domain.ICECandidate))
	OnConnectionStateChange(fn func(TransportState))
	Close() error
}

// DataChannel is an ordered, reliable message channel to one remote peer.
type DataChannel interface {
	Label() string
	IsOpen() bool
	Send(data []byte) error
	OnOpen(fn func())
	OnMessage(fn func(data []byte))
	OnClose(fn func())
	Close() error
}
