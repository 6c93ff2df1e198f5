package domain

import "encoding/json"

// PeerEventKind names what happened to a remote peer.
type PeerEventKind string

const (
	EventPeerJoined       PeerEventKind = "peer-joined"
	EventPeerLeft         PeerEventKind = "peer-left"
	EventPeerConnected    PeerEventKind = "peer-connected"
	EventPeerDisconnected PeerEventKind = "peer-disconnected"
	EventDataMessage      PeerEventKind = "data-message"
)

// PeerEvent is surfaced to the application layer. MessageType and Data are
// only set for data-message events.
type PeerEvent struct {
	Kind        PeerEventKind
	PeerID      PeerID
	MessageType string
	Data        json.RawMessage
}
