package domain

// NegotiationState tracks one peer pair's progress toward an open data channel.
type NegotiationState string

const (
	StateNew            NegotiationState = "new"
	StateOfferSent      NegotiationState = "offer-sent"
	StateOfferReceived  NegotiationState = "offer-received"
	StateAnswerSent     NegotiationState = "answer-sent"
	StateAnswerReceived NegotiationState = "answer-received"
	StateConnected      NegotiationState = "connected"
	StateClosed         NegotiationState = "closed"
)

func (s NegotiationState) rank() int {
	switch s {
	case StateNew:
		return 0
	case StateOfferSent, StateOfferReceived:
		return 1
	case StateAnswerSent, StateAnswerReceived:
		return 2
	case StateConnected:
		return 3
	case StateClosed:
		return 4
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next keeps the state moving
// forward. Closed is reachable from everywhere except itself.
func (s NegotiationState) CanAdvanceTo(next NegotiationState) bool {
	if s == StateClosed {
		return false
	}
	if next == StateClosed {
		return true
	}
	return next.rank() > s.rank()
}

// Role records which side created the offer.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// ConnectionInfo is a read-only snapshot of one peer connection.
type ConnectionInfo struct {
	PeerID      PeerID           `json:"peerId"`
	Role        Role             `json:"role"`
	State       NegotiationState `json:"state"`
	ChannelOpen bool             `json:"channelOpen"`
}
