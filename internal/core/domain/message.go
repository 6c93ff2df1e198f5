package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType identifies one of the five signaling message kinds.
type MessageType string

const (
	MessageOffer        MessageType = "offer"
	MessageAnswer       MessageType = "answer"
	MessageICECandidate MessageType = "ice-candidate"
	MessagePeerJoined   MessageType = "peer-joined"
	MessagePeerLeft     MessageType = "peer-left"
)

// Valid reports whether t is a known message kind.
func (t MessageType) Valid() bool {
	switch t {
	case MessageOffer, MessageAnswer, MessageICECandidate, MessagePeerJoined, MessagePeerLeft:
		return true
	}
	return false
}

// IsPresence reports whether t is a server-generated presence notification.
func (t MessageType) IsPresence() bool {
	return t == MessagePeerJoined || t == MessagePeerLeft
}

// SessionDescription is the SDP payload carried by offers and answers.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors the browser RTCIceCandidateInit dictionary.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SignalingMessage is a tagged union over the five message kinds. Exactly one
// of Description or Candidate is set for negotiation kinds; both are nil for
// presence kinds.
type SignalingMessage struct {
	Type        MessageType
	From        PeerID
	To          PeerID
	Description *SessionDescription
	Candidate   *ICECandidate
}

type wireMessage struct {
	Type    MessageType     `json:"type"`
	From    PeerID          `json:"from"`
	To      PeerID          `json:"to"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewOffer builds an offer from one peer to another.
func NewOffer(from, to PeerID, desc SessionDescription) SignalingMessage {
	return SignalingMessage{Type: MessageOffer, From: from, To: to, Description: &desc}
}

func NewAnswer(from, to PeerID, desc SessionDescription) SignalingMessage {
	return SignalingMessage{Type: MessageAnswer, From: from, To: to, Description: &desc}
}

func NewICECandidate(from, to PeerID, candidate ICECandidate) SignalingMessage {
	return SignalingMessage{Type: MessageICECandidate, From: from, To: to, Candidate: &candidate}
}

// NewPeerJoined builds the presence notice queued for each other member
// when from joins.
func NewPeerJoined(from, to PeerID) SignalingMessage {
	return SignalingMessage{Type: MessagePeerJoined, From: from, To: to}
}

func NewPeerLeft(from, to PeerID) SignalingMessage {
	return SignalingMessage{Type: MessagePeerLeft, From: from, To: to}
}

// Validate checks the envelope and the payload required by the message kind.
func (m SignalingMessage) Validate() error {
	if m.Type == "" || m.From == "" || m.To == "" {
		return fmt.Errorf("%w: type, from and to are required", ErrInvalidMessage)
	}
	if m.Type.IsPresence() {
		if m.Description != nil || m.Candidate != nil {
			return fmt.Errorf("%w: %s carries no payload", ErrInvalidMessage, m.Type)
		}
		return nil
	}
	switch m.Type {
	case MessageOffer, MessageAnswer:
		if m.Description == nil || m.Description.SDP == "" {
			return fmt.Errorf("%w: %s requires an sdp payload", ErrInvalidMessage, m.Type)
		}
	case MessageICECandidate:
		if m.Candidate == nil {
			return fmt.Errorf("%w: ice-candidate requires a candidate payload", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: %w %q", ErrInvalidMessage, ErrUnknownMessageType, m.Type)
	}
	return nil
}

// Clone returns a deep copy so queued messages never share payload pointers
// with the caller.
func (m SignalingMessage) Clone() SignalingMessage {
	out := m
	if m.Description != nil {
		d := *m.Description
		out.Description = &d
	}
	if m.Candidate != nil {
		c := *m.Candidate
		out.Candidate = &c
	}
	return out
}

// MarshalJSON writes the wire form. Presence kinds carry no payload.
func (m SignalingMessage) MarshalJSON() ([]byte, error) {
	w := wireMessage{Type: m.Type, From: m.From, To: m.To}

	var payload any
	switch {
	case m.Description != nil:
		payload = m.Description
	case m.Candidate != nil:
		payload = m.Candidate
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		w.Payload = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire form and rejects unknown kinds and payloads
// that do not match the kind.
func (m *SignalingMessage) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	msg := SignalingMessage{Type: w.Type, From: w.From, To: w.To}
	hasPayload := len(w.Payload) > 0 && !bytes.Equal(bytes.TrimSpace(w.Payload), []byte("null"))

	switch w.Type {
	case MessageOffer, MessageAnswer:
		if hasPayload {
			var desc SessionDescription
			if err := json.Unmarshal(w.Payload, &desc); err != nil {
				return fmt.Errorf("%w: bad %s payload: %v", ErrInvalidMessage, w.Type, err)
			}
			if desc.Type == "" {
				desc.Type = string(w.Type)
			}
			msg.Description = &desc
		}
	case MessageICECandidate:
		if hasPayload {
			var cand ICECandidate
			if err := json.Unmarshal(w.Payload, &cand); err != nil {
				return fmt.Errorf("%w: bad ice-candidate payload: %v", ErrInvalidMessage, err)
			}
			msg.Candidate = &cand
		}
	}

	if err := msg.Validate(); err != nil {
		return err
	}
	*m = msg
	return nil
}

// DataEnvelope is the JSON frame exchanged over peer data channels.
type DataEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}
