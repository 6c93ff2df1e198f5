package domain

import "errors"

var (
	ErrInvalidMessage     = errors.New("invalid signaling message")
	ErrUnknownMessageType = errors.New("unknown signaling message type")
	ErrLobbyNotFound      = errors.New("lobby not found")
	ErrPeerNotFound       = errors.New("peer not found")
	ErrInvalidTransition  = errors.New("invalid negotiation state transition")
	ErrConnectionClosed   = errors.New("peer connection closed")
	ErrAlreadyPolling     = errors.New("signaling client already initialized")
)
