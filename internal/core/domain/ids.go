package domain

// LobbyID identifies a lobby.
type LobbyID string

// PeerID identifies a peer. Ids are compared lexically to settle glare.
type PeerID string

func (id PeerID) String() string {
	return string(id)
}

func (id LobbyID) String() string {
	return string(id)
}
