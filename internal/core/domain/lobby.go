package domain

import "time"

// Lobby is a named group of peers that intend to play together.
type Lobby struct {
	ID           LobbyID   `json:"lobbyId"`
	Members      []PeerID  `json:"users"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// HasMember reports whether peerID is part of the lobby.
func (l *Lobby) HasMember(peerID PeerID) bool {
	for _, m := range l.Members {
		if m == peerID {
			return true
		}
	}
	return false
}

// AddMember appends peerID unless it is already present.
func (l *Lobby) AddMember(peerID PeerID) bool {
	if l.HasMember(peerID) {
		return false
	}
	l.Members = append(l.Members, peerID)
	return true
}

// RemoveMember drops peerID and reports whether it was present.
func (l *Lobby) RemoveMember(peerID PeerID) bool {
	for i, m := range l.Members {
		if m == peerID {
			l.Members = append(l.Members[:i:i], l.Members[i+1:]...)
			return true
		}
	}
	return false
}

// OtherMembers returns every member except peerID, in membership order.
func (l *Lobby) OtherMembers(peerID PeerID) []PeerID {
	others := make([]PeerID, 0, len(l.Members))
	for _, m := range l.Members {
		if m != peerID {
			others = append(others, m)
		}
	}
	return others
}
