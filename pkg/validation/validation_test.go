package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePeerID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "alice", false},
		{"uuid", "3f1c2a9e-8c1b-4d7a-9e5f-0a1b2c3d4e5f", false},
		{"with dots and at", "player.one@table", false},
		{"empty", "", true},
		{"with space", "bad id", true},
		{"with slash", "a/b", true},
		{"too long", strings.Repeat("a", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePeerID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateLobbyID(t *testing.T) {
	assert.NoError(t, ValidateLobbyID("lobby-42"))
	assert.ErrorContains(t, ValidateLobbyID(""), "lobby ID is required")
	assert.Error(t, ValidateLobbyID("lobby?x=1"))
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("http://localhost:3000"))
	assert.NoError(t, ValidateURL("https://relay.example.com"))
	assert.Error(t, ValidateURL(""))
	assert.Error(t, ValidateURL("ws://relay.example.com"))
	assert.Error(t, ValidateURL("http://"))
}

func TestValidateICEServerURL(t *testing.T) {
	assert.NoError(t, ValidateICEServerURL("stun:stun.l.google.com:19302"))
	assert.NoError(t, ValidateICEServerURL("turns:turn.example.com:5349"))
	assert.Error(t, ValidateICEServerURL("stun:"))
	assert.Error(t, ValidateICEServerURL("http://stun.example.com"))
}

