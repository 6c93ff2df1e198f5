package utils

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID("test")
	id2 := GenerateID("test")

	assert.NotEqual(t, id1, id2)
	assert.True(t, strings.HasPrefix(id1, "test_"))
	assert.Len(t, id1, len("test_")+16)
	assert.Len(t, GenerateID(""), 32)
	assert.True(t, strings.HasPrefix(GenerateRequestID(), "req_"))
	assert.True(t, strings.HasPrefix(GeneratePeerID(), "peer_"))
}

func TestGenerateLobbyID(t *testing.T) {
	_, err := uuid.Parse(GenerateLobbyID())
	require.NoError(t, err)
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"normal string", "hello", "hello"},
		{"with control chars", "hello\x00world", "helloworld"},
		{"with newline", "hello\nworld", "hello\nworld"},
		{"with whitespace", "  hello  ", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeString(tt.input))
		})
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "hello", TruncateString("hello", 10))
	assert.Equal(t, "he...", TruncateString("hello world", 5))
	assert.Equal(t, "he", TruncateString("hello", 2))
}
