package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateLobbyID returns a random lobby identifier.
func GenerateLobbyID() string {
	return uuid.NewString()
}

// GeneratePeerID returns a random peer identifier with a short prefix.
func GeneratePeerID() string {
	return GenerateID("peer")
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return GenerateID("req")
}

// GenerateID generates a random ID with prefix
func GenerateID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id[:16]
}
