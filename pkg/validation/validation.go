package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const maxIDLength = 128

var (
	// IDRegex matches lobby and peer identifiers: uuids, slugs and
	// user-chosen names without whitespace or path separators.
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9._:@-]+$`)
)

func validateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s is required", kind)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s is too long (max %d characters)", kind, maxIDLength)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", kind)
	}
	return nil
}

// ValidateLobbyID validates lobby ID
func ValidateLobbyID(lobbyID string) error {
	return validateID("lobby ID", lobbyID)
}

// ValidatePeerID validates peer ID
func ValidatePeerID(peerID string) error {
	return validateID("peer ID", peerID)
}

// ValidateURL validates an http(s) base URL.
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateICEServerURL accepts stun:, stuns:, turn: and turns: URLs.
func ValidateICEServerURL(raw string) error {
	for _, scheme := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(raw, scheme) && len(raw) > len(scheme) {
			return nil
		}
	}
	return fmt.Errorf("invalid ICE server URL %q", raw)
}
