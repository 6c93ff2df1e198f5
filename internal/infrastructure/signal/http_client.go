package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/ports"
	"lobbysignal/pkg/circuitbreaker"
	"lobbysignal/pkg/retry"

	"go.uber.org/zap"
)

// HTTPStatusError is returned for non-2xx relay responses.
type HTTPStatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPStatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("relay returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("relay returned %d", e.StatusCode)
}

// Temporary reports whether the request may succeed when repeated.
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsRetryable treats transport errors and 5xx/429 responses as transient.
func IsRetryable(err error) bool {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// HTTPClient talks to the relay's /api/lobby routes.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
	retry      retry.Config
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.SugaredLogger
}

// NewHTTPClient talks to the relay at baseURL. Retries only repeat requests
// that IsRetryable accepts.
func NewHTTPClient(baseURL string, timeout time.Duration, retryCfg retry.Config) *HTTPClient {
	retryCfg.Retryable = IsRetryable
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retry:  retryCfg,
		logger: zap.NewNop().Sugar(),
	}
}

var _ ports.SignalingAPI = (*HTTPClient)(nil)

// SetToken sets the bearer token sent with every request.
func (c *HTTPClient) SetToken(token string) {
	c.token = token
}

// SetLogger sets the logger used to report drained messages that could not
// be decoded.
func (c *HTTPClient) SetLogger(logger *zap.SugaredLogger) {
	c.logger = logger
}

// SetBreaker routes every request through cb. Only transient failures
// count against it.
func (c *HTTPClient) SetBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// NewBreaker returns a breaker that opens after failures consecutive
// transient errors.
func NewBreaker(failures int, cooldown time.Duration) *circuitbreaker.CircuitBreaker {
	cfg := circuitbreaker.DefaultConfig()
	cfg.FailureThreshold = failures
	cfg.SuccessThreshold = 1
	cfg.Timeout = cooldown
	cfg.IsFailure = IsRetryable
	return circuitbreaker.New(cfg)
}

// Post queues msg on the relay, retrying transient failures. Drain is never
// retried since a lost response already emptied the queue.
func (c *HTTPClient) Post(ctx context.Context, lobbyID domain.LobbyID, msg domain.SignalingMessage) error {
	return retry.Retry(ctx, c.retry, func() error {
		return c.do(ctx, http.MethodPost, lobbyPath(lobbyID, "signal"), msg, nil)
	})
}

// Drain fetches and clears the peer's queue.
func (c *HTTPClient) Drain(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) ([]domain.SignalingMessage, error) {
	var raw []json.RawMessage
	if err := c.do(ctx, http.MethodGet, lobbyPath(lobbyID, "signal", string(peerID)), nil, &raw); err != nil {
		return nil, err
	}

	// The relay validates on post, so a malformed entry is skipped rather
	// than discarding the rest of an already drained batch. It is gone from
	// the relay either way, hence the warning.
	messages := make([]domain.SignalingMessage, 0, len(raw))
	for i, item := range raw {
		var msg domain.SignalingMessage
		if err := json.Unmarshal(item, &msg); err != nil {
			c.logger.Warnw("dropping undecodable drained message",
				"lobby_id", lobbyID,
				"peer_id", peerID,
				"index", i,
				"error", err,
			)
			continue
		}
		messages = append(messages, msg)
	}
	if skipped := len(raw) - len(messages); skipped > 0 {
		c.logger.Warnw("drained batch had undecodable messages",
			"lobby_id", lobbyID,
			"peer_id", peerID,
			"skipped", skipped,
			"delivered", len(messages),
		)
	}
	return messages, nil
}

// NotifyJoined asks the relay to announce peerID to the rest of the lobby.
func (c *HTTPClient) NotifyJoined(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) error {
	return c.do(ctx, http.MethodPost, lobbyPath(lobbyID, "notify-joined"), userRequest{UserID: peerID}, nil)
}

func (c *HTTPClient) NotifyLeft(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) error {
	return c.do(ctx, http.MethodPost, lobbyPath(lobbyID, "notify-left"), userRequest{UserID: peerID}, nil)
}

// CreateLobby creates a lobby hosted by peerID.
func (c *HTTPClient) CreateLobby(ctx context.Context, peerID domain.PeerID) (*domain.Lobby, error) {
	var lobby domain.Lobby
	if err := c.do(ctx, http.MethodPost, "/api/lobby", userRequest{UserID: peerID}, &lobby); err != nil {
		return nil, err
	}
	return &lobby, nil
}

// JoinLobby adds peerID to an existing lobby.
func (c *HTTPClient) JoinLobby(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) (*domain.Lobby, error) {
	var lobby domain.Lobby
	if err := c.do(ctx, http.MethodPost, lobbyPath(lobbyID, "join"), userRequest{UserID: peerID}, &lobby); err != nil {
		return nil, err
	}
	return &lobby, nil
}

// LeaveLobby removes peerID from the lobby.
func (c *HTTPClient) LeaveLobby(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) error {
	return c.do(ctx, http.MethodPost, lobbyPath(lobbyID, "leave"), userRequest{UserID: peerID}, nil)
}

type userRequest struct {
	UserID domain.PeerID `json:"userId"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func lobbyPath(lobbyID domain.LobbyID, parts ...string) string {
	segments := []string{"/api/lobby", url.PathEscape(string(lobbyID))}
	for _, p := range parts {
		segments = append(segments, url.PathEscape(p))
	}
	return strings.Join(segments, "/")
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	if c.breaker == nil {
		return c.roundTrip(ctx, method, path, body, out)
	}
	return c.breaker.Execute(ctx, func() error {
		return c.roundTrip(ctx, method, path, body, out)
	})
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode}
		var errResp errorResponse
		if json.Unmarshal(payload, &errResp) == nil {
			statusErr.Code = errResp.Error
			statusErr.Message = errResp.Message
		}
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
