package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/services"
	"lobbysignal/internal/infrastructure/middleware"
	"lobbysignal/internal/infrastructure/monitoring"
	"lobbysignal/internal/infrastructure/repositories/memory"
	"lobbysignal/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	router *gin.Engine
	relay  *services.MailboxRelay
	lobby  *services.LobbyService
}

func newTestServer(t *testing.T, issuer *middleware.TokenIssuer) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.Monitoring.PrometheusEnabled = true

	log := zap.NewNop()
	reg := prometheus.NewRegistry()
	collector := monitoring.NewPrometheusCollector(reg)

	repo := memory.NewMemoryLobbyRepository()
	relay := services.NewMailboxRelay(collector)
	lobbyService := services.NewLobbyService(repo, relay, log.Sugar())
	presence := services.NewPresenceNotifier(relay, lobbyService, collector, log.Sugar())

	health := monitoring.NewHealthChecker()
	health.AddRepositoryCheck(repo, time.Second)

	router := NewRouter(RouterDeps{
		Config:        cfg,
		Logger:        log,
		SignalHandler: NewSignalHandler(relay, presence),
		LobbyHandler:  NewLobbyHandler(lobbyService),
		Relay:         relay,
		Health:        health,
		Collector:     collector,
		Issuer:        issuer,
		Gatherer:      reg,
	})
	return &testServer{router: router, relay: relay, lobby: lobbyService}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createLobby(t *testing.T, host domain.PeerID, members ...domain.PeerID) domain.LobbyID {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/lobby", gin.H{"userId": host}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var lobby domain.Lobby
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lobby))
	for _, m := range members {
		w := s.do(t, http.MethodPost, "/api/lobby/"+string(lobby.ID)+"/join", gin.H{"userId": m}, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	return lobby.ID
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestPostAndDrainSignal(t *testing.T) {
	s := newTestServer(t, nil)

	offer := `{"type":"offer","from":"a","to":"b","payload":{"type":"offer","sdp":"v=0"}}`
	w := s.do(t, http.MethodPost, "/api/lobby/l1/signal", offer, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/lobby/l1/signal/b", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var messages []domain.SignalingMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, domain.MessageOffer, messages[0].Type)
	assert.Equal(t, domain.PeerID("a"), messages[0].From)
	assert.Equal(t, "v=0", messages[0].Description.SDP)

	w = s.do(t, http.MethodGet, "/api/lobby/l1/signal/b", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestPostSignal_Invalid(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing to", `{"type":"offer","from":"a","payload":{"type":"offer","sdp":"x"}}`},
		{"unknown type", `{"type":"bogus","from":"a","to":"b"}`},
		{"not json", `{`},
		{"empty", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/lobby/l1/signal", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_MESSAGE", errorCode(t, w))
		})
	}
	assert.Zero(t, s.relay.Stats().QueuedMessages)
}

func TestNotifyJoined(t *testing.T) {
	s := newTestServer(t, nil)
	lobbyID := s.createLobby(t, "a", "b", "c")

	w := s.do(t, http.MethodPost, "/api/lobby/"+string(lobbyID)+"/notify-joined", gin.H{"userId": "c"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	for _, peer := range []string{"a", "b"} {
		w = s.do(t, http.MethodGet, "/api/lobby/"+string(lobbyID)+"/signal/"+peer, nil, "")
		assert.JSONEq(t, `[{"type":"peer-joined","from":"c","to":"`+peer+`"}]`, w.Body.String())
	}
	w = s.do(t, http.MethodGet, "/api/lobby/"+string(lobbyID)+"/signal/c", nil, "")
	assert.JSONEq(t, `[]`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/lobby/"+string(lobbyID)+"/notify-joined", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/lobby/nope/notify-joined", gin.H{"userId": "c"}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "LOBBY_NOT_FOUND", errorCode(t, w))
}

func TestNotifyLeft(t *testing.T) {
	s := newTestServer(t, nil)
	lobbyID := s.createLobby(t, "a", "b")
	path := "/api/lobby/" + string(lobbyID)

	// b has undelivered traffic that must be dropped on leave.
	s.do(t, http.MethodPost, path+"/signal", `{"type":"peer-joined","from":"a","to":"b"}`, "")

	w := s.do(t, http.MethodPost, path+"/notify-left", gin.H{"userId": "b"}, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, path+"/signal/a", nil, "")
	assert.JSONEq(t, `[{"type":"peer-left","from":"b","to":"a"}]`, w.Body.String())
	w = s.do(t, http.MethodGet, path+"/signal/b", nil, "")
	assert.JSONEq(t, `[]`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/lobby/gone/notify-left", gin.H{"userId": "b"}, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, path+"/notify-left", `{"user":"b"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLobbyLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	lobbyID := s.createLobby(t, "host", "guest")
	path := "/api/lobby/" + string(lobbyID)

	w := s.do(t, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var lobby domain.Lobby
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lobby))
	assert.Equal(t, []domain.PeerID{"host", "guest"}, lobby.Members)

	w = s.do(t, http.MethodPost, path+"/leave", gin.H{"userId": "guest"}, "")
	require.Equal(t, http.StatusOK, w.Code)

	s.do(t, http.MethodPost, path+"/signal", `{"type":"peer-joined","from":"x","to":"host"}`, "")
	w = s.do(t, http.MethodDelete, path, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, s.relay.Stats().Lobbies)

	w = s.do(t, http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/lobby/missing/join", gin.H{"userId": "guest"}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthRequiresMatchingPeer(t *testing.T) {
	issuer := middleware.NewTokenIssuer("test-secret", time.Hour)
	s := newTestServer(t, issuer)

	tokenA, err := issuer.Issue("a")
	require.NoError(t, err)
	tokenB, err := issuer.Issue("b")
	require.NoError(t, err)

	offer := `{"type":"offer","from":"a","to":"b","payload":{"type":"offer","sdp":"v=0"}}`

	w := s.do(t, http.MethodPost, "/api/lobby/l1/signal", offer, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/lobby/l1/signal", offer, tokenB)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/lobby/l1/signal", offer, tokenA)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/lobby/l1/signal/b", nil, tokenA)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/api/lobby/l1/signal/b", nil, tokenB)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"offer"`)

	// Health endpoints stay outside the authenticated group.
	w = s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthReadyMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/lobby/l1/signal", `{"type":"peer-joined","from":"a","to":"b"}`, "")

	w := s.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var health struct {
		Status string               `json:"status"`
		Relay  services.RelayStats `json:"relay"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Relay.QueuedMessages)

	w = s.do(t, http.MethodGet, "/ready", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"repository":"healthy"`)

	w = s.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `lobbysignal_signaling_messages_posted_total{type="peer-joined"} 1`)
}
