package http

import (
	"net/http"

	"lobbysignal/internal/core/ports"
	"lobbysignal/pkg/tracing"

	"github.com/gin-gonic/gin"
)

// LobbyHandler exposes lobby membership. Joining and leaving here only
// changes membership; clients announce themselves through notify-joined and
// notify-left.
type LobbyHandler struct {
	lobbyService ports.LobbyService
}

// NewLobbyHandler serves lobby endpoints backed by lobbyService.
func NewLobbyHandler(lobbyService ports.LobbyService) *LobbyHandler {
	return &LobbyHandler{lobbyService: lobbyService}
}

var _ ports.LobbyHTTPHandler = (*LobbyHandler)(nil)

func (h *LobbyHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/lobby", h.CreateLobby)
	api.GET("/lobby/:lobbyId", h.GetLobby)
	api.POST("/lobby/:lobbyId/join", h.JoinLobby)
	api.POST("/lobby/:lobbyId/leave", h.LeaveLobby)
	api.DELETE("/lobby/:lobbyId", h.DeleteLobby)
}

func (h *LobbyHandler) CreateLobby(c *gin.Context) {
	host, ok := bindUser(c)
	if !ok {
		return
	}

	ctx, span := tracing.StartSpan(c.Request.Context(), "lobby.create")
	defer span.End()

	lobby, err := h.lobbyService.CreateLobby(ctx, host)
	if err != nil {
		tracing.RecordError(ctx, err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, lobby)
}

func (h *LobbyHandler) GetLobby(c *gin.Context) {
	lobbyID, ok := lobbyParam(c)
	if !ok {
		return
	}

	lobby, err := h.lobbyService.GetLobby(c.Request.Context(), lobbyID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, lobby)
}

func (h *LobbyHandler) JoinLobby(c *gin.Context) {
	lobbyID, ok := lobbyParam(c)
	if !ok {
		return
	}
	peerID, ok := bindUser(c)
	if !ok {
		return
	}

	lobby, err := h.lobbyService.JoinLobby(c.Request.Context(), lobbyID, peerID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, lobby)
}

func (h *LobbyHandler) LeaveLobby(c *gin.Context) {
	lobbyID, ok := lobbyParam(c)
	if !ok {
		return
	}
	peerID, ok := bindUser(c)
	if !ok {
		return
	}

	if _, err := h.lobbyService.LeaveLobby(c.Request.Context(), lobbyID, peerID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *LobbyHandler) DeleteLobby(c *gin.Context) {
	lobbyID, ok := lobbyParam(c)
	if !ok {
		return
	}

	if err := h.lobbyService.DeleteLobby(c.Request.Context(), lobbyID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
