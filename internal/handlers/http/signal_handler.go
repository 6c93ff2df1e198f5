package http

import (
	"net/http"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/ports"
	"lobbysignal/internal/infrastructure/middleware"
	apperrors "lobbysignal/pkg/errors"
	"lobbysignal/pkg/tracing"
	"lobbysignal/pkg/validation"

	"github.com/gin-gonic/gin"
)

// SignalHandler exposes the mailbox relay and presence notifications over
// HTTP.
type SignalHandler struct {
	mailbox  ports.Mailbox
	presence ports.PresenceNotifier
}

func NewSignalHandler(mailbox ports.Mailbox, presence ports.PresenceNotifier) *SignalHandler {
	return &SignalHandler{
		mailbox:  mailbox,
		presence: presence,
	}
}

var _ ports.SignalHTTPHandler = (*SignalHandler)(nil)

// RegisterRoutes mounts the signaling endpoints under /lobby/:lobbyId.
func (h *SignalHandler) RegisterRoutes(api *gin.RouterGroup) {
	lobby := api.Group("/lobby/:lobbyId")
	{
		lobby.POST("/signal", h.PostSignal)
		lobby.GET("/signal/:peerId", h.DrainSignals)
		lobby.POST("/notify-joined", h.NotifyJoined)
		lobby.POST("/notify-left", h.NotifyLeft)
	}
}

type userRequest struct {
	UserID domain.PeerID `json:"userId" binding:"required"`
}

func lobbyParam(c *gin.Context) (domain.LobbyID, bool) {
	lobbyID := c.Param("lobbyId")
	if err := validation.ValidateLobbyID(lobbyID); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.LobbyID(lobbyID), true
}

// bindUser decodes {userId} and checks it against the authenticated peer.
func bindUser(c *gin.Context) (domain.PeerID, bool) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("userId is required"))
		return "", false
	}
	if err := validation.ValidatePeerID(string(req.UserID)); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return "", false
	}
	if err := middleware.RequirePeer(c, req.UserID); err != nil {
		c.Error(err)
		return "", false
	}
	return req.UserID, true
}

// PostSignal queues one signaling message for its recipient.
func (h *SignalHandler) PostSignal(c *gin.Context) {
	lobbyID, ok := lobbyParam(c)
	if !ok {
		return
	}

	var msg domain.SignalingMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.Error(apperrors.NewInvalidMessageError(err))
		return
	}
	if err := middleware.RequirePeer(c, msg.From); err != nil {
		c.Error(err)
		return
	}

	ctx, span := tracing.TraceRelay(c.Request.Context(), "post", string(lobbyID), string(msg.To))
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.MessageTypeKey.String(string(msg.Type)))

	if err := h.mailbox.Post(ctx, lobbyID, msg); err != nil {
		tracing.RecordError(ctx, err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DrainSignals returns and clears the caller's queue. An empty queue is [].
func (h *SignalHandler) DrainSignals(c *gin.Context) {
	lobbyID, ok := lobbyParam(c)
	if !ok {
		return
	}
	peerID := c.Param("peerId")
	if err := validation.ValidatePeerID(peerID); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if err := middleware.RequirePeer(c, domain.PeerID(peerID)); err != nil {
		c.Error(err)
		return
	}

	ctx, span := tracing.TraceRelay(c.Request.Context(), "drain", string(lobbyID), peerID)
	defer span.End()

	messages, err := h.mailbox.Drain(ctx, lobbyID, domain.PeerID(peerID))
	if err != nil {
		tracing.RecordError(ctx, err)
		c.Error(err)
		return
	}
	if messages == nil {
		messages = []domain.SignalingMessage{}
	}
	tracing.AddSpanAttributes(ctx, tracing.MessagesKey.Int(len(messages)))

	c.JSON(http.StatusOK, messages)
}

func (h *SignalHandler) NotifyJoined(c *gin.Context) {
	lobbyID, ok := lobbyParam(c)
	if !ok {
		return
	}
	peerID, ok := bindUser(c)
	if !ok {
		return
	}

	if err := h.presence.NotifyJoined(c.Request.Context(), lobbyID, peerID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *SignalHandler) NotifyLeft(c *gin.Context) {
	lobbyID, ok := lobbyParam(c)
	if !ok {
		return
	}
	peerID, ok := bindUser(c)
	if !ok {
		return
	}

	if err := h.presence.NotifyLeft(c.Request.Context(), lobbyID, peerID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
