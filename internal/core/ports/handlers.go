package ports

import "github.com/gin-gonic/gin"

// SignalHTTPHandler serves the mailbox and presence endpoints.
type SignalHTTPHandler interface {
	PostSignal(c *gin.Context)
	DrainSignals(c *gin.Context)
	NotifyJoined(c *gin.Context)
	NotifyLeft(c *gin.Context)
}

// LobbyHTTPHandler serves lobby lifecycle endpoints.
type LobbyHTTPHandler interface {
	CreateLobby(c *gin.Context)
	GetLobby(c *gin.Context)
	JoinLobby(c *gin.Context)
	LeaveLobby(c *gin.Context)
	DeleteLobby(c *gin.Context)
}
