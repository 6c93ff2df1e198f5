package middleware

import (
	"time"

	"lobbysignal/pkg/logger"
	"lobbysignal/pkg/utils"

	"github.com/gin-gonic/gin"
)

const RequestIDHeader = "X-Request-ID"

// RequestLoggerMiddleware assigns a request id and logs each request once it
// completes.
func RequestLoggerMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := logger.WithRequestID(c.Request.Context(), requestID)
		if lobbyID := c.Param("lobbyId"); lobbyID != "" {
			ctx = logger.WithLobbyID(ctx, lobbyID)
		}
		if peerID := c.Param("peerId"); peerID != "" {
			ctx = logger.WithPeerID(ctx, peerID)
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		cl.LogRequest(ctx, c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
