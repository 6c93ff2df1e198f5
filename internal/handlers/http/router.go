package http

import (
	"context"
	"net/http"
	"time"

	"lobbysignal/internal/core/services"
	"lobbysignal/internal/infrastructure/middleware"
	"lobbysignal/internal/infrastructure/monitoring"
	"lobbysignal/pkg/config"
	"lobbysignal/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterDeps carries everything the HTTP surface is built from.
type RouterDeps struct {
	Config        *config.Config
	Logger        *zap.Logger
	SignalHandler *SignalHandler
	LobbyHandler  *LobbyHandler
	Relay         *services.MailboxRelay
	Health        *monitoring.HealthChecker
	Collector     *monitoring.PrometheusCollector
	// Issuer enables bearer-token auth on /api when set.
	Issuer *middleware.TokenIssuer
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter builds the relay's gin engine: middleware, /api routes, health
// and metrics.
func NewRouter(deps RouterDeps) *gin.Engine {
	startTime := time.Now()
	log := deps.Logger.Sugar()

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	// The request logger wraps the error handler so it sees the final status.
	router.Use(middleware.RequestLoggerMiddleware(logger.NewContextLogger(deps.Logger)))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	if deps.Config.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	var recorder middleware.RejectionRecorder
	if deps.Collector != nil {
		recorder = deps.Collector
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(deps.Config, recorder))

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(deps.Issuer))
	deps.LobbyHandler.RegisterRoutes(api)
	deps.SignalHandler.RegisterRoutes(api)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"relay":     deps.Relay.Stats(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := deps.Health.CheckAll(ctx)
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if deps.Config.Monitoring.PrometheusEnabled {
		gatherer := deps.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return router
}
