package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cozmo/vocal-input/internal/observability"
)

// RouterConfig selects the HTTP surface
type RouterConfig struct {
	AudioPath      string
	MetricsEnabled bool
	Checks         *observability.Checks
	Logger         zerolog.Logger
}

// NewRouter builds the gin engine: the audio WebSocket endpoint plus
// health, readiness, metrics and connection listing.
func NewRouter(h *ConnectionHandler, cfg RouterConfig) *gin.Engine {
	if cfg.AudioPath == "" {
		cfg.AudioPath = "/audio"
	}
	if cfg.Checks == nil {
		cfg.Checks = observability.NewChecks()
	}

	r := gin.New()
	r.Use(RequestLogger(cfg.Logger))
	r.Use(gin.Recovery())

	r.GET(cfg.AudioPath, h.ServeWS)
	r.GET("/health", observability.HealthCheckHandler())
	r.GET("/ready", observability.ReadinessHandler(cfg.Checks))
	r.GET("/connections", func(c *gin.Context) {
		conns := h.Registry().List()
		c.JSON(http.StatusOK, gin.H{
			"count":       len(conns),
			"connections": conns,
		})
	})

	if cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	return r
}

// RequestLogger logs each request through zerolog. WebSocket sessions are
// logged when they end.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	logger = logger.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Debug()
		if status >= http.StatusInternalServerError {
			event = logger.Error()
		} else if status >= http.StatusBadRequest {
			event = logger.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}
