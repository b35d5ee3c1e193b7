package http

import (
	"context"
	"net/http"
	"time"

	"koma/internal/core/domain"
	"koma/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

// HubStatter exposes the live registry view of the hub.
type HubStatter interface {
	Stats(ctx context.Context) (domain.HubStats, error)
}

// SignalHandler serves the websocket endpoint and the operational routes of
// the signaling server.
type SignalHandler struct {
	ws      http.Handler
	hub     HubStatter
	health  *monitoring.HealthChecker
	started time.Time
}

func NewSignalHandler(ws http.Handler, hub HubStatter, health *monitoring.HealthChecker) *SignalHandler {
	return &SignalHandler{
		ws:      ws,
		hub:     hub,
		health:  health,
		started: time.Now(),
	}
}

func (h *SignalHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/ws", gin.WrapH(h.ws))
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/api/v1/stats", h.Stats)
}

func (h *SignalHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    monitoring.StatusHealthy,
		"timestamp": time.Now(),
		"uptime":    time.Since(h.started).String(),
	})
}

func (h *SignalHandler) Ready(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *SignalHandler) Stats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	stats, err := h.hub.Stats(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
