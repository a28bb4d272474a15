package handler

import (
	"net/http"
	"strings"

	"tracking-guardian/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// OpsHandler exposes the internal operations surface: a manual worker
// drain trigger (for the external scheduler) and queue statistics.
type OpsHandler struct {
	worker ports.Worker
	queue  ports.QueueStore
	log    zerolog.Logger
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(worker ports.Worker, queue ports.QueueStore, log zerolog.Logger) *OpsHandler {
	return &OpsHandler{worker: worker, queue: queue, log: log}
}

// RunWorker handles POST /internal/worker/run.
func (h *OpsHandler) RunWorker(c *gin.Context) {
	stats, err := h.worker.Run(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("worker run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "worker run failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"processed": stats.Processed,
		"errors":    stats.Errors,
		"acked":     stats.Acked,
	})
}

// QueueStats handles GET /internal/queue/stats.
func (h *OpsHandler) QueueStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pending":   stats.Pending,
		"in_flight": stats.InFlight,
	})
}

// OpsAuth validates the bearer token on the internal ops routes.
func OpsAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := tokenSvc.Validate(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			log.Warn().Err(err).Msg("invalid ops token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("ops_subject", claims.Subject)
		c.Next()
	}
}
