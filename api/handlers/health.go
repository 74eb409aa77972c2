package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gaia-relay/backend/internal/ws"
)

// StatsSource reports the size of the connection registry.
type StatsSource interface {
	Stats() ws.Stats
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	ws.Stats
}

// Health returns a handler for GET /health.
func Health(stats StatsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status: "ok",
			Stats:  stats.Stats(),
		})
	}
}
