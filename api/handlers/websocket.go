// Package handlers provides the HTTP surface of the relay.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RelayHandler mounts the relay endpoint on a gin router.
type RelayHandler struct {
	supervisor http.Handler
}

// NewRelayHandler creates a new RelayHandler around a session supervisor.
func NewRelayHandler(supervisor http.Handler) *RelayHandler {
	return &RelayHandler{supervisor: supervisor}
}

// Connect handles GET {relay path}. The supervisor owns the response from
// here on, including the plain-text rejection of requests without a token.
func (h *RelayHandler) Connect(c *gin.Context) {
	h.supervisor.ServeHTTP(c.Writer, c.Request)
}

// RegisterRoutes registers the relay endpoint at path.
func (h *RelayHandler) RegisterRoutes(r gin.IRoutes, path string) {
	r.GET(path, h.Connect)
}
