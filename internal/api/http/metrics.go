package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Metrics serves the Prometheus exposition
func (h *Handlers) Metrics(c *gin.Context) {
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// MetricsJSON serves a summary for dashboards
func (h *Handlers) MetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics": h.metrics.Snapshot(),
		"running": h.shell.Running(),
	})
}
