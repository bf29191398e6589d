package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		c.Next()

		// Route template keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		metrics.RecordHTTPRequest(method, path, strconv.Itoa(c.Writer.Status()), time.Since(start), int64(c.Writer.Size()))
	}
}

// Timer measures operation duration
type Timer struct {
	start   time.Time
	metrics *Metrics
	module  string
}

// NewTimer creates a new timer for a routed request to module
func NewTimer(metrics *Metrics, module string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		module:  module,
	}
}

// Stop stops the timer and records the duration with the response status
func (t *Timer) Stop(status int) {
	t.metrics.RecordIPCRequest(t.module, strconv.Itoa(status), time.Since(t.start))
}
