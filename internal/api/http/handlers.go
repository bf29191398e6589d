package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dwebshell/core/internal/domain/registry"
	"github.com/dwebshell/core/internal/infrastructure/monitoring"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DefaultMaxBodySize bounds request bodies forwarded to modules
const DefaultMaxBodySize = 8 << 20

// Shell is the part of the registry exposed over HTTP. Fetches run on
// behalf of the gateway module.
type Shell interface {
	List(category types.Category) []types.Manifest
	Running() []string
	Open(ctx context.Context, moduleID string) error
	Close(ctx context.Context, moduleID string) error
	Fetch(ctx context.Context, req *ipc.Request) (*ipc.Response, error)
}

// Handlers serves the gateway's HTTP routes
type Handlers struct {
	shell       Shell
	metrics     *monitoring.Metrics
	logger      *zap.Logger
	maxBodySize int64
	startedAt   time.Time
}

// NewHandlers creates handlers over shell
func NewHandlers(shell Shell, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		shell:       shell,
		metrics:     metrics,
		logger:      logger,
		maxBodySize: DefaultMaxBodySize,
		startedAt:   time.Now(),
	}
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	r.GET("/metrics", h.Metrics)
	r.GET("/metrics/json", h.MetricsJSON)

	r.GET("/modules", h.ListModules)
	r.POST("/modules/:id/open", h.OpenModule)
	r.POST("/modules/:id/close", h.CloseModule)

	r.Any("/m/:module/*path", h.ModuleFetch)
	r.Any("/link", h.Link)

	r.POST("/logs", h.StreamLogs)
}

// Health reports liveness
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"modules_running": len(h.shell.Running()),
		"uptime_seconds":  time.Since(h.startedAt).Seconds(),
	})
}

// statusFor maps shell errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrProtectedModule):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrRegistryClosed), errors.Is(err, ipc.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return ipc.StatusFor(err)
	}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("gateway request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
