package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dwebshell/core/internal/infrastructure/monitoring"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/ipc/port"
	"github.com/dwebshell/core/internal/shared/id"
	"github.com/dwebshell/core/internal/shared/types"
	"github.com/dwebshell/core/internal/shared/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const closeTimeout = 2 * time.Second

// Attacher adopts external transports as sessions into modules
type Attacher interface {
	IsInstalled(moduleID string) bool
	Attach(ctx context.Context, to string, t ipc.Transport, remote types.Manifest) (*ipc.Session, error)
}

// Handler turns WebSocket connections into IPC sessions
type Handler struct {
	attacher Attacher
	opts     port.Options
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(attacher Attacher, opts port.Options, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return &Handler{
		attacher: attacher,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
	}
}

// HandleConnection serves GET /ipc/:module. The peer names itself with
// ?id=; without one it gets a generated page id. The connection lives
// as long as the session.
func (h *Handler) HandleConnection(c *gin.Context) {
	moduleID := c.Param("module")
	if !h.attacher.IsInstalled(moduleID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such module: " + moduleID})
		return
	}
	remote, err := remoteManifest(c.Query("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := port.Upgrade(c.Writer, c.Request, h.opts)
	if err != nil {
		// the upgrader has already answered
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	ctx := c.Request.Context()
	s, err := h.attacher.Attach(ctx, moduleID, p, remote)
	if err != nil {
		h.logger.Warn("attach failed",
			zap.String("module", moduleID),
			zap.String("remote", remote.ID),
			zap.Error(err),
		)
		return
	}

	h.logger.Info("port attached",
		zap.String("module", moduleID),
		zap.String("remote", remote.ID),
		zap.String("session", s.ID().String()),
	)

	select {
	case <-s.Done():
	case <-p.Done():
	case <-ctx.Done():
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	_ = s.Close(closeCtx)
	h.logger.Info("port detached", zap.String("module", moduleID), zap.String("remote", remote.ID))
}

func remoteManifest(remoteID string) (types.Manifest, error) {
	if remoteID == "" {
		remoteID = "page-" + strings.ToLower(id.NewEndpointID().String()[len(id.EndpointPrefix)+1:]) + ".port.dweb"
	}
	if err := utils.ValidateModuleID(remoteID); err != nil {
		return types.Manifest{}, err
	}
	return types.Manifest{ID: remoteID, Name: "port"}, nil
}
