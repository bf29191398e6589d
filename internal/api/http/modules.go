package http

import (
	"net/http"
	"slices"

	"github.com/dwebshell/core/internal/shared/types"
	"github.com/gin-gonic/gin"
)

// ModuleView is an installed module as listed by the gateway
type ModuleView struct {
	types.Manifest
	Running bool `json:"running"`
}

// ListModules lists installed modules, optionally filtered by ?category=
func (h *Handlers) ListModules(c *gin.Context) {
	running := h.shell.Running()
	manifests := h.shell.List(types.Category(c.Query("category")))

	views := make([]ModuleView, 0, len(manifests))
	for _, m := range manifests {
		views = append(views, ModuleView{Manifest: m, Running: slices.Contains(running, m.ID)})
	}
	c.JSON(http.StatusOK, gin.H{"modules": views})
}

// OpenModule starts a module, or returns the running instance
func (h *Handlers) OpenModule(c *gin.Context) {
	moduleID := c.Param("id")
	if err := h.shell.Open(c.Request.Context(), moduleID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": moduleID, "running": true})
}

// CloseModule stops a running module
func (h *Handlers) CloseModule(c *gin.Context) {
	moduleID := c.Param("id")
	if err := h.shell.Close(c.Request.Context(), moduleID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": moduleID, "running": false})
}
