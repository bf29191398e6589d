package registry

import (
	"context"
	"net/http"

	"github.com/dwebshell/core/internal/domain/module"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/types"
)

func dnsManifest() types.Manifest {
	return types.Manifest{
		ID:          DNSModuleID,
		Name:        "Module registry",
		Description: "Installs, starts and connects modules",
		Categories:  []types.Category{types.CategorySystem},
		Protocols:   types.Protocols{Binary: true, Structured: true},
	}
}

// dnsModule exposes the registry to other modules over IPC
type dnsModule struct {
	registry *Registry
	routes   *module.Router
}

func (m *dnsModule) Manifest() types.Manifest { return dnsManifest() }

func (m *dnsModule) Bootstrap(ctx context.Context, mc *module.Context) error {
	m.routes = module.NewRouter()
	m.routes.HandleFunc("/open", m.open)
	m.routes.HandleFunc("/close", m.close)
	m.routes.HandleFunc("/query", m.query)
	m.routes.HandleFunc("/search", m.search)
	m.routes.HandleFunc("/running", m.running)
	return nil
}

func (m *dnsModule) Shutdown(ctx context.Context) error { return nil }

func (m *dnsModule) BeConnect(ctx context.Context, s *ipc.Session, reason string) error {
	s.Serve(m.routes)
	return nil
}

func moduleParam(req *ipc.Request) (string, error) {
	moduleID := req.Query("mmid")
	if moduleID == "" {
		return "", ipc.NewStatusError(http.StatusBadRequest, "mmid is required")
	}
	return moduleID, nil
}

func (m *dnsModule) open(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	moduleID, err := moduleParam(req)
	if err != nil {
		return nil, err
	}
	inst, err := m.registry.Open(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	return ipc.JSONResponse(req, http.StatusOK, map[string]any{
		"mmid":     moduleID,
		"instance": inst.ID().String(),
		"manifest": inst.Manifest(),
	})
}

func (m *dnsModule) close(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	moduleID, err := moduleParam(req)
	if err != nil {
		return nil, err
	}
	wasRunning := m.registry.IsRunning(moduleID)
	if err := m.registry.Close(ctx, moduleID); err != nil {
		return nil, ipc.NewStatusError(http.StatusForbidden, "%v", err)
	}
	return ipc.JSONResponse(req, http.StatusOK, map[string]any{
		"mmid":   moduleID,
		"closed": wasRunning,
	})
}

func (m *dnsModule) query(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	moduleID, err := moduleParam(req)
	if err != nil {
		return nil, err
	}
	manifest, ok := m.registry.Manifest(moduleID)
	if !ok {
		return nil, ErrNotInstalled
	}
	return ipc.JSONResponse(req, http.StatusOK, manifest)
}

func (m *dnsModule) search(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	return ipc.JSONResponse(req, http.StatusOK, m.registry.List(types.Category(req.Query("category"))))
}

func (m *dnsModule) running(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	return ipc.JSONResponse(req, http.StatusOK, m.registry.Running())
}
