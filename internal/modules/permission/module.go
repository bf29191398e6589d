package permission

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dwebshell/core/internal/domain/module"
	"github.com/dwebshell/core/internal/infrastructure/config"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/types"
	"go.uber.org/zap"
)

// ModuleID is the default id of the permission module
const ModuleID = "permission.std.dweb"

// PolicyFromConfig maps configuration onto a Policy
func PolicyFromConfig(cfg config.PermissionConfig) Policy {
	return Policy{AutoGrant: cfg.AutoGrant, Deny: cfg.Deny}
}

// Manifest describes the permission module
func Manifest() types.Manifest {
	return types.Manifest{
		ID:          ModuleID,
		Name:        "Permissions",
		Description: "Grants modules access to each other and keeps an audit log",
		Categories:  []types.Category{types.CategorySystem},
		Protocols:   types.Protocols{Binary: true, Structured: true},
	}
}

// NewFactory returns a factory whose instances share store, so grants
// survive a restart of the module
func NewFactory(store *Store) module.Factory {
	return module.NewFactory(Manifest(), func() module.Module {
		return &Module{store: store}
	})
}

// Module serves the permission store
type Module struct {
	store  *Store
	routes *module.Router
	logger *zap.Logger
}

func (m *Module) Manifest() types.Manifest { return Manifest() }

func (m *Module) Bootstrap(ctx context.Context, mc *module.Context) error {
	m.logger = mc.Logger()
	m.routes = module.NewRouter()
	m.routes.HandleFunc("/request", m.request)
	m.routes.HandleFunc("/grant", m.grant)
	m.routes.HandleFunc("/revoke", m.revoke)
	m.routes.HandleFunc("/check", m.check)
	m.routes.HandleFunc("/list", m.list)
	m.routes.HandleFunc("/audit", m.audit)
	return nil
}

func (m *Module) Shutdown(ctx context.Context) error { return nil }

func (m *Module) BeConnect(ctx context.Context, s *ipc.Session, reason string) error {
	s.Serve(m.routes)
	return nil
}

func pairParams(req *ipc.Request) (requester, target string, err error) {
	requester, target = req.Query("requester"), req.Query("target")
	if requester == "" || target == "" {
		return "", "", ipc.NewStatusError(http.StatusBadRequest, "requester and target are required")
	}
	return requester, target, nil
}

func (m *Module) request(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	requester, target, err := pairParams(req)
	if err != nil {
		return nil, err
	}

	allowed, reason := m.store.Request(requester, target, req.Query("url"))
	m.logger.Info("permission requested",
		zap.String("requester", requester),
		zap.String("target", target),
		zap.Bool("allowed", allowed),
		zap.String("reason", reason),
	)

	status := http.StatusOK
	if !allowed {
		status = http.StatusForbidden
	}
	return ipc.JSONResponse(req, status, map[string]any{"granted": allowed, "reason": reason})
}

func (m *Module) grant(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	requester, target, err := pairParams(req)
	if err != nil {
		return nil, err
	}
	return ipc.JSONResponse(req, http.StatusOK, m.store.Grant(requester, target))
}

func (m *Module) revoke(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	requester, target, err := pairParams(req)
	if err != nil {
		return nil, err
	}
	return ipc.JSONResponse(req, http.StatusOK, map[string]bool{"revoked": m.store.Revoke(requester, target)})
}

func (m *Module) check(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	requester, target, err := pairParams(req)
	if err != nil {
		return nil, err
	}
	return ipc.JSONResponse(req, http.StatusOK, map[string]bool{"granted": m.store.Check(requester, target)})
}

func (m *Module) list(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	return ipc.JSONResponse(req, http.StatusOK, m.store.List(req.Query("requester")))
}

func (m *Module) audit(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	limit := 100
	if raw := req.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, ipc.NewStatusError(http.StatusBadRequest, "invalid limit %q", raw)
		}
		limit = n
	}
	return ipc.JSONResponse(req, http.StatusOK, m.store.Audit(req.Query("requester"), limit))
}
