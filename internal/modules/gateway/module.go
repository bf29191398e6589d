package gateway

import (
	"context"
	"net/http"
	"sync"

	apihttp "github.com/dwebshell/core/internal/api/http"
	"github.com/dwebshell/core/internal/api/ws"
	"github.com/dwebshell/core/internal/domain/module"
	"github.com/dwebshell/core/internal/domain/registry"
	"github.com/dwebshell/core/internal/infrastructure/monitoring"
	"github.com/dwebshell/core/internal/infrastructure/server"
	"github.com/dwebshell/core/internal/infrastructure/tracing"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/ipc/port"
	"github.com/dwebshell/core/internal/shared/types"
	"go.uber.org/zap"
)

// ModuleID is the id of the gateway module
const ModuleID = "gateway.sys.dweb"

// Manifest describes the gateway module
func Manifest() types.Manifest {
	return types.Manifest{
		ID:          ModuleID,
		Name:        "Gateway",
		Description: "Exposes the registry over HTTP and WebSocket",
		Categories:  []types.Category{types.CategorySystem, types.CategoryNetwork},
		Protocols:   types.Protocols{Binary: true, Structured: true},
	}
}

// Options configures the gateway
type Options struct {
	Server  server.Config
	Port    port.Options
	Metrics *monitoring.Metrics
	Tracer  *tracing.Tracer
}

// NewFactory returns a factory for gateways serving reg
func NewFactory(reg *registry.Registry, opts Options) module.Factory {
	return module.NewFactory(Manifest(), func() module.Module {
		return &Module{registry: reg, opts: opts}
	})
}

// Module runs the HTTP listener for as long as it is open
type Module struct {
	registry *registry.Registry
	opts     Options

	mu     sync.Mutex
	srv    *server.Server
	routes *module.Router
	logger *zap.Logger
}

func (m *Module) Manifest() types.Manifest { return Manifest() }

func (m *Module) Bootstrap(ctx context.Context, mc *module.Context) error {
	m.logger = mc.Logger()
	m.routes = module.NewRouter()
	m.routes.HandleFunc("/address", m.address)

	srv := server.New(m.opts.Server, m.opts.Metrics, m.opts.Tracer, m.logger.Named("http"))
	handlers := apihttp.NewHandlers(&shell{registry: m.registry, mc: mc}, m.opts.Metrics, m.logger)
	handlers.Register(srv.Router())
	wsHandler := ws.NewHandler(m.registry, m.opts.Port, m.opts.Metrics, m.logger.Named("ws"))
	srv.Router().GET("/ipc/:module", wsHandler.HandleConnection)

	if err := srv.Start(); err != nil {
		_ = srv.Shutdown(ctx)
		return err
	}

	m.mu.Lock()
	m.srv = srv
	m.mu.Unlock()

	go func() {
		<-srv.Done()
		if srv.Err() != nil {
			_ = mc.Close(context.WithoutCancel(mc.Lifetime()))
		}
	}()
	return nil
}

func (m *Module) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	srv := m.srv
	m.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (m *Module) BeConnect(ctx context.Context, s *ipc.Session, reason string) error {
	s.Serve(m.routes)
	return nil
}

// Addr returns the address the listener is bound to
func (m *Module) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.srv == nil {
		return ""
	}
	return m.srv.Addr()
}

func (m *Module) address(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	return ipc.JSONResponse(req, http.StatusOK, map[string]string{"addr": m.Addr()})
}

// shell adapts the registry to the HTTP handlers. Module requests
// originate from the gateway, so the usual permission checks apply.
type shell struct {
	registry *registry.Registry
	mc       *module.Context
}

func (s *shell) List(category types.Category) []types.Manifest { return s.registry.List(category) }
func (s *shell) Running() []string                             { return s.registry.Running() }

func (s *shell) Open(ctx context.Context, moduleID string) error {
	_, err := s.registry.Open(ctx, moduleID)
	return err
}

func (s *shell) Close(ctx context.Context, moduleID string) error {
	if moduleID == ModuleID {
		// shutting the server down from inside one of its requests would
		// wait on itself
		return ipc.NewStatusError(http.StatusConflict, "%s cannot be closed over HTTP", ModuleID)
	}
	return s.registry.Close(ctx, moduleID)
}

func (s *shell) Fetch(ctx context.Context, req *ipc.Request) (*ipc.Response, error) {
	return s.mc.Fetch(ctx, req)
}
