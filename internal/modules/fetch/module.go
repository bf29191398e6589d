package fetch

import (
	"bytes"
	"context"
	"net/http"

	"github.com/dwebshell/core/internal/domain/module"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/types"
	"go.uber.org/zap"
)

// ModuleID is the id of the fetch module
const ModuleID = "fetch.std.dweb"

// Manifest describes the fetch module
func Manifest() types.Manifest {
	return types.Manifest{
		ID:          ModuleID,
		Name:        "Fetch",
		Description: "Outbound http and https requests",
		Categories:  []types.Category{types.CategoryNetwork},
		DeepLinks:   []string{"http:", "https:"},
		Protocols:   types.Protocols{Binary: true, Structured: true},
	}
}

// NewFactory returns a factory whose instances share client
func NewFactory(client *Client) module.Factory {
	return module.NewFactory(Manifest(), func() module.Module {
		return &Module{client: client}
	})
}

// Module forwards deep-linked http(s) requests upstream
type Module struct {
	client *Client
	routes *module.Router
	logger *zap.Logger
}

func (m *Module) Manifest() types.Manifest { return Manifest() }

func (m *Module) Bootstrap(ctx context.Context, mc *module.Context) error {
	m.logger = mc.Logger()
	m.routes = module.NewRouter()
	m.routes.DeepLink(ipc.HandlerFunc(m.deepLink))
	m.routes.HandleFunc("/", m.query)
	m.routes.HandleFunc("/breakers", m.breakers)
	return nil
}

func (m *Module) Shutdown(ctx context.Context) error { return nil }

func (m *Module) BeConnect(ctx context.Context, s *ipc.Session, reason string) error {
	s.Serve(m.routes)
	return nil
}

func (m *Module) deepLink(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	resp, err := m.client.Do(ctx, req.URL, req)
	if err != nil {
		return nil, err
	}
	return m.stream(ctx, s, req, resp)
}

// query serves file://fetch.std.dweb/?url=...
func (m *Module) query(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	target := req.Query("url")
	if target == "" {
		return nil, ipc.NewStatusError(http.StatusBadRequest, "url is required")
	}
	resp, err := m.client.Do(ctx, target, req)
	if err != nil {
		return nil, err
	}
	return m.stream(ctx, s, req, resp)
}

// stream moves the upstream body into Stream messages when the caller
// asked for it. The chunks precede the response on the session, which
// names the stream in its StreamHeader.
func (m *Module) stream(ctx context.Context, s *ipc.Session, req *ipc.Request, resp *ipc.Response) (*ipc.Response, error) {
	if req.Header.Get(ipc.StreamHeader) == "" || len(resp.Body) == 0 {
		return resp, nil
	}
	streamID, err := s.PostStream(ctx, bytes.NewReader(resp.Body), 0)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("streamed upstream body",
		zap.String("stream", streamID),
		zap.Int("size", len(resp.Body)),
	)
	resp.Body = nil
	resp.Header.Set(ipc.StreamHeader, streamID)
	return resp, nil
}

func (m *Module) breakers(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	states := make(map[string]string)
	for host, state := range m.client.Breakers() {
		states[host] = state.String()
	}
	return ipc.JSONResponse(req, http.StatusOK, states)
}
