package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dwebshell/core/internal/domain/registry"
	"github.com/dwebshell/core/internal/infrastructure/monitoring"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeShell struct {
	mu        sync.Mutex
	manifests []types.Manifest
	running   []string
	requests  []*ipc.Request
	fetch     func(req *ipc.Request) (*ipc.Response, error)
}

func (f *fakeShell) List(category types.Category) []types.Manifest {
	var out []types.Manifest
	for _, m := range f.manifests {
		if category == "" || m.HasCategory(category) {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeShell) Running() []string { return f.running }

func (f *fakeShell) Open(ctx context.Context, moduleID string) error {
	for _, m := range f.manifests {
		if m.ID == moduleID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", registry.ErrNotInstalled, moduleID)
}

func (f *fakeShell) Close(ctx context.Context, moduleID string) error {
	if moduleID == registry.DNSModuleID {
		return registry.ErrProtectedModule
	}
	return nil
}

func (f *fakeShell) Fetch(ctx context.Context, req *ipc.Request) (*ipc.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.fetch(req)
}

func newTestRouter(t *testing.T, shell *fakeShell) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandlers(shell, monitoring.NewMetrics(), zaptest.NewLogger(t)).Register(router)
	return router
}

func serve(router http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestModulesRoutes(t *testing.T) {
	shell := &fakeShell{
		manifests: []types.Manifest{
			{ID: "dns.std.dweb", Categories: []types.Category{types.CategorySystem}},
			{ID: "fetch.std.dweb", Categories: []types.Category{types.CategoryNetwork}},
		},
		running: []string{"dns.std.dweb"},
	}
	router := newTestRouter(t, shell)

	w := serve(router, "GET", "/modules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"fetch.std.dweb"`)
	assert.Contains(t, w.Body.String(), `"running":true`)

	w = serve(router, "GET", "/modules?category=network", nil)
	assert.NotContains(t, w.Body.String(), "dns.std.dweb")

	tests := []struct {
		target string
		status int
	}{
		{"/modules/fetch.std.dweb/open", http.StatusOK},
		{"/modules/missing.dweb/open", http.StatusNotFound},
		{"/modules/fetch.std.dweb/close", http.StatusOK},
		{"/modules/dns.std.dweb/close", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.status, serve(router, "POST", tt.target, nil).Code)
		})
	}
}

func TestModuleFetch(t *testing.T) {
	shell := &fakeShell{fetch: func(req *ipc.Request) (*ipc.Response, error) {
		switch req.URL {
		case "file://echo.dweb/say?word=hi":
			resp := ipc.NewResponse(req, http.StatusCreated, append([]byte("echo:"), req.Body...))
			resp.Header.Set("X-Echo", req.Header.Get("X-Custom"))
			return resp, nil
		case "file://echo.dweb/html":
			return ipc.NewResponse(req, http.StatusOK, []byte("<html><body>hi</body></html>")), nil
		case "file://echo.dweb/empty":
			return ipc.NewResponse(req, http.StatusNoContent, nil), nil
		default:
			return nil, fmt.Errorf("%w: %s", ipc.ErrNotFound, req.URL)
		}
	}}
	router := newTestRouter(t, shell)

	req := httptest.NewRequest("POST", "/m/echo.dweb/say?word=hi", bytes.NewReader([]byte("body")))
	req.Header.Set("X-Custom", "yes")
	req.Header.Set("Connection", "keep-alive")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "echo:body", w.Body.String())
	assert.Equal(t, "yes", w.Header().Get("X-Echo"))

	require.Len(t, shell.requests, 1)
	forwarded := shell.requests[0]
	assert.Equal(t, "POST", forwarded.Method)
	assert.Empty(t, forwarded.Header.Get("Connection"))

	w = serve(router, "GET", "/m/echo.dweb/html", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	w = serve(router, "GET", "/m/echo.dweb/empty", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(router, "GET", "/m/echo.dweb/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)
}

func TestLink(t *testing.T) {
	shell := &fakeShell{fetch: func(req *ipc.Request) (*ipc.Response, error) {
		return ipc.JSONResponse(req, http.StatusOK, map[string]string{"url": req.URL})
	}}
	router := newTestRouter(t, shell)

	w := serve(router, "GET", "/link?url=mailto%3Ame%40example.com", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"url":"mailto:me@example.com"}`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = serve(router, "GET", "/link", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBodyLimit(t *testing.T) {
	shell := &fakeShell{fetch: func(req *ipc.Request) (*ipc.Response, error) {
		return ipc.NewResponse(req, http.StatusOK, nil), nil
	}}
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewHandlers(shell, nil, nil)
	h.maxBodySize = 4
	h.Register(router)

	w := serve(router, "POST", "/m/echo.dweb/x", []byte("too large"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, shell.requests)
}

func TestHealthAndMetrics(t *testing.T) {
	router := newTestRouter(t, &fakeShell{running: []string{"dns.std.dweb"}})

	w := serve(router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"modules_running":1`)

	w = serve(router, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	w = serve(router, "GET", "/metrics/json", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"running":["dns.std.dweb"]`)
}

func TestStreamLogs(t *testing.T) {
	router := newTestRouter(t, &fakeShell{})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"module":"notes.app.dweb","entries":[{"level":"warn","message":"low disk","context":{"free":12}}]}`, http.StatusOK},
		{"bad module", `{"module":"nodots","entries":[{"message":"x"}]}`, http.StatusBadRequest},
		{"no entries", `{"module":"notes.app.dweb","entries":[]}`, http.StatusBadRequest},
		{"not json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, serve(router, "POST", "/logs", []byte(tt.body)).Code)
		})
	}
}
