package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dwebshell/core/internal/domain/module"
	"github.com/dwebshell/core/internal/domain/registry"
	"github.com/dwebshell/core/internal/infrastructure/monitoring"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/ipc/port"
	"github.com/dwebshell/core/internal/shared/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setup(t *testing.T) (string, *registry.Registry, *monitoring.Metrics) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := monitoring.NewMetrics()
	r := registry.New(registry.DefaultOptions(), logger, metrics)
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })

	echo := types.Manifest{ID: "echo.dweb", Name: "Echo"}
	routes := module.NewRouter()
	routes.HandleFunc("/echo", func(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
		resp := ipc.NewResponse(req, http.StatusOK, req.Body)
		resp.Header.Set("X-Remote", s.Remote().ID)
		return resp, nil
	})
	require.NoError(t, r.Install(module.NewFactory(echo, func() module.Module {
		return &module.Simple{Info: echo, Routes: routes}
	})))

	router := gin.New()
	router.GET("/ipc/:module", NewHandler(r, port.Options{}, metrics, logger).HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), r, metrics
}

func dial(t *testing.T, ctx context.Context, url string, remote string) *ipc.Session {
	t.Helper()
	p, err := port.Dial(ctx, url, nil, port.Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	local := types.Manifest{ID: remote}
	s := ipc.NewSession(ipc.NewEndpoint(p, ipc.EndpointOptions{Logger: zaptest.NewLogger(t)}),
		ipc.SessionOptions{Local: local, Remote: types.Manifest{ID: "echo.dweb"}}, zaptest.NewLogger(t))
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestHandleConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	base, r, metrics := setup(t)

	s := dial(t, ctx, base+"/ipc/echo.dweb?id=tab.page.dweb", "tab.page.dweb")
	resp, err := s.Request(ctx, ipc.NewRequest(http.MethodPost, "file://echo.dweb/echo", []byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "hello", string(resp.Body))
	assert.Equal(t, "tab.page.dweb", resp.Header.Get("X-Remote"))

	assert.True(t, r.IsRunning("echo.dweb"))
	assert.Equal(t, int64(1), metrics.Snapshot().WSConnections)

	require.NoError(t, s.Close(ctx))
	assert.Eventually(t, func() bool {
		return metrics.Snapshot().WSConnections == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleConnectionGeneratesRemoteID(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	base, _, _ := setup(t)

	s := dial(t, ctx, base+"/ipc/echo.dweb", "anonymous.dweb")
	resp, err := s.Request(ctx, ipc.NewRequest(http.MethodGet, "file://echo.dweb/echo", nil))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Header.Get("X-Remote"), "page-"))
	assert.True(t, strings.HasSuffix(resp.Header.Get("X-Remote"), ".port.dweb"))
}

func TestHandleConnectionRejects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	base, _, _ := setup(t)

	tests := []struct {
		name string
		path string
		want string
	}{
		{"unknown module", "/ipc/missing.dweb", "404"},
		{"invalid peer id", "/ipc/echo.dweb?id=Not_Valid", "400"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := port.Dial(ctx, base+tt.path, nil, port.Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRemoteManifest(t *testing.T) {
	m, err := remoteManifest("tab.page.dweb")
	require.NoError(t, err)
	assert.Equal(t, "tab.page.dweb", m.ID)

	a, err := remoteManifest("")
	require.NoError(t, err)
	b, err := remoteManifest("")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	_, err = remoteManifest("bad")
	assert.Error(t, err)
}
