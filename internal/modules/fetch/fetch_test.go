package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dwebshell/core/internal/domain/module"
	"github.com/dwebshell/core/internal/domain/registry"
	"github.com/dwebshell/core/internal/infrastructure/resilience"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testOptions(t *testing.T) ClientOptions {
	opts := DefaultClientOptions()
	opts.RetryMax = 0
	opts.RPS = 0
	opts.Timeout = 5 * time.Second
	opts.Logger = zaptest.NewLogger(t)
	return opts
}

func echoServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Custom", r.Header.Get("X-Custom"))
		w.WriteHeader(http.StatusOK)
		w.Write(append([]byte(r.URL.Path+":"), body...))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientForwardsRequest(t *testing.T) {
	srv := echoServer(t)
	c := NewClient(testOptions(t))

	req := ipc.NewRequest(http.MethodPost, "", []byte("ping"))
	req.ReqID = 7
	req.Header.Set("X-Custom", "yes")
	req.Header.Set("Connection", "close")

	resp, err := c.Do(context.Background(), srv.URL+"/echo", req)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), resp.ReqID)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "/echo:ping", string(resp.Body))
	assert.Equal(t, "POST", resp.Header.Get("X-Method"))
	assert.Equal(t, "yes", resp.Header.Get("X-Custom"))
}

func TestClientRejectsScheme(t *testing.T) {
	c := NewClient(testOptions(t))

	_, err := c.Do(context.Background(), "ftp://example.com/x", ipc.NewRequest("GET", "", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
	assert.Equal(t, http.StatusBadRequest, ipc.StatusFor(err))
}

func TestClientUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	resp, err := NewClient(testOptions(t)).Do(context.Background(), target, ipc.NewRequest("GET", "", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.Status)
}

func TestClientBreakerOpensPerHost(t *testing.T) {
	var hits atomic.Int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	healthy := echoServer(t)

	opts := testOptions(t)
	opts.Breaker = resilience.Settings{
		Timeout: time.Minute,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 2
		},
	}
	c := NewClient(opts)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		resp, err := c.Do(ctx, failing.URL, ipc.NewRequest("GET", "", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.Status)
	}

	resp, err := c.Do(ctx, failing.URL, ipc.NewRequest("GET", "", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, int32(2), hits.Load())

	resp, err = c.Do(ctx, healthy.URL+"/ok", ipc.NewRequest("GET", "", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	u, _ := url.Parse(failing.URL)
	assert.Equal(t, resilience.StateOpen, c.Breakers()[u.Host])
}

func TestClientHonoursContext(t *testing.T) {
	opts := testOptions(t)
	opts.RPS = 0.001
	c := NewClient(opts)
	srv := echoServer(t)

	_, err := c.Do(context.Background(), srv.URL, ipc.NewRequest("GET", "", nil))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Do(ctx, srv.URL, ipc.NewRequest("GET", "", nil))
	assert.Error(t, err)
}

func TestModuleThroughRegistry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := echoServer(t)
	r := registry.New(registry.DefaultOptions(), zaptest.NewLogger(t), nil)
	defer r.Shutdown(context.Background())

	caller := types.Manifest{ID: "caller.dweb"}
	require.NoError(t, r.Install(NewFactory(NewClient(testOptions(t)))))
	require.NoError(t, r.Install(module.NewFactory(caller, func() module.Module { return &module.Simple{Info: caller} })))

	tests := []struct {
		name   string
		url    string
		status int
		body   string
	}{
		{"deep link", srv.URL + "/a", http.StatusOK, "/a:"},
		{"query", "file://fetch.std.dweb/?url=" + url.QueryEscape(srv.URL+"/b"), http.StatusOK, "/b:"},
		{"query without url", "file://fetch.std.dweb/", http.StatusBadRequest, ""},
		{"unknown route", "file://fetch.std.dweb/nope", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := r.Fetch(ctx, "caller.dweb", ipc.NewRequest("GET", tt.url, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.Status)
			if tt.body != "" {
				assert.Equal(t, tt.body, string(resp.Body))
			}
		})
	}

	resp, err := r.Fetch(ctx, "caller.dweb", ipc.NewRequest("GET", "file://fetch.std.dweb/breakers", nil))
	require.NoError(t, err)
	var states map[string]string
	require.NoError(t, resp.DecodeJSON(&states))
	u, _ := url.Parse(srv.URL)
	assert.Equal(t, "closed", states[u.Host])
}

func TestModuleStreamsBodyOnRequest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := echoServer(t)
	r := registry.New(registry.DefaultOptions(), zaptest.NewLogger(t), nil)
	defer r.Shutdown(context.Background())

	caller := types.Manifest{ID: "caller.dweb"}
	require.NoError(t, r.Install(NewFactory(NewClient(testOptions(t)))))
	require.NoError(t, r.Install(module.NewFactory(caller, func() module.Module { return &module.Simple{Info: caller} })))

	s, err := r.Connect(ctx, "caller.dweb", ModuleID, "stream")
	require.NoError(t, err)
	buf := ipc.NewStreamBuffer(s)
	defer buf.Close()

	body := strings.Repeat("x", 3*ipc.DefaultChunkSize)
	req := ipc.NewRequest(http.MethodPost, srv.URL+"/big", []byte(body))
	req.Header.Set(ipc.StreamHeader, "1")

	resp, err := s.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Empty(t, resp.Body)

	streamID := resp.Header.Get(ipc.StreamHeader)
	require.NotEmpty(t, streamID)
	got, err := buf.Wait(ctx, streamID)
	require.NoError(t, err)
	assert.Equal(t, "/big:"+body, string(got))

	// without the header the body is inline
	resp, err = s.Request(ctx, ipc.NewRequest(http.MethodGet, srv.URL+"/small", nil))
	require.NoError(t, err)
	assert.Equal(t, "/small:", string(resp.Body))
	assert.Empty(t, resp.Header.Get(ipc.StreamHeader))
}

func TestStreamHeaderIsNotForwarded(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get(ipc.StreamHeader))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	req := ipc.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set(ipc.StreamHeader, "1")
	_, err := NewClient(testOptions(t)).Do(context.Background(), srv.URL, req)
	require.NoError(t, err)
	assert.Equal(t, "", seen.Load())
}
