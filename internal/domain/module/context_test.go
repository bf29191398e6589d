package module

import (
	"context"
	"testing"

	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingRuntime struct {
	opened    []string
	closed    []string
	connected []string
	fetched   []string
}

func (r *recordingRuntime) Open(ctx context.Context, id string) error {
	r.opened = append(r.opened, id)
	return nil
}

func (r *recordingRuntime) Close(ctx context.Context, id string) error {
	r.closed = append(r.closed, id)
	return nil
}

func (r *recordingRuntime) Connect(ctx context.Context, to, reason string) (*ipc.Session, error) {
	r.connected = append(r.connected, to+":"+reason)
	return nil, nil
}

func (r *recordingRuntime) Fetch(ctx context.Context, req *ipc.Request) (*ipc.Response, error) {
	r.fetched = append(r.fetched, req.Method+" "+req.URL)
	return ipc.NewResponse(req, 200, nil), nil
}

func (r *recordingRuntime) Attach(ctx context.Context, t ipc.Transport, remote types.Manifest) (*ipc.Session, error) {
	return nil, nil
}

func newTestContext(t *testing.T, rt Runtime) *Context {
	return NewContext(ContextOptions{
		Manifest: types.Manifest{ID: "a.dweb", Name: "A"},
		Pool:     ipc.NewPool("a.dweb", zaptest.NewLogger(t)),
		Logger:   zaptest.NewLogger(t),
		Runtime:  rt,
	})
}

func TestContextDelegatesToRuntime(t *testing.T) {
	rt := &recordingRuntime{}
	mc := newTestContext(t, rt)
	ctx := context.Background()

	require.NoError(t, mc.Open(ctx, "b.dweb"))
	_, err := mc.Connect(ctx, "b.dweb", "test")
	require.NoError(t, err)
	resp, err := mc.FetchURL(ctx, "post", "file://b.dweb/x", nil)
	require.NoError(t, err)
	require.NoError(t, mc.Close(ctx))

	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, []string{"b.dweb"}, rt.opened)
	assert.Equal(t, []string{"b.dweb:test"}, rt.connected)
	assert.Equal(t, []string{"POST file://b.dweb/x"}, rt.fetched)
	assert.Equal(t, []string{"a.dweb"}, rt.closed, "Close targets the module itself")
}

func TestContextHooks(t *testing.T) {
	mc := newTestContext(t, &recordingRuntime{})
	var order []string

	mc.OnConnect(func(ev ConnectEvent) { order = append(order, "connect:"+ev.Reason) })
	mc.OnBeforeShutdown(func(context.Context) { order = append(order, "before") })
	remove := mc.OnShutdown(func(context.Context) { order = append(order, "removed") })
	mc.OnShutdown(func(context.Context) { order = append(order, "after") })
	remove()

	mc.Connected(nil, "fetch")
	assert.NoError(t, mc.Lifetime().Err())

	mc.BeforeShutdown(context.Background())
	assert.ErrorIs(t, mc.Lifetime().Err(), context.Canceled)

	mc.AfterShutdown(context.Background())
	assert.Equal(t, []string{"connect:fetch", "before", "after"}, order)
}

func TestFactoryBuildsFreshInstances(t *testing.T) {
	manifest := types.Manifest{ID: "a.dweb", Categories: []types.Category{types.CategoryService}}
	f := NewFactory(manifest, func() Module { return &Simple{Info: manifest} })

	assert.NotSame(t, f.New(), f.New())

	got := f.Manifest()
	got.Categories[0] = types.CategoryApplication
	assert.Equal(t, types.CategoryService, f.Manifest().Categories[0], "manifest is immutable once built")
}
