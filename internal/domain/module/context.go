package module

import (
	"context"

	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/types"
	"go.uber.org/zap"
)

// ConnectEvent is emitted once for every session brokered to a module
type ConnectEvent struct {
	Session *ipc.Session
	Reason  string
}

// Context is what a running module sees of the shell: its identity, its
// session pool and a handle for reaching other modules.
type Context struct {
	manifest types.Manifest
	pool     *ipc.Pool
	logger   *zap.Logger
	runtime  Runtime

	// lifetime ends when the instance shuts down
	lifetime context.Context
	cancel   context.CancelFunc

	onConnect        ipc.Observers[ConnectEvent]
	onBeforeShutdown ipc.Observers[context.Context]
	onShutdown       ipc.Observers[context.Context]
}

// ContextOptions configures NewContext
type ContextOptions struct {
	Manifest types.Manifest
	Pool     *ipc.Pool
	Logger   *zap.Logger
	Runtime  Runtime
}

// NewContext creates the context for one running instance
func NewContext(opts ContextOptions) *Context {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Context{
		manifest: opts.Manifest.Clone(),
		pool:     opts.Pool,
		logger:   logger,
		runtime:  opts.Runtime,
		lifetime: lifetime,
		cancel:   cancel,
	}
}

// ID returns the module id
func (c *Context) ID() string { return c.manifest.ID }

// Manifest returns the module manifest
func (c *Context) Manifest() types.Manifest { return c.manifest.Clone() }

// Pool returns the pool owning the module's sessions
func (c *Context) Pool() *ipc.Pool { return c.pool }

// Logger returns a logger tagged with the module id
func (c *Context) Logger() *zap.Logger { return c.logger }

// Lifetime is cancelled when the module starts shutting down
func (c *Context) Lifetime() context.Context { return c.lifetime }

// Open starts another module
func (c *Context) Open(ctx context.Context, id string) error {
	return c.runtime.Open(ctx, id)
}

// Connect returns the brokered session to module to
func (c *Context) Connect(ctx context.Context, to, reason string) (*ipc.Session, error) {
	return c.runtime.Connect(ctx, to, reason)
}

// Fetch routes req from this module
func (c *Context) Fetch(ctx context.Context, req *ipc.Request) (*ipc.Response, error) {
	return c.runtime.Fetch(ctx, req)
}

// FetchURL is Fetch for a method and url
func (c *Context) FetchURL(ctx context.Context, method, rawURL string, body []byte) (*ipc.Response, error) {
	return c.runtime.Fetch(ctx, ipc.NewRequest(method, rawURL, body))
}

// Attach adopts an externally provided transport as a session into
// this module. remote identifies the peer.
func (c *Context) Attach(ctx context.Context, t ipc.Transport, remote types.Manifest) (*ipc.Session, error) {
	return c.runtime.Attach(ctx, t, remote)
}

// Close shuts this module down. It must not be called from Bootstrap.
func (c *Context) Close(ctx context.Context) error {
	return c.runtime.Close(ctx, c.ID())
}

// OnConnect registers fn for newly brokered sessions
func (c *Context) OnConnect(fn func(ConnectEvent)) (remove func()) {
	return c.onConnect.Add(fn)
}

// OnBeforeShutdown registers fn to run before Module.Shutdown
func (c *Context) OnBeforeShutdown(fn func(context.Context)) (remove func()) {
	return c.onBeforeShutdown.Add(fn)
}

// OnShutdown registers fn to run after the module's pool is destroyed
func (c *Context) OnShutdown(fn func(context.Context)) (remove func()) {
	return c.onShutdown.Add(fn)
}

// Connected fires OnConnect observers. Called by the registry.
func (c *Context) Connected(s *ipc.Session, reason string) {
	c.onConnect.Emit(ConnectEvent{Session: s, Reason: reason})
}

// BeforeShutdown cancels Lifetime and fires OnBeforeShutdown observers.
// Called by the registry.
func (c *Context) BeforeShutdown(ctx context.Context) {
	c.cancel()
	c.onBeforeShutdown.Emit(ctx)
}

// AfterShutdown fires OnShutdown observers. Called by the registry.
func (c *Context) AfterShutdown(ctx context.Context) {
	c.onShutdown.Emit(ctx)
}
