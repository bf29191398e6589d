package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dwebshell/core/internal/domain/module"
	"github.com/dwebshell/core/internal/infrastructure/monitoring"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/id"
	"github.com/dwebshell/core/internal/shared/types"
	"github.com/dwebshell/core/internal/shared/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Registry installs modules, starts them on demand, brokers sessions
// between them and routes addressed requests. It serves itself as the
// module dns.std.dweb.
type Registry struct {
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu        sync.RWMutex
	installed map[string]module.Factory
	order     []string
	closed    bool

	running  *flight[string, *Instance]
	brokered *flight[pairKey, *Pair]

	transportPairs atomic.Int64

	onOpen  ipc.Observers[*Instance]
	onClose ipc.Observers[*Instance]
}

// New creates a registry and starts its own module
func New(opts Options, logger *zap.Logger, metrics *monitoring.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		opts:      opts.withDefaults(),
		logger:    logger.With(zap.String("component", "registry")),
		metrics:   metrics,
		installed: make(map[string]module.Factory),
		running:   newFlight[string, *Instance](),
		brokered:  newFlight[pairKey, *Pair](),
	}

	self := &dnsModule{registry: r}
	if err := r.Install(module.NewFactory(dnsManifest(), func() module.Module { return self })); err != nil {
		panic(err)
	}
	if _, err := r.Open(context.Background(), DNSModuleID); err != nil {
		panic(fmt.Sprintf("registry: start %s: %v", DNSModuleID, err))
	}
	return r
}

// Install registers a module. It is started on first use.
func (r *Registry) Install(f module.Factory) error {
	manifest := f.Manifest()
	if err := utils.ValidateModuleID(manifest.ID); err != nil {
		return err
	}
	for _, link := range manifest.DeepLinks {
		if err := utils.ValidateDeepLink(link); err != nil {
			return fmt.Errorf("module %s: %w", manifest.ID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.installed[manifest.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyInstalled, manifest.ID)
	}
	r.installed[manifest.ID] = f
	r.order = append(r.order, manifest.ID)

	r.logger.Info("module installed",
		zap.String("module", manifest.ID),
		zap.Strings("deep_links", manifest.DeepLinks),
	)
	return nil
}

// Uninstall stops the module if it runs and forgets it
func (r *Registry) Uninstall(ctx context.Context, moduleID string) error {
	if moduleID == DNSModuleID {
		return fmt.Errorf("%w: %s", ErrProtectedModule, moduleID)
	}
	if !r.IsInstalled(moduleID) {
		return fmt.Errorf("%w: %s", ErrNotInstalled, moduleID)
	}
	if err := r.Close(ctx, moduleID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.installed, moduleID)
	r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == moduleID })

	r.logger.Info("module uninstalled", zap.String("module", moduleID))
	return nil
}

// IsInstalled reports whether moduleID is installed
func (r *Registry) IsInstalled(moduleID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.installed[moduleID]
	return ok
}

// Manifest returns the manifest of an installed module
func (r *Registry) Manifest(moduleID string) (types.Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.installed[moduleID]
	if !ok {
		return types.Manifest{}, false
	}
	return f.Manifest(), true
}

// List returns installed manifests in registration order. An empty
// category lists every module.
func (r *Registry) List(category types.Category) []types.Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Manifest, 0, len(r.order))
	for _, moduleID := range r.order {
		m := r.installed[moduleID].Manifest()
		if category == "" || m.HasCategory(category) {
			out = append(out, m)
		}
	}
	return out
}

// IsRunning reports whether moduleID has a ready instance
func (r *Registry) IsRunning(moduleID string) bool {
	_, ok := r.running.Ready(moduleID)
	return ok
}

// Instance returns the ready instance of moduleID
func (r *Registry) Instance(moduleID string) (*Instance, bool) {
	return r.running.Ready(moduleID)
}

// Running returns the ids of running modules in start order
func (r *Registry) Running() []string {
	instances := r.running.Values()
	out := make([]string, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.ModuleID())
	}
	return out
}

// TransportPairs counts the channel pairs created for brokering
func (r *Registry) TransportPairs() int64 {
	return r.transportPairs.Load()
}

// OnModuleOpen registers fn for every instance that finishes bootstrap
func (r *Registry) OnModuleOpen(fn func(*Instance)) (remove func()) {
	return r.onOpen.Add(fn)
}

// OnModuleClose registers fn for every instance that finishes shutdown
func (r *Registry) OnModuleClose(fn func(*Instance)) (remove func()) {
	return r.onClose.Add(fn)
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Registry) factory(moduleID string) (module.Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.installed[moduleID]
	return f, ok
}

// Open returns the running instance of moduleID, bootstrapping it if
// needed. Concurrent callers share one bootstrap.
func (r *Registry) Open(ctx context.Context, moduleID string) (*Instance, error) {
	for {
		if r.isClosed() {
			return nil, ErrRegistryClosed
		}
		inst, err := r.running.GetOrCreate(ctx, moduleID, func(ctx context.Context) (*Instance, error) {
			return r.bootstrap(ctx, moduleID)
		})
		if err != nil {
			return nil, err
		}
		if !inst.IsClosing() {
			return inst, nil
		}

		// a dying instance is replaced once it is gone
		select {
		case <-inst.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Registry) bootstrap(ctx context.Context, moduleID string) (*Instance, error) {
	f, ok := r.factory(moduleID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, moduleID)
	}

	if r.opts.Tracer != nil {
		span, spanCtx := r.opts.Tracer.StartSpan(ctx, "registry.open")
		span.SetTag("module", moduleID)
		ctx = spanCtx
		defer r.opts.Tracer.Submit(span)
	}

	manifest := f.Manifest()
	logger := r.logger.With(zap.String("module", moduleID))
	inst := &Instance{
		id:       id.NewInstanceID(),
		manifest: manifest,
		module:   f.New(),
		pool:     ipc.NewPool(moduleID, logger),
		done:     make(chan struct{}),
	}
	inst.pool.OnSession(func(s *ipc.Session) {
		r.metrics.SessionOpened()
		s.OnClose(r.metrics.SessionClosed)
	})
	inst.mc = module.NewContext(module.ContextOptions{
		Manifest: manifest,
		Pool:     inst.pool,
		Logger:   logger,
		Runtime:  &handle{registry: r, inst: inst},
	})

	start := time.Now()
	if err := inst.module.Bootstrap(ctx, inst.mc); err != nil {
		_ = inst.pool.Destroy(ctx)
		r.metrics.RecordModuleOpen(moduleID, "error")
		logger.Warn("module bootstrap failed", zap.Error(err))
		return nil, fmt.Errorf("bootstrap %s: %w", moduleID, err)
	}
	inst.startedAt = time.Now()

	r.metrics.RecordModuleOpen(moduleID, "ok")
	r.metrics.SetModulesRunning(r.running.Len())
	logger.Info("module started",
		zap.String("instance", inst.id.String()),
		zap.Duration("bootstrap", time.Since(start)),
	)
	r.onOpen.Emit(inst)
	return inst, nil
}

// Close shuts moduleID down: before-shutdown hooks, Module.Shutdown,
// pool destruction, shutdown hooks, then removal. Closing a module that
// is not running does nothing.
func (r *Registry) Close(ctx context.Context, moduleID string) error {
	if moduleID == DNSModuleID {
		return fmt.Errorf("%w: %s", ErrProtectedModule, moduleID)
	}
	inst, ok, err := r.running.Lookup(ctx, moduleID)
	if err != nil {
		// a failed bootstrap leaves nothing to close
		return ctx.Err()
	}
	if !ok {
		return nil
	}
	return r.shutdown(ctx, inst)
}

func (r *Registry) shutdown(ctx context.Context, inst *Instance) error {
	inst.closeOnce.Do(func() {
		inst.closing.Store(true)
		logger := r.logger.With(zap.String("module", inst.ModuleID()))

		inst.mc.BeforeShutdown(ctx)

		var errs []error
		if err := inst.module.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", inst.ModuleID(), err))
		}
		if err := inst.pool.Destroy(ctx); err != nil {
			errs = append(errs, fmt.Errorf("destroy pool of %s: %w", inst.ModuleID(), err))
		}

		inst.mc.AfterShutdown(ctx)
		r.running.CompareAndDelete(inst.ModuleID(), inst)
		r.metrics.SetModulesRunning(r.running.Len())

		inst.closeErr = errors.Join(errs...)
		if inst.closeErr != nil {
			logger.Warn("module stopped with errors", zap.Error(inst.closeErr))
		} else {
			logger.Info("module stopped", zap.String("instance", inst.id.String()))
		}
		close(inst.done)
		r.onClose.Emit(inst)
	})
	return inst.closeErr
}

// Shutdown stops every running module, the registry's own last, and
// refuses further use.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var g errgroup.Group
	for _, inst := range r.running.Values() {
		if inst.ModuleID() == DNSModuleID {
			continue
		}
		g.Go(func() error { return r.shutdown(ctx, inst) })
	}
	err := g.Wait()

	if self, ok := r.running.Ready(DNSModuleID); ok {
		err = errors.Join(err, r.shutdown(ctx, self))
	}
	r.logger.Info("registry shut down", zap.Error(err))
	return err
}
