package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dwebshell/core/internal/domain/module"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/id"
	"github.com/dwebshell/core/internal/shared/types"
)

// Instance is one running start of a module. Once closed it is
// discarded; opening the module again builds a new Instance.
type Instance struct {
	id        id.InstanceID
	manifest  types.Manifest
	module    module.Module
	mc        *module.Context
	pool      *ipc.Pool
	startedAt time.Time

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// ID returns the instance id
func (i *Instance) ID() id.InstanceID { return i.id }

// ModuleID returns the id of the module this instance runs
func (i *Instance) ModuleID() string { return i.manifest.ID }

// Manifest returns the module manifest
func (i *Instance) Manifest() types.Manifest { return i.manifest.Clone() }

// Module returns the module value
func (i *Instance) Module() module.Module { return i.module }

// Context returns the module context
func (i *Instance) Context() *module.Context { return i.mc }

// Pool returns the instance's session pool
func (i *Instance) Pool() *ipc.Pool { return i.pool }

// StartedAt returns when bootstrap completed
func (i *Instance) StartedAt() time.Time { return i.startedAt }

// Done is closed once the instance has fully shut down
func (i *Instance) Done() <-chan struct{} { return i.done }

// IsClosing reports whether shutdown has begun
func (i *Instance) IsClosing() bool { return i.closing.Load() }
