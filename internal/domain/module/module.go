package module

import (
	"context"

	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/types"
)

// Module is one independently bootstrapped unit of functionality.
// A fresh value is created for every start; Bootstrap and Shutdown are
// each called at most once on it.
type Module interface {
	Manifest() types.Manifest
	Bootstrap(ctx context.Context, mc *Context) error
	Shutdown(ctx context.Context) error
}

// Connector is implemented by modules that accept brokered sessions.
// BeConnect runs before the session starts, so handlers installed here
// see the first request.
type Connector interface {
	BeConnect(ctx context.Context, s *ipc.Session, reason string) error
}

// Factory describes an installable module and builds fresh instances
type Factory interface {
	Manifest() types.Manifest
	New() Module
}

type factory struct {
	manifest types.Manifest
	build    func() Module
}

// NewFactory pairs a manifest with a constructor
func NewFactory(manifest types.Manifest, build func() Module) Factory {
	return &factory{manifest: manifest.Clone(), build: build}
}

func (f *factory) Manifest() types.Manifest { return f.manifest.Clone() }
func (f *factory) New() Module              { return f.build() }

// Runtime is the slice of the registry a running module may use. It is
// bound to one instance, so Connect and Fetch originate from that module.
type Runtime interface {
	Open(ctx context.Context, id string) error
	Close(ctx context.Context, id string) error
	Connect(ctx context.Context, to, reason string) (*ipc.Session, error)
	Fetch(ctx context.Context, req *ipc.Request) (*ipc.Response, error)
	Attach(ctx context.Context, t ipc.Transport, remote types.Manifest) (*ipc.Session, error)
}
