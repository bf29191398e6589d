package registry

import (
	"context"

	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/types"
)

// handle is the module.Runtime given to one instance. It works from the
// instance itself, so a module can connect or fetch during Bootstrap.
type handle struct {
	registry *Registry
	inst     *Instance
}

func (h *handle) Open(ctx context.Context, moduleID string) error {
	_, err := h.registry.Open(ctx, moduleID)
	return err
}

func (h *handle) Close(ctx context.Context, moduleID string) error {
	return h.registry.Close(ctx, moduleID)
}

func (h *handle) Connect(ctx context.Context, to, reason string) (*ipc.Session, error) {
	pair, err := h.registry.connect(ctx, h.inst, to, reason)
	if err != nil {
		return nil, err
	}
	return pair.Local, nil
}

func (h *handle) Fetch(ctx context.Context, req *ipc.Request) (*ipc.Response, error) {
	return h.registry.fetch(ctx, h.inst, req)
}

func (h *handle) Attach(ctx context.Context, t ipc.Transport, remote types.Manifest) (*ipc.Session, error) {
	return h.registry.attach(ctx, h.inst, t, remote)
}
