package module

import (
	"context"

	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/types"
)

// Simple is a Module that serves a Router on every brokered session.
// Start and Stop are optional.
type Simple struct {
	Info   types.Manifest
	Routes *Router
	Start  func(ctx context.Context, mc *Context) error
	Stop   func(ctx context.Context) error
}

func (m *Simple) Manifest() types.Manifest { return m.Info.Clone() }

func (m *Simple) Bootstrap(ctx context.Context, mc *Context) error {
	if m.Start == nil {
		return nil
	}
	return m.Start(ctx, mc)
}

func (m *Simple) Shutdown(ctx context.Context) error {
	if m.Stop == nil {
		return nil
	}
	return m.Stop(ctx)
}

func (m *Simple) BeConnect(ctx context.Context, s *ipc.Session, reason string) error {
	if m.Routes != nil {
		s.Serve(m.Routes)
	}
	return nil
}
