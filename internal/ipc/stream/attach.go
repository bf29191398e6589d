package stream

import (
	"context"
	"strconv"

	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/types"
	"go.uber.org/zap"
)

// AttachOptions configures Attach
type AttachOptions struct {
	Local    types.Manifest
	Remote   types.Manifest
	Endpoint ipc.EndpointOptions
	// OnSession runs before the session starts, so handlers can be installed
	OnSession func(*ipc.Session)
}

// Purpose returns the pool purpose used for a channel
func Purpose(pid uint32) string {
	return "pid:" + strconv.FormatUint(uint64(pid), 10)
}

// Attach turns every channel the peer opens on d into a started session
// in pool. OnSession runs on the duplex read loop and must not block.
// The returned function stops accepting new channels.
func Attach(ctx context.Context, pool *ipc.Pool, d *Duplex, opts AttachOptions) (remove func()) {
	logger := opts.Endpoint.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return d.OnChannel(func(ch *Channel) {
		s, err := NewSession(ctx, pool, ch, opts)
		if err != nil {
			logger.Warn("rejecting stream channel",
				zap.Uint32("pid", ch.PID()),
				zap.Error(err),
			)
			_ = ch.Close()
			return
		}
		if opts.OnSession != nil {
			opts.OnSession(s)
		}
		// Start writes to the pipe; keep it off the read loop
		go func() {
			if err := s.Start(ctx); err != nil {
				logger.Warn("stream session failed to start", zap.Uint32("pid", ch.PID()), zap.Error(err))
			}
		}()
	})
}

// NewSession creates a pool session over ch without starting it
func NewSession(ctx context.Context, pool *ipc.Pool, ch *Channel, opts AttachOptions) (*ipc.Session, error) {
	return pool.Create(ctx, ipc.NewEndpoint(ch, opts.Endpoint), ipc.SessionOptions{
		Local:   opts.Local,
		Remote:  opts.Remote,
		Purpose: Purpose(ch.PID()),
	})
}
