package process

import (
	"context"
	"io"

	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/ipc/stream"
	"github.com/dwebshell/core/internal/shared/types"
	"go.uber.org/zap"
)

// CallerHeader carries the id of the module that sent a bridged request
const CallerHeader = "X-Dweb-Caller"

// HostManifest is the peer a worker sees on every channel
var HostManifest = types.Manifest{ID: "host.process.dweb", Name: "Process host"}

// WorkerOptions configures Serve
type WorkerOptions struct {
	Manifest types.Manifest
	Handler  ipc.Handler
	// Binary advertises cbor on every channel
	Binary       bool
	MaxFrameSize int
	Logger       *zap.Logger
}

// Serve runs the child side of a process module: every channel the
// host opens on in/out becomes a session answered by opts.Handler.
// It returns when the host closes the pipe or ctx is cancelled.
func Serve(ctx context.Context, in io.Reader, out io.WriteCloser, opts WorkerOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := stream.NewDuplex(out, stream.Options{
		Side:         stream.SideChild,
		MaxFrameSize: opts.MaxFrameSize,
		Logger:       logger,
	})
	pool := ipc.NewPool(opts.Manifest.ID, logger)
	defer pool.Destroy(context.WithoutCancel(ctx))

	var protocols []ipc.Protocol
	if opts.Binary {
		protocols = append(protocols, ipc.ProtocolCBOR)
	}

	stream.Attach(ctx, pool, d, stream.AttachOptions{
		Local:    opts.Manifest,
		Remote:   HostManifest,
		Endpoint: ipc.EndpointOptions{Protocols: protocols, Logger: logger},
		OnSession: func(s *ipc.Session) {
			s.Serve(opts.Handler)
		},
	})

	if err := d.BindIncome(ctx, in); err != nil {
		return err
	}
	<-d.Done()
	return d.Err()
}
