package process

import (
	"context"
	"time"

	"github.com/dwebshell/core/internal/ipc"
	"go.uber.org/zap"
)

const bridgeCloseTimeout = 2 * time.Second

// bridge relays requests, events and stream chunks between the caller's
// session and the child channel session. Closing either side closes the
// other.
func bridge(ctx context.Context, caller, child *ipc.Session, logger *zap.Logger) {
	callerID := caller.Remote().ID

	caller.Serve(ipc.HandlerFunc(func(ctx context.Context, _ *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
		out := req.Clone()
		if out.Header == nil {
			out.Header = ipc.Header{}
		}
		out.Header.Set(CallerHeader, callerID)
		return child.Request(ctx, out)
	}))
	child.Serve(ipc.HandlerFunc(func(ctx context.Context, _ *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
		return caller.Request(ctx, req)
	}))

	relay(ctx, caller, child, logger)
	relay(ctx, child, caller, logger)

	caller.OnClose(func() { go closeSession(child) })
	child.OnClose(func() { go closeSession(caller) })
}

// relay forwards one-way messages from src to dst in receipt order
func relay(ctx context.Context, src, dst *ipc.Session, logger *zap.Logger) {
	post := func(msg ipc.Message) {
		if err := dst.PostMessage(ctx, msg); err != nil {
			logger.Debug("relay dropped message",
				zap.String("kind", string(msg.Kind())),
				zap.Error(err),
			)
		}
	}
	src.OnEvent(func(e *ipc.Event) { post(e) })
	src.OnStream(func(s *ipc.Stream) { post(s) })
}

func closeSession(s *ipc.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), bridgeCloseTimeout)
	defer cancel()
	_ = s.Close(ctx)
}
