package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/dwebshell/core/internal/domain/module"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/id"
	"github.com/dwebshell/core/internal/shared/types"
	"go.uber.org/zap"
)

type pairKey struct {
	from, to string
}

// Pair is a brokered connection seen from module From. Local lives in
// From's pool, Remote in To's.
type Pair struct {
	From   string
	To     string
	Local  *ipc.Session
	Remote *ipc.Session
}

func (p *Pair) stale() bool {
	return p.Local.IsClosed() || p.Remote.IsClosed()
}

func brokerPurpose(from, to string) string {
	return "broker:" + from + ">" + to
}

// Connect returns from's session to module to, brokering a new pair on
// first contact. Concurrent callers for one ordered pair share a single
// broker.
func (r *Registry) Connect(ctx context.Context, from, to, reason string) (*ipc.Session, error) {
	inst, err := r.Open(ctx, from)
	if err != nil {
		return nil, err
	}
	pair, err := r.connect(ctx, inst, to, reason)
	if err != nil {
		return nil, err
	}
	return pair.Local, nil
}

func (r *Registry) connect(ctx context.Context, fromInst *Instance, to, reason string) (*Pair, error) {
	from := fromInst.ModuleID()
	if from == to {
		return nil, fmt.Errorf("%w: %s", ErrSelfConnect, from)
	}
	key := pairKey{from: from, to: to}

	for {
		pair, err := r.brokered.GetOrCreate(ctx, key, func(ctx context.Context) (*Pair, error) {
			return r.broker(ctx, fromInst, to, reason)
		})
		if err != nil {
			return nil, err
		}
		if !pair.stale() {
			return pair, nil
		}
		// a closed pair whose removal has not run yet
		r.brokered.CompareAndDelete(key, pair)
		if fromInst.IsClosing() {
			return nil, ipc.ErrClosed
		}
	}
}

func (r *Registry) broker(ctx context.Context, fromInst *Instance, to, reason string) (*Pair, error) {
	toInst, err := r.Open(ctx, to)
	if err != nil {
		return nil, err
	}
	from := fromInst.ModuleID()
	fromManifest, toManifest := fromInst.Manifest(), toInst.Manifest()
	purpose := brokerPurpose(from, to)

	ta, tb := r.opts.TransportPair()
	r.transportPairs.Add(1)

	local, err := fromInst.pool.Create(ctx, r.endpoint(ta, fromManifest), ipc.SessionOptions{
		Local:   fromManifest,
		Remote:  toManifest,
		Purpose: purpose,
	})
	if err != nil {
		_ = ta.Close()
		_ = tb.Close()
		return nil, fmt.Errorf("broker %s -> %s: %w", from, to, err)
	}
	remote, err := toInst.pool.Create(ctx, r.endpoint(tb, toManifest), ipc.SessionOptions{
		Local:   toManifest,
		Remote:  fromManifest,
		Purpose: purpose,
	})
	if err != nil {
		_ = local.Close(ctx)
		_ = tb.Close()
		return nil, fmt.Errorf("broker %s -> %s: %w", from, to, err)
	}

	fail := func(err error) (*Pair, error) {
		_ = local.Close(ctx)
		_ = remote.Close(ctx)
		return nil, fmt.Errorf("broker %s -> %s: %w", from, to, err)
	}

	// the target installs its handlers before anything can reach it
	if err := r.accept(ctx, toInst, remote, reason); err != nil {
		return fail(err)
	}
	if err := r.accept(ctx, fromInst, local, reason); err != nil {
		return fail(err)
	}
	if err := errors.Join(remote.Start(ctx), local.Start(ctx)); err != nil {
		return fail(err)
	}

	pair := &Pair{From: from, To: to, Local: local, Remote: remote}
	var reverse *Pair
	if r.opts.Duplex {
		reverse = &Pair{From: to, To: from, Local: remote, Remote: local}
		if err := r.brokered.Seed(pairKey{from: to, to: from}, reverse); err != nil {
			r.logger.Debug("reverse pair already brokered",
				zap.String("from", to),
				zap.String("to", from),
			)
			reverse = nil
		}
	}

	release := func() {
		if r.brokered.CompareAndDelete(pairKey{from: from, to: to}, pair) {
			r.metrics.BrokerRemoved()
		}
		if reverse != nil {
			r.brokered.CompareAndDelete(pairKey{from: to, to: from}, reverse)
		}
	}
	local.OnClose(release)
	remote.OnClose(release)

	r.metrics.BrokerCreated()
	r.logger.Debug("pair brokered",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("reason", reason),
	)
	return pair, nil
}

// Attach adopts a transport provided from outside the registry, such as
// a WebSocket port or a process channel, as a session into module to.
func (r *Registry) Attach(ctx context.Context, to string, t ipc.Transport, remote types.Manifest) (*ipc.Session, error) {
	inst, err := r.Open(ctx, to)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return r.attach(ctx, inst, t, remote)
}

func (r *Registry) attach(ctx context.Context, inst *Instance, t ipc.Transport, remote types.Manifest) (*ipc.Session, error) {
	s, err := inst.pool.Create(ctx, r.endpoint(t, inst.Manifest()), ipc.SessionOptions{
		Local:   inst.Manifest(),
		Remote:  remote,
		Purpose: "attach:" + id.NewEndpointID().String(),
	})
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	if err := r.accept(ctx, inst, s, "attach"); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (r *Registry) accept(ctx context.Context, inst *Instance, s *ipc.Session, reason string) error {
	if c, ok := inst.module.(module.Connector); ok {
		if err := c.BeConnect(ctx, s, reason); err != nil {
			return fmt.Errorf("%s refused session: %w", inst.ModuleID(), err)
		}
	}
	inst.mc.Connected(s, reason)
	return nil
}

func (r *Registry) endpoint(t ipc.Transport, m types.Manifest) *ipc.Endpoint {
	return ipc.NewEndpoint(t, ipc.EndpointOptions{
		Protocols:    r.wanted(m),
		CloseTimeout: r.opts.CloseTimeout,
		Logger:       r.logger,
	})
}

// wanted lists the upgrades a module may use on its endpoints
func (r *Registry) wanted(m types.Manifest) []ipc.Protocol {
	var out []ipc.Protocol
	if r.opts.Structured && m.Protocols.Structured {
		out = append(out, ipc.ProtocolStructured)
	}
	if r.opts.Binary && m.Protocols.Binary {
		out = append(out, ipc.ProtocolCBOR)
	}
	return out
}
