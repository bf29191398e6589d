package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dwebshell/core/internal/shared/id"
	"go.uber.org/zap"
)

// EndpointState is the handshake progress of an Endpoint
type EndpointState int

const (
	StateInit EndpointState = iota
	StateOpening
	StateOpen
	StateClosing
	StateClosed
)

func (s EndpointState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const defaultCloseTimeout = 2 * time.Second

// EndpointOptions configures an Endpoint
type EndpointOptions struct {
	// Protocols the local side would like to use; filtered by what the
	// transport can carry. JSON is always advertised.
	Protocols []Protocol
	// CloseTimeout bounds the best-effort Closing/Closed notifications
	CloseTimeout time.Duration
	// InboxSize is the buffer between the read loop and the session
	InboxSize int
	Logger    *zap.Logger
}

// Endpoint runs the open/close handshake over one Transport and
// encodes outgoing messages with the negotiated protocol.
type Endpoint struct {
	id           id.EndpointID
	transport    Transport
	local        []Protocol
	closeTimeout time.Duration
	logger       *zap.Logger

	// lifeMu orders handshake decisions with the lifecycle sends they cause
	lifeMu        sync.Mutex
	mu            sync.RWMutex
	state         EndpointState
	started       bool
	remoteOpening bool
	remoteOpen    bool
	remote        []Protocol
	protocol      Protocol
	cause         error

	// writeSem serializes writes; a channel so waiting honors ctx
	writeSem chan struct{}

	inbox     chan Message
	ready     chan struct{}
	readyOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewEndpoint wraps transport and starts reading from it. The handshake
// begins with Start.
func NewEndpoint(transport Transport, opts EndpointOptions) *Endpoint {
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = defaultCloseTimeout
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 16
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	e := &Endpoint{
		id:           id.NewEndpointID(),
		transport:    transport,
		local:        Advertise(opts.Protocols, transport.Protocols()),
		closeTimeout: opts.CloseTimeout,
		protocol:     ProtocolJSON,
		writeSem:     make(chan struct{}, 1),
		inbox:        make(chan Message, opts.InboxSize),
		ready:        make(chan struct{}),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	e.logger = opts.Logger.With(zap.String("endpoint", e.id.String()))

	go e.readLoop()
	return e
}

// ID returns the endpoint id
func (e *Endpoint) ID() id.EndpointID { return e.id }

// State returns the current handshake state
func (e *Endpoint) State() EndpointState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Protocol returns the negotiated payload protocol (json until open)
func (e *Endpoint) Protocol() Protocol {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.protocol
}

// LocalProtocols returns what this side advertises
func (e *Endpoint) LocalProtocols() []Protocol { return e.local }

// RemoteProtocols returns what the peer advertised, if known yet
func (e *Endpoint) RemoteProtocols() []Protocol {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.remote
}

// Inbox delivers every received message in receipt order. It is closed
// when the read loop ends.
func (e *Endpoint) Inbox() <-chan Message { return e.inbox }

// Ready is closed once the peer has confirmed Open
func (e *Endpoint) Ready() <-chan struct{} { return e.ready }

// Done is closed once the endpoint is fully closed
func (e *Endpoint) Done() <-chan struct{} { return e.done }

// Err returns why the endpoint closed; nil for an orderly close
func (e *Endpoint) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cause
}

// Start sends Opening and, if the peer already announced itself, Open.
func (e *Endpoint) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	e.mu.Lock()
	if e.state >= StateClosing {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	if e.state == StateInit {
		e.state = StateOpening
	}
	reply := e.remoteOpening
	e.mu.Unlock()

	if err := e.sendLifecycle(ctx, LifecycleOpening); err != nil {
		return fmt.Errorf("send opening: %w", err)
	}
	if reply {
		if err := e.sendLifecycle(ctx, LifecycleOpen); err != nil {
			return fmt.Errorf("send open: %w", err)
		}
	}
	return nil
}

// WaitReady blocks until the handshake completes
func (e *Endpoint) WaitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-e.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send posts msg. Non-lifecycle messages wait until the endpoint is open
// and are encoded with the negotiated protocol.
func (e *Endpoint) Send(ctx context.Context, msg Message) error {
	if lc, ok := msg.(*Lifecycle); ok {
		return e.sendLifecycle(ctx, lc.State)
	}

	// closing wins over ready so nothing is written after Close begins
	select {
	case <-e.closing:
		return ErrClosed
	default:
	}
	if err := e.WaitReady(ctx); err != nil {
		return err
	}

	frame, err := Encode(msg, e.Protocol())
	if err != nil {
		return err
	}
	return e.write(ctx, frame)
}

func (e *Endpoint) sendLifecycle(ctx context.Context, state LifecycleState) error {
	frame, err := Encode(&Lifecycle{State: state, Protocols: e.local}, ProtocolJSON)
	if err != nil {
		return err
	}
	return e.write(ctx, frame)
}

func (e *Endpoint) write(ctx context.Context, f Frame) error {
	select {
	case e.writeSem <- struct{}{}:
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.writeSem }()

	return e.transport.Send(ctx, f)
}

// Close sends Closing and Closed, then tears the transport down.
// It is idempotent; later callers wait for the first close to finish.
func (e *Endpoint) Close(ctx context.Context) error {
	e.shutdown(true, true, nil)
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Endpoint) shutdown(sendClosing, sendClosed bool, cause error) {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.state = StateClosing
		e.cause = cause
		e.mu.Unlock()
		close(e.closing)

		if sendClosing || sendClosed {
			ctx, cancel := context.WithTimeout(context.Background(), e.closeTimeout)
			if sendClosing {
				_ = e.sendLifecycle(ctx, LifecycleClosing)
			}
			if sendClosed {
				_ = e.sendLifecycle(ctx, LifecycleClosed)
			}
			cancel()
		}

		if err := e.transport.Close(); err != nil {
			e.logger.Debug("transport close failed", zap.Error(err))
		}

		e.mu.Lock()
		e.state = StateClosed
		e.mu.Unlock()
		close(e.done)
	})
}

func (e *Endpoint) readLoop() {
	defer close(e.inbox)

	for {
		frame, err := e.transport.Recv(context.Background())
		if err != nil {
			var cause error
			if !errors.Is(err, io.EOF) && !errors.Is(err, ErrClosed) {
				cause = fmt.Errorf("transport failure: %w", err)
				e.logger.Debug("endpoint read failed", zap.Error(err))
			}
			e.shutdown(false, false, cause)
			return
		}

		msg, err := Decode(frame)
		if err != nil {
			e.violation(err)
			return
		}

		if lc, ok := msg.(*Lifecycle); ok {
			e.handleLifecycle(lc)
		} else if !e.isRemoteOpen() {
			e.violation(fmt.Errorf("%w: %s received before open", ErrProtocolViolation, msg.Kind()))
			return
		}

		e.inbox <- msg
	}
}

func (e *Endpoint) violation(err error) {
	e.logger.Warn("closing endpoint on protocol violation", zap.Error(err))
	e.shutdown(true, true, err)
}

func (e *Endpoint) isRemoteOpen() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.remoteOpen
}

func (e *Endpoint) handleLifecycle(lc *Lifecycle) {
	switch lc.State {
	case LifecycleOpening:
		e.lifeMu.Lock()
		e.mu.Lock()
		e.remoteOpening = true
		e.remote = lc.Protocols
		reply := e.started && e.state < StateClosing
		e.mu.Unlock()
		if reply {
			if err := e.sendLifecycle(context.Background(), LifecycleOpen); err != nil {
				e.logger.Debug("open reply failed", zap.Error(err))
			}
		}
		e.lifeMu.Unlock()

	case LifecycleOpen:
		e.mu.Lock()
		e.remoteOpen = true
		e.remote = lc.Protocols
		e.protocol = Negotiate(e.local, lc.Protocols)
		if e.state < StateOpen {
			e.state = StateOpen
		}
		protocol := e.protocol
		e.mu.Unlock()

		e.readyOnce.Do(func() {
			e.logger.Debug("endpoint open", zap.String("protocol", string(protocol)))
			close(e.ready)
		})

	case LifecycleClosing:
		e.shutdown(false, true, nil)

	case LifecycleClosed:
		e.shutdown(false, false, nil)
	}
}
