package ipc

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/dwebshell/core/internal/shared/id"
	"github.com/dwebshell/core/internal/shared/types"
	"go.uber.org/zap"
)

// Handler answers requests arriving on a session
type Handler interface {
	ServeIPC(ctx context.Context, s *Session, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, s *Session, req *Request) (*Response, error)

// ServeIPC calls f
func (f HandlerFunc) ServeIPC(ctx context.Context, s *Session, req *Request) (*Response, error) {
	return f(ctx, s, req)
}

// SessionOptions describes the peers of a new session
type SessionOptions struct {
	Local  types.Manifest
	Remote types.Manifest
	// Purpose distinguishes several sessions to the same remote in one pool
	Purpose string
	// AutoStart begins the handshake right away
	AutoStart bool
}

type result struct {
	resp *Response
	err  error
}

// Session is a correlation-aware connection between two module identities
// over one Endpoint.
type Session struct {
	id       id.SessionID
	endpoint *Endpoint
	local    types.Manifest
	remote   types.Manifest
	purpose  string
	logger   *zap.Logger

	nextReqID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan result

	// abandoned holds ids whose caller gave up; a late response for one
	// is dropped instead of treated as a violation
	abandoned map[uint64]struct{}
	closed    atomic.Bool

	handler atomic.Pointer[handlerBox]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	onRequest   Observers[*Request]
	onResponse  Observers[*Response]
	onEvent     Observers[*Event]
	onStream    Observers[*Stream]
	onLifecycle Observers[*Lifecycle]
	onError     Observers[*Error]

	closeMu   sync.Mutex
	onClose   []func()
	closeErr  error
	finalized bool
}

type handlerBox struct{ h Handler }

var notFound = HandlerFunc(func(ctx context.Context, s *Session, req *Request) (*Response, error) {
	return nil, fmt.Errorf("%w: no handler for %s", ErrNotFound, req.URL)
})

// NewSession wraps endpoint. The session reads the endpoint's inbox
// until it closes.
func NewSession(endpoint *Endpoint, opts SessionOptions, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:        id.NewSessionID(),
		endpoint:  endpoint,
		local:     opts.Local.Clone(),
		remote:    opts.Remote.Clone(),
		purpose:   opts.Purpose,
		pending:   make(map[uint64]chan result),
		abandoned: make(map[uint64]struct{}),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.logger = logger.With(
		zap.String("session", s.id.String()),
		zap.String("local", opts.Local.ID),
		zap.String("remote", opts.Remote.ID),
	)

	go s.dispatchLoop()
	return s
}

// ID returns the session id
func (s *Session) ID() id.SessionID { return s.id }

// Local returns the manifest of this side
func (s *Session) Local() types.Manifest { return s.local }

// Remote returns the manifest of the peer
func (s *Session) Remote() types.Manifest { return s.remote }

// Purpose returns the pool purpose this session was created for
func (s *Session) Purpose() string { return s.purpose }

// Endpoint returns the underlying endpoint
func (s *Session) Endpoint() *Endpoint { return s.endpoint }

// IsClosed reports whether the session has closed. It never resets.
func (s *Session) IsClosed() bool { return s.closed.Load() }

// Done is closed once the session has closed and notified its observers
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session closed; nil for an orderly close
func (s *Session) Err() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closeErr
}

// Start begins the handshake
func (s *Session) Start(ctx context.Context) error {
	return s.endpoint.Start(ctx)
}

// Ready blocks until both sides confirmed the handshake
func (s *Session) Ready(ctx context.Context) error {
	return s.endpoint.WaitReady(ctx)
}

// PostMessage sends msg, waiting for the handshake if needed.
// It is a no-op on a closed session.
func (s *Session) PostMessage(ctx context.Context, msg Message) error {
	if s.IsClosed() {
		return nil
	}
	err := s.endpoint.Send(ctx, msg)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Request sends req and waits for the response with the same req_id.
// req is copied; its ReqID is assigned here.
func (s *Session) Request(ctx context.Context, req *Request) (*Response, error) {
	out := req.Clone()
	out.ReqID = s.nextReqID.Add(1) - 1
	if out.Method == "" {
		out.Method = "GET"
	}

	wait := make(chan result, 1)
	s.mu.Lock()
	if s.IsClosed() {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.pending[out.ReqID] = wait
	s.mu.Unlock()

	if err := s.endpoint.Send(ctx, out); err != nil {
		s.forget(out.ReqID)
		if errors.Is(err, ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("send request %d: %w", out.ReqID, err)
	}

	select {
	case r := <-wait:
		return r.resp, r.err
	case <-ctx.Done():
		s.abandon(out.ReqID)
		return nil, ctx.Err()
	}
}

// Fetch is a convenience wrapper around Request
func (s *Session) Fetch(ctx context.Context, method, rawURL string, body []byte) (*Response, error) {
	return s.Request(ctx, NewRequest(method, rawURL, body))
}

func (s *Session) forget(reqID uint64) {
	s.mu.Lock()
	delete(s.pending, reqID)
	s.mu.Unlock()
}

// abandon drops the pending entry for reqID but remembers the id, since
// the peer may still answer it
func (s *Session) abandon(reqID uint64) {
	s.mu.Lock()
	if _, ok := s.pending[reqID]; ok {
		delete(s.pending, reqID)
		s.abandoned[reqID] = struct{}{}
	}
	s.mu.Unlock()
}

// settle reports whether reqID was abandoned and clears it
func (s *Session) settle(reqID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.abandoned[reqID]
	delete(s.abandoned, reqID)
	return ok
}

// take removes and returns the pending entry for reqID
func (s *Session) take(reqID uint64) (chan result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wait, ok := s.pending[reqID]
	if ok {
		delete(s.pending, reqID)
	}
	return wait, ok
}

// Pending returns the number of requests waiting for a response
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Serve installs h to answer every incoming request. Each request runs
// in its own goroutine; errors and panics become error responses.
func (s *Session) Serve(h Handler) {
	s.handler.Store(&handlerBox{h: h})
}

func (s *Session) OnRequest(fn func(*Request)) (remove func())     { return s.onRequest.Add(fn) }
func (s *Session) OnResponse(fn func(*Response)) (remove func())   { return s.onResponse.Add(fn) }
func (s *Session) OnEvent(fn func(*Event)) (remove func())         { return s.onEvent.Add(fn) }
func (s *Session) OnStream(fn func(*Stream)) (remove func())       { return s.onStream.Add(fn) }
func (s *Session) OnLifecycle(fn func(*Lifecycle)) (remove func()) { return s.onLifecycle.Add(fn) }
func (s *Session) OnError(fn func(*Error)) (remove func())         { return s.onError.Add(fn) }

// OnClose registers fn to run once when the session closes. If the
// session is already closed fn runs immediately.
func (s *Session) OnClose(fn func()) {
	s.closeMu.Lock()
	if s.finalized {
		s.closeMu.Unlock()
		fn()
		return
	}
	s.onClose = append(s.onClose, fn)
	s.closeMu.Unlock()
}

// Close closes the endpoint and waits until the session has rejected its
// pending requests and notified OnClose observers. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	if err := s.endpoint.Close(ctx); err != nil {
		return err
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) dispatchLoop() {
	for msg := range s.endpoint.Inbox() {
		s.dispatch(msg)
	}
	s.finalize(s.endpoint.Err())
}

func (s *Session) dispatch(msg Message) {
	switch m := msg.(type) {
	case *Request:
		s.onRequest.Emit(m)
		switch box := s.handler.Load(); {
		case box != nil:
			go s.serve(box.h, m)
		case s.onRequest.Len() == 0:
			// nobody will answer; fail fast instead of leaving the caller hanging
			go s.serve(notFound, m)
		}

	case *Response:
		wait, ok := s.take(m.ReqID)
		if !ok {
			if s.settle(m.ReqID) {
				s.logger.Debug("dropping late response", zap.Uint64("req_id", m.ReqID))
				return
			}
			s.violation(m.ReqID)
			return
		}
		s.onResponse.Emit(m)
		wait <- result{resp: m}

	case *Event:
		s.onEvent.Emit(m)

	case *Stream:
		s.onStream.Emit(m)

	case *Lifecycle:
		s.onLifecycle.Emit(m)

	case *Error:
		s.onError.Emit(m)
		if m.ReqID != nil {
			if wait, ok := s.take(*m.ReqID); ok {
				wait <- result{err: &RemoteError{ReqID: *m.ReqID, Reason: m.Reason, Code: m.Code}}
			} else {
				s.settle(*m.ReqID)
			}
		}
	}
}

// violation handles a response nobody asked for
func (s *Session) violation(reqID uint64) {
	err := fmt.Errorf("%w: req_id %d", ErrUnexpectedResponse, reqID)
	s.logger.Warn("closing session on protocol violation", zap.Error(err))

	s.onError.Emit(&Error{ReqID: &reqID, Reason: err.Error()})

	s.closeMu.Lock()
	if s.closeErr == nil {
		s.closeErr = err
	}
	s.closeMu.Unlock()

	go s.endpoint.shutdown(true, true, err)
}

func (s *Session) serve(h Handler, req *Request) {
	resp, err := s.invoke(h, req)
	if err != nil {
		status := StatusFor(err)
		if status >= 500 {
			s.logger.Warn("request handler failed", zap.String("url", req.URL), zap.Error(err))
		}
		resp = ErrorResponse(req, status, err.Error())
	}
	if resp == nil {
		resp = NewResponse(req, 204, nil)
	}
	// handlers may return a shared response; stamp a copy
	out := *resp
	out.ReqID = req.ReqID

	if err := s.PostMessage(s.ctx, &out); err != nil {
		s.logger.Debug("response not delivered", zap.Uint64("req_id", req.ReqID), zap.Error(err))
	}
}

func (s *Session) invoke(h Handler, req *Request) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("request handler panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			resp, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.ServeIPC(s.ctx, s, req)
}

func (s *Session) finalize(cause error) {
	s.mu.Lock()
	s.closed.Store(true)
	pending := s.pending
	s.pending = make(map[uint64]chan result)
	s.abandoned = make(map[uint64]struct{})
	s.mu.Unlock()

	for _, wait := range pending {
		wait <- result{err: ErrClosed}
	}
	s.cancel()

	s.closeMu.Lock()
	if s.closeErr == nil {
		s.closeErr = cause
	}
	s.finalized = true
	callbacks := s.onClose
	s.onClose = nil
	s.closeMu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
	s.logger.Debug("session closed")
	close(s.done)
}
