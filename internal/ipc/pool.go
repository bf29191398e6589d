package ipc

import (
	"context"
	"sync"

	"github.com/dwebshell/core/internal/shared/id"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pool owns the live sessions of one execution context, keyed by
// remote id and purpose.
type Pool struct {
	id     id.PoolID
	name   string
	logger *zap.Logger

	mu        sync.Mutex
	sessions  map[string]*Session
	destroyed bool

	onSession Observers[*Session]
}

// NewPool creates an empty pool
func NewPool(name string, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		id:       id.NewPoolID(),
		name:     name,
		sessions: make(map[string]*Session),
	}
	p.logger = logger.With(zap.String("pool", name))
	return p
}

// ID returns the pool id
func (p *Pool) ID() id.PoolID { return p.id }

// Name returns the pool name
func (p *Pool) Name() string { return p.name }

// SessionKey is the uniqueness key of a session within a pool
func SessionKey(remoteID, purpose string) string {
	return remoteID + "#" + purpose
}

// Create wraps endpoint in a new session owned by the pool. The session
// leaves the pool when it closes.
func (p *Pool) Create(ctx context.Context, endpoint *Endpoint, opts SessionOptions) (*Session, error) {
	key := SessionKey(opts.Remote.ID, opts.Purpose)

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, ErrPoolDestroyed
	}
	if existing, ok := p.sessions[key]; ok && !existing.IsClosed() {
		p.mu.Unlock()
		return nil, ErrDuplicateSession
	}
	s := NewSession(endpoint, opts, p.logger)
	p.sessions[key] = s
	p.mu.Unlock()

	s.OnClose(func() { p.remove(key, s) })
	p.onSession.Emit(s)

	if opts.AutoStart {
		if err := s.Start(ctx); err != nil {
			_ = s.Close(context.Background())
			return nil, err
		}
	}
	return s, nil
}

func (p *Pool) remove(key string, s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions[key] == s {
		delete(p.sessions, key)
	}
}

// OnSession registers fn for every session created in the pool
func (p *Pool) OnSession(fn func(*Session)) (remove func()) {
	return p.onSession.Add(fn)
}

// Get returns the live session for remote id and purpose
func (p *Pool) Get(remoteID, purpose string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[SessionKey(remoteID, purpose)]
	if !ok || s.IsClosed() {
		return nil, false
	}
	return s, true
}

// Sessions returns a snapshot of live sessions
func (p *Pool) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// IsDestroyed reports whether Destroy has been called
func (p *Pool) IsDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// Destroy closes every member session exactly once. The pool accepts no
// sessions afterwards; later calls are no-ops.
func (p *Pool) Destroy(ctx context.Context) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	members := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		members = append(members, s)
	}
	p.mu.Unlock()

	var g errgroup.Group
	for _, s := range members {
		g.Go(func() error {
			return s.Close(ctx)
		})
	}
	err := g.Wait()

	p.logger.Debug("pool destroyed", zap.Int("sessions", len(members)))
	return err
}
