package port

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dwebshell/core/internal/ipc"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultReadLimit    = 16 << 20
	defaultWriteTimeout = 10 * time.Second
)

// Options configures a port
type Options struct {
	// ReadLimit bounds one inbound message
	ReadLimit    int64
	Buffer       int
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	if o.Buffer <= 0 {
		o.Buffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Upgrader accepts ports from any origin; the gateway applies CORS first
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Port is an ipc.Transport over one WebSocket connection. Text messages
// carry JSON envelopes and binary messages carry CBOR envelopes.
type Port struct {
	conn   *websocket.Conn
	opts   Options
	logger *zap.Logger

	wmu sync.Mutex
	in  chan ipc.Frame

	mu  sync.Mutex
	err error

	done      chan struct{}
	closeOnce sync.Once
}

// New wraps conn and starts reading from it
func New(conn *websocket.Conn, opts Options) *Port {
	opts = opts.withDefaults()
	conn.SetReadLimit(opts.ReadLimit)

	p := &Port{
		conn:   conn,
		opts:   opts,
		logger: opts.Logger.With(zap.String("remote_addr", conn.RemoteAddr().String())),
		in:     make(chan ipc.Frame, opts.Buffer),
		done:   make(chan struct{}),
	}
	go p.readLoop()
	return p
}

// Upgrade upgrades an HTTP request to a port
func Upgrade(w http.ResponseWriter, r *http.Request, opts Options) (*Port, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade port: %w", err)
	}
	return New(conn, opts), nil
}

// Dial opens a port to a ws:// or wss:// url
func Dial(ctx context.Context, url string, header http.Header, opts Options) (*Port, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial port %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial port %s: %w", url, err)
	}
	return New(conn, opts), nil
}

// Done is closed when the port has shut down
func (p *Port) Done() <-chan struct{} { return p.done }

// Err returns why the port closed; nil after a normal close
func (p *Port) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Port) readLoop() {
	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			switch {
			case errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway):
				p.fail(nil)
			case p.closed():
				p.fail(nil)
			default:
				p.logger.Debug("port read failed", zap.Error(err))
				p.fail(err)
			}
			return
		}

		f := ipc.Frame{Kind: ipc.FrameText, Data: data}
		if kind == websocket.BinaryMessage {
			f.Kind = ipc.FrameBinary
		}
		select {
		case p.in <- f:
		case <-p.done:
			return
		}
	}
}

func (p *Port) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Port) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	p.shutdown()
}

func (p *Port) shutdown() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// Send writes f as one WebSocket message
func (p *Port) Send(ctx context.Context, f ipc.Frame) error {
	var kind int
	switch f.Kind {
	case ipc.FrameText:
		kind = websocket.TextMessage
	case ipc.FrameBinary:
		kind = websocket.BinaryMessage
	default:
		return fmt.Errorf("port: cannot carry frame kind %d", f.Kind)
	}

	select {
	case <-p.done:
		return ipc.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	deadline := time.Now().Add(p.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.conn.SetWriteDeadline(deadline)
	if err := p.conn.WriteMessage(kind, f.Data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return ipc.ErrClosed
		}
		return fmt.Errorf("port write: %w", err)
	}
	return nil
}

// Recv returns the next inbound frame, draining queued frames before io.EOF
func (p *Port) Recv(ctx context.Context) (ipc.Frame, error) {
	select {
	case f := <-p.in:
		return f, nil
	default:
	}

	select {
	case f := <-p.in:
		return f, nil
	case <-p.done:
		select {
		case f := <-p.in:
			return f, nil
		default:
			return ipc.Frame{}, io.EOF
		}
	case <-ctx.Done():
		return ipc.Frame{}, ctx.Err()
	}
}

// Close sends a close message and closes the connection
func (p *Port) Close() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	p.wmu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	p.wmu.Unlock()

	p.shutdown()
	return nil
}

// Protocols lists the encodings a WebSocket can carry
func (p *Port) Protocols() []ipc.Protocol {
	return []ipc.Protocol{ipc.ProtocolJSON, ipc.ProtocolCBOR}
}
