package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dwebshell/core/internal/infrastructure/monitoring"
	"github.com/dwebshell/core/internal/ipc"
	"go.uber.org/zap"
)

// ErrAlreadyBound is returned by a second BindIncome call
var ErrAlreadyBound = errors.New("stream: income already bound")

// Side decides which pids a duplex allocates so both ends can open
// channels without colliding.
type Side int

const (
	// SideParent allocates odd pids
	SideParent Side = iota
	// SideChild allocates even pids
	SideChild
)

// Options configures a Duplex
type Options struct {
	Side         Side
	MaxFrameSize int
	// Buffer is the per-channel inbound queue length
	Buffer  int
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Duplex multiplexes pid-tagged channels over one byte pipe. Writes go
// to w; reads come from whatever BindIncome is given.
type Duplex struct {
	w      io.WriteCloser
	wmu    sync.Mutex
	opts   Options
	logger *zap.Logger

	nextPID atomic.Uint32
	bound   atomic.Bool

	mu       sync.Mutex
	channels map[uint32]*Channel
	// retired pids are never reused; late frames for them are dropped
	retired map[uint32]struct{}
	closed  bool
	err     error

	onChannel ipc.Observers[*Channel]

	done      chan struct{}
	closeOnce sync.Once
}

// NewDuplex creates a duplex writing to w
func NewDuplex(w io.WriteCloser, opts Options) *Duplex {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	d := &Duplex{
		w:        w,
		opts:     opts,
		logger:   opts.Logger,
		channels: make(map[uint32]*Channel),
		retired:  make(map[uint32]struct{}),
		done:     make(chan struct{}),
	}
	if opts.Side == SideChild {
		d.nextPID.Store(0)
	} else {
		d.nextPID.Store(1)
	}
	return d
}

// Done is closed when the duplex has shut down
func (d *Duplex) Done() <-chan struct{} { return d.done }

// Err returns why the read side ended; nil on clean end of stream
func (d *Duplex) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// OnChannel registers fn for channels opened by the peer
func (d *Duplex) OnChannel(fn func(*Channel)) (remove func()) {
	return d.onChannel.Add(fn)
}

// Open allocates a fresh pid and returns its channel
func (d *Duplex) Open() (*Channel, error) {
	pid := d.nextPID.Add(2)
	ch, _, err := d.channel(pid)
	return ch, err
}

// Channel returns the channel for pid, creating it if needed
func (d *Duplex) Channel(pid uint32) (*Channel, error) {
	ch, _, err := d.channel(pid)
	return ch, err
}

func (d *Duplex) channel(pid uint32) (*Channel, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, false, ipc.ErrClosed
	}
	if _, ok := d.retired[pid]; ok {
		return nil, false, ipc.ErrClosed
	}
	if ch, ok := d.channels[pid]; ok {
		return ch, false, nil
	}
	ch := newChannel(d, pid)
	d.channels[pid] = ch
	return ch, true, nil
}

func (d *Duplex) forget(pid uint32, ch *Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channels[pid] == ch {
		delete(d.channels, pid)
		d.retired[pid] = struct{}{}
	}
}

// Len returns the number of live channels
func (d *Duplex) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

func (d *Duplex) write(f Frame) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()

	select {
	case <-d.done:
		return ipc.ErrClosed
	default:
	}
	if err := WriteFrame(d.w, f); err != nil {
		return err
	}
	d.opts.Metrics.RecordFrame("out", len(f.Data))
	return nil
}

// BindIncome starts reading frames from r. It may be called once; the
// duplex closes when r ends, fails, or ctx is cancelled.
func (d *Duplex) BindIncome(ctx context.Context, r io.Reader) error {
	if !d.bound.CompareAndSwap(false, true) {
		return ErrAlreadyBound
	}

	go func() {
		select {
		case <-ctx.Done():
			d.fail(ctx.Err())
			if c, ok := r.(io.Closer); ok {
				_ = c.Close()
			}
		case <-d.done:
		}
	}()
	go d.readLoop(r)
	return nil
}

func (d *Duplex) readLoop(r io.Reader) {
	for {
		f, err := ReadFrame(r, d.opts.MaxFrameSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			} else {
				d.logger.Debug("stream read ended", zap.Error(err))
			}
			d.fail(err)
			return
		}
		d.opts.Metrics.RecordFrame("in", len(f.Data))
		d.dispatch(f)
	}
}

func (d *Duplex) dispatch(f Frame) {
	if f.Kind == KindClose {
		d.mu.Lock()
		ch := d.channels[f.PID]
		d.mu.Unlock()
		if ch != nil {
			ch.closeLocal()
		}
		return
	}

	ch, created, err := d.channel(f.PID)
	if err != nil {
		return
	}
	if created {
		d.onChannel.Emit(ch)
	}
	ch.deliver(f)
}

func (d *Duplex) fail(err error) {
	d.mu.Lock()
	if d.err == nil {
		d.err = err
	}
	d.mu.Unlock()
	_ = d.Close()
}

// Close closes every channel and the write side
func (d *Duplex) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		channels := make([]*Channel, 0, len(d.channels))
		for _, ch := range d.channels {
			channels = append(channels, ch)
		}
		d.channels = make(map[uint32]*Channel)
		d.mu.Unlock()

		for _, ch := range channels {
			ch.closeLocal()
		}

		close(d.done)
		err = d.w.Close()
	})
	return err
}

// Channel is one pid on a Duplex. It implements ipc.Transport with the
// json and cbor protocols.
type Channel struct {
	pid    uint32
	duplex *Duplex
	in     chan ipc.Frame

	done      chan struct{}
	closeOnce sync.Once
}

func newChannel(d *Duplex, pid uint32) *Channel {
	return &Channel{
		pid:    pid,
		duplex: d,
		in:     make(chan ipc.Frame, d.opts.Buffer),
		done:   make(chan struct{}),
	}
}

// PID returns the channel's process id tag
func (c *Channel) PID() uint32 { return c.pid }

func (c *Channel) deliver(f Frame) {
	kind := ipc.FrameText
	if f.Kind == KindBinary {
		kind = ipc.FrameBinary
	}
	select {
	case c.in <- ipc.Frame{Kind: kind, Data: f.Data}:
	case <-c.done:
	}
}

// Send writes f as one frame
func (c *Channel) Send(ctx context.Context, f ipc.Frame) error {
	select {
	case <-c.done:
		return ipc.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var kind Kind
	switch f.Kind {
	case ipc.FrameText:
		kind = KindText
	case ipc.FrameBinary:
		kind = KindBinary
	default:
		return fmt.Errorf("stream: cannot carry frame kind %d", f.Kind)
	}
	return c.duplex.write(Frame{PID: c.pid, Kind: kind, Data: f.Data})
}

// Recv returns the next inbound frame, draining queued frames before io.EOF
func (c *Channel) Recv(ctx context.Context) (ipc.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	default:
	}

	select {
	case f := <-c.in:
		return f, nil
	case <-c.done:
		select {
		case f := <-c.in:
			return f, nil
		default:
			return ipc.Frame{}, io.EOF
		}
	case <-ctx.Done():
		return ipc.Frame{}, ctx.Err()
	}
}

// Close tells the peer the channel is gone and releases the pid
func (c *Channel) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	err := c.duplex.write(Frame{PID: c.pid, Kind: KindClose})
	c.closeLocal()
	if errors.Is(err, ipc.ErrClosed) {
		err = nil
	}
	return err
}

func (c *Channel) closeLocal() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.duplex.forget(c.pid, c)
	})
}

// Protocols lists the encodings a byte pipe can carry
func (c *Channel) Protocols() []ipc.Protocol {
	return []ipc.Protocol{ipc.ProtocolJSON, ipc.ProtocolCBOR}
}
