package stream

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dwebshell/core/internal/infrastructure/monitoring"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	parentManifest = types.Manifest{ID: "host.sys.dweb", Name: "host"}
	childManifest  = types.Manifest{ID: "worker.std.dweb", Name: "worker"}
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// duplexPair joins a parent and a child duplex with two pipes, the way a
// process's stdin and stdout join it to its parent.
func duplexPair(t *testing.T, metrics *monitoring.Metrics) (parent, child *Duplex) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	toChildR, toChildW := io.Pipe()
	toParentR, toParentW := io.Pipe()

	parent = NewDuplex(toChildW, Options{Side: SideParent, Logger: logger, Metrics: metrics})
	child = NewDuplex(toParentW, Options{Side: SideChild, Logger: logger})

	ctx := testContext(t)
	require.NoError(t, parent.BindIncome(ctx, toParentR))
	require.NoError(t, child.BindIncome(ctx, toChildR))

	t.Cleanup(func() {
		_ = parent.Close()
		_ = child.Close()
	})
	return parent, child
}

func waitClosed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func TestPIDParity(t *testing.T) {
	parent := NewDuplex(nopWriteCloser{io.Discard}, Options{Side: SideParent})
	child := NewDuplex(nopWriteCloser{io.Discard}, Options{Side: SideChild})

	for i := 0; i < 3; i++ {
		p, err := parent.Open()
		require.NoError(t, err)
		c, err := child.Open()
		require.NoError(t, err)

		assert.Equal(t, uint32(1), p.PID()%2, "parent pids are odd")
		assert.Equal(t, uint32(0), c.PID()%2, "child pids are even")
	}
	assert.Equal(t, 3, parent.Len())
}

func TestBindIncomeOnce(t *testing.T) {
	d := NewDuplex(nopWriteCloser{io.Discard}, Options{})
	r, w := io.Pipe()
	defer w.Close()

	require.NoError(t, d.BindIncome(context.Background(), r))
	assert.ErrorIs(t, d.BindIncome(context.Background(), r), ErrAlreadyBound)
	_ = d.Close()
}

func TestEndOfStreamClosesEverything(t *testing.T) {
	var out closeRecorder
	d := NewDuplex(&out, Options{})

	var wire bytes.Buffer
	require.NoError(t, WriteFrame(&wire, Frame{PID: 2, Kind: KindText, Data: []byte("{}")}))

	opened := make(chan *Channel, 1)
	d.OnChannel(func(ch *Channel) { opened <- ch })
	require.NoError(t, d.BindIncome(context.Background(), &wire))

	waitClosed(t, d.Done())
	assert.NoError(t, d.Err())
	assert.True(t, out.Closed())

	ch := <-opened
	f, err := ch.Recv(context.Background())
	require.NoError(t, err, "queued frames drain before EOF")
	assert.Equal(t, []byte("{}"), f.Data)

	_, err = ch.Recv(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	_, err = d.Open()
	assert.ErrorIs(t, err, ipc.ErrClosed)
}

func TestCancelledContextClosesDuplex(t *testing.T) {
	d := NewDuplex(nopWriteCloser{io.Discard}, Options{})
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.BindIncome(ctx, r))
	cancel()

	waitClosed(t, d.Done())
	assert.ErrorIs(t, d.Err(), context.Canceled)
}

func TestOversizedFrameFailsDuplex(t *testing.T) {
	d := NewDuplex(nopWriteCloser{io.Discard}, Options{MaxFrameSize: 16})

	var wire bytes.Buffer
	require.NoError(t, WriteFrame(&wire, Frame{PID: 2, Kind: KindText, Data: make([]byte, 64)}))
	require.NoError(t, d.BindIncome(context.Background(), &wire))

	waitClosed(t, d.Done())
	assert.ErrorIs(t, d.Err(), ErrFrameTooLarge)
}

func TestChannelFramesCrossThePipe(t *testing.T) {
	metrics := monitoring.NewMetrics()
	parent, child := duplexPair(t, metrics)
	ctx := testContext(t)

	accepted := make(chan *Channel, 1)
	child.OnChannel(func(ch *Channel) { accepted <- ch })

	out, err := parent.Open()
	require.NoError(t, err)
	require.NoError(t, out.Send(ctx, ipc.Frame{Kind: ipc.FrameBinary, Data: []byte{1, 2, 3}}))

	var in *Channel
	select {
	case in = <-accepted:
	case <-ctx.Done():
		t.Fatal("child never saw the channel")
	}
	assert.Equal(t, out.PID(), in.PID())

	f, err := in.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, ipc.FrameBinary, f.Kind)
	assert.Equal(t, []byte{1, 2, 3}, f.Data)

	require.NoError(t, in.Send(ctx, ipc.Frame{Kind: ipc.FrameText, Data: []byte("pong")}))
	f, err = out.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, ipc.FrameText, f.Kind)
	assert.Equal(t, "pong", string(f.Data))

	assert.Error(t, out.Send(ctx, ipc.Frame{Kind: ipc.FrameObject}), "object frames cannot cross a byte pipe")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Frames.WithLabelValues("out")))
}

func TestClosedPIDIsRetired(t *testing.T) {
	parent, child := duplexPair(t, nil)
	ctx := testContext(t)

	accepted := make(chan *Channel, 4)
	child.OnChannel(func(ch *Channel) { accepted <- ch })

	out, err := parent.Open()
	require.NoError(t, err)
	require.NoError(t, out.Send(ctx, ipc.Frame{Kind: ipc.FrameText, Data: []byte("1")}))
	in := <-accepted

	require.NoError(t, in.Close())
	_, err = out.Recv(ctx)
	require.ErrorIs(t, err, io.EOF, "close frame reaches the opener")

	// a late frame for the retired pid must not resurrect it
	require.NoError(t, parent.write(Frame{PID: out.PID(), Kind: KindText, Data: []byte("late")}))
	_, err = child.Channel(out.PID())
	assert.ErrorIs(t, err, ipc.ErrClosed)

	select {
	case ch := <-accepted:
		t.Fatalf("unexpected channel %d", ch.PID())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionOverDuplex(t *testing.T) {
	parent, child := duplexPair(t, nil)
	ctx := testContext(t)
	logger := zaptest.NewLogger(t)

	childPool := ipc.NewPool("worker", logger)
	parentPool := ipc.NewPool("host", logger)
	t.Cleanup(func() {
		_ = parentPool.Destroy(context.Background())
		_ = childPool.Destroy(context.Background())
	})

	Attach(ctx, childPool, child, AttachOptions{
		Local:    childManifest,
		Remote:   parentManifest,
		Endpoint: ipc.EndpointOptions{Protocols: []ipc.Protocol{ipc.ProtocolCBOR, ipc.ProtocolJSON}, Logger: logger},
		OnSession: func(s *ipc.Session) {
			s.Serve(ipc.HandlerFunc(func(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
				return ipc.NewResponse(req, 200, []byte("echo:"+req.Query("text"))), nil
			}))
		},
	})

	ch, err := parent.Open()
	require.NoError(t, err)
	session, err := NewSession(ctx, parentPool, ch, AttachOptions{
		Local:    parentManifest,
		Remote:   childManifest,
		Endpoint: ipc.EndpointOptions{Protocols: []ipc.Protocol{ipc.ProtocolCBOR, ipc.ProtocolJSON}, Logger: logger},
	})
	require.NoError(t, err)
	require.NoError(t, session.Start(ctx))
	require.NoError(t, session.Ready(ctx))
	assert.Equal(t, ipc.ProtocolCBOR, session.Endpoint().Protocol())

	var wg sync.WaitGroup
	for _, text := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			resp, err := session.Fetch(ctx, "GET", "file://worker.std.dweb/echo?text="+text, nil)
			if assert.NoError(t, err) {
				assert.Equal(t, 200, resp.Status)
				assert.Equal(t, "echo:"+text, string(resp.Body))
			}
		}(text)
	}
	wg.Wait()

	_, ok := childPool.Get(parentManifest.ID, Purpose(ch.PID()))
	assert.True(t, ok, "child registers the session under the channel pid")

	require.NoError(t, session.Close(ctx))
	assert.Eventually(t, func() bool { return childPool.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type closeRecorder struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (c *closeRecorder) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *closeRecorder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *closeRecorder) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
