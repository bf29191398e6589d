package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/dwebshell/core/internal/shared/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	manifestA = types.Manifest{ID: "a.dweb", Name: "A", Protocols: types.Protocols{Binary: true}}
	manifestB = types.Manifest{ID: "b.dweb", Name: "B", Protocols: types.Protocols{Binary: true}}
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// sessionPair connects two sessions over a channel pair, both started.
func sessionPair(t *testing.T, protocols []Protocol) (*Session, *Session) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ta, tb := NewChannelPair(64)

	a := NewSession(NewEndpoint(ta, EndpointOptions{Protocols: protocols, Logger: logger}),
		SessionOptions{Local: manifestA, Remote: manifestB}, logger)
	b := NewSession(NewEndpoint(tb, EndpointOptions{Protocols: protocols, Logger: logger}),
		SessionOptions{Local: manifestB, Remote: manifestA}, logger)

	ctx := testContext(t)
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	require.NoError(t, a.Ready(ctx))
	require.NoError(t, b.Ready(ctx))

	t.Cleanup(func() {
		_ = a.Close(context.Background())
		_ = b.Close(context.Background())
	})
	return a, b
}

// recvMessage reads and decodes one frame from a raw transport.
func recvMessage(t *testing.T, tr Transport) (Frame, Message) {
	t.Helper()
	f, err := tr.Recv(testContext(t))
	require.NoError(t, err)
	msg, err := Decode(f)
	require.NoError(t, err)
	return f, msg
}

func sendMessage(t *testing.T, tr Transport, msg Message) {
	t.Helper()
	f, err := Encode(msg, ProtocolJSON)
	require.NoError(t, err)
	require.NoError(t, tr.Send(testContext(t), f))
}

// rawOpen completes the handshake from a raw transport peer against a
// started endpoint.
func rawOpen(t *testing.T, tr Transport) {
	t.Helper()
	_, msg := recvMessage(t, tr)
	lc, ok := msg.(*Lifecycle)
	require.True(t, ok)
	require.Equal(t, LifecycleOpening, lc.State)

	sendMessage(t, tr, &Lifecycle{State: LifecycleOpening, Protocols: []Protocol{ProtocolJSON}})
	sendMessage(t, tr, &Lifecycle{State: LifecycleOpen, Protocols: []Protocol{ProtocolJSON}})

	// the endpoint answers our opening with open
	_, msg = recvMessage(t, tr)
	require.Equal(t, LifecycleOpen, msg.(*Lifecycle).State)
}
