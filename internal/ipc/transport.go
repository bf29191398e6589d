package ipc

import (
	"context"
	"io"
	"sync"
)

// FrameKind says how a frame's payload is represented
type FrameKind uint8

const (
	// FrameText holds a JSON envelope
	FrameText FrameKind = iota + 1
	// FrameBinary holds a CBOR envelope
	FrameBinary
	// FrameObject holds a Message passed by reference
	FrameObject
)

// Frame is the unit a Transport moves
type Frame struct {
	Kind   FrameKind
	Data   []byte
	Object Message
}

// Transport is one ordered, bidirectional channel under an Endpoint.
// Send and Recv may be called concurrently with each other; Recv
// returns io.EOF once the channel is closed and drained.
type Transport interface {
	Send(ctx context.Context, f Frame) error
	Recv(ctx context.Context) (Frame, error)
	Close() error
	// Protocols lists the encodings this transport can carry
	Protocols() []Protocol
}

// TransportPairFunc creates two connected transports
type TransportPairFunc func() (Transport, Transport)

// NewChannelPair returns two in-process transports wired to each other.
// Closing either end closes both; frames already queued are still
// delivered before Recv reports io.EOF.
func NewChannelPair(buffer int) (Transport, Transport) {
	if buffer < 0 {
		buffer = 0
	}
	ab := make(chan Frame, buffer)
	ba := make(chan Frame, buffer)
	shared := &channelLink{done: make(chan struct{})}

	return &channelEnd{in: ba, out: ab, link: shared},
		&channelEnd{in: ab, out: ba, link: shared}
}

type channelLink struct {
	done chan struct{}
	once sync.Once
}

type channelEnd struct {
	in   <-chan Frame
	out  chan<- Frame
	link *channelLink
}

func (c *channelEnd) Send(ctx context.Context, f Frame) error {
	select {
	case <-c.link.done:
		return ErrClosed
	default:
	}

	select {
	case c.out <- f:
		return nil
	case <-c.link.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *channelEnd) Recv(ctx context.Context) (Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	default:
	}

	select {
	case f := <-c.in:
		return f, nil
	case <-c.link.done:
		select {
		case f := <-c.in:
			return f, nil
		default:
			return Frame{}, io.EOF
		}
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *channelEnd) Close() error {
	c.link.once.Do(func() { close(c.link.done) })
	return nil
}

func (c *channelEnd) Protocols() []Protocol {
	return []Protocol{ProtocolJSON, ProtocolCBOR, ProtocolStructured}
}
