package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dwebshell/core/internal/shared/id"
)

// StreamHeader on a request asks for the body as Stream messages; on the
// response it carries the stream id.
const StreamHeader = "X-Dweb-Stream"

// DefaultChunkSize is the payload size of one Stream message
const DefaultChunkSize = 64 << 10

// PostStream sends r as Stream chunks under a fresh stream id, followed
// by an End marker. Chunks go out in order on this session.
func (s *Session) PostStream(ctx context.Context, r io.Reader, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	streamID := id.NewStreamID()

	buf := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if perr := s.PostMessage(ctx, &Stream{StreamID: streamID, Chunk: chunk}); perr != nil {
				return streamID, fmt.Errorf("post stream %s: %w", streamID, perr)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return streamID, fmt.Errorf("read stream %s: %w", streamID, err)
		}
	}

	if err := s.PostMessage(ctx, &Stream{StreamID: streamID, End: true}); err != nil {
		return streamID, fmt.Errorf("end stream %s: %w", streamID, err)
	}
	return streamID, nil
}

type pendingStream struct {
	data []byte
	done chan struct{}
}

// StreamBuffer assembles the Stream messages a session receives, keyed
// by stream id.
type StreamBuffer struct {
	mu      sync.Mutex
	streams map[string]*pendingStream
	remove  func()
	closed  <-chan struct{}
}

// NewStreamBuffer starts collecting streams arriving on s
func NewStreamBuffer(s *Session) *StreamBuffer {
	b := &StreamBuffer{streams: make(map[string]*pendingStream), closed: s.Done()}
	b.remove = s.OnStream(b.add)
	return b
}

func (b *StreamBuffer) entry(streamID string) *pendingStream {
	p, ok := b.streams[streamID]
	if !ok {
		p = &pendingStream{done: make(chan struct{})}
		b.streams[streamID] = p
	}
	return p
}

func (b *StreamBuffer) add(m *Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.entry(m.StreamID)
	select {
	case <-p.done:
		return
	default:
	}
	p.data = append(p.data, m.Chunk...)
	if m.End {
		close(p.done)
	}
}

// Wait returns the full body of streamID once its End marker arrived and
// forgets it.
func (b *StreamBuffer) Wait(ctx context.Context, streamID string) ([]byte, error) {
	b.mu.Lock()
	p := b.entry(streamID)
	b.mu.Unlock()

	select {
	case <-p.done:
	case <-b.closed:
		select {
		case <-p.done:
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	b.mu.Lock()
	delete(b.streams, streamID)
	b.mu.Unlock()
	return p.data, nil
}

// Close stops collecting
func (b *StreamBuffer) Close() { b.remove() }
