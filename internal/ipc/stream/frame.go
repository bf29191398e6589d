package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Kind tags the payload of one frame
type Kind uint8

const (
	// KindClose tells the peer a channel is gone; it has no data
	KindClose Kind = 0
	// KindText carries a JSON envelope
	KindText Kind = 1
	// KindBinary carries a CBOR envelope
	KindBinary Kind = 2
)

const (
	lengthSize = 4
	headerSize = 4 + 1 // pid + kind

	// DefaultMaxFrameSize bounds one frame payload
	DefaultMaxFrameSize = 16 << 20
)

var (
	// ErrFrameTooLarge is returned when a length prefix exceeds the limit
	ErrFrameTooLarge = errors.New("stream: frame too large")
	// ErrShortFrame is returned when a length prefix is smaller than the header
	ErrShortFrame = errors.New("stream: frame shorter than header")
)

// Frame is one decoded unit of the byte stream
type Frame struct {
	PID  uint32
	Kind Kind
	Data []byte
}

// AppendFrame appends the wire form of f to dst:
// uint32 LE length, then uint32 LE pid, uint8 kind and data.
func AppendFrame(dst []byte, f Frame) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(headerSize+len(f.Data)))
	dst = binary.LittleEndian.AppendUint32(dst, f.PID)
	dst = append(dst, byte(f.Kind))
	return append(dst, f.Data...)
}

// WriteFrame writes f with a single Write call
func WriteFrame(w io.Writer, f Frame) error {
	buf := AppendFrame(make([]byte, 0, lengthSize+headerSize+len(f.Data)), f)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame. It returns io.EOF only when the
// stream ends cleanly between frames.
func ReadFrame(r io.Reader, maxSize int) (Frame, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var prefix [lengthSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Frame{}, err
	}

	size := binary.LittleEndian.Uint32(prefix[:])
	if size < headerSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, size)
	}
	if uint64(size) > uint64(maxSize) {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, maxSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	f := Frame{
		PID:  binary.LittleEndian.Uint32(payload[:4]),
		Kind: Kind(payload[4]),
	}
	if len(payload) > headerSize {
		f.Data = payload[headerSize:]
	}
	return f, nil
}
