// Package id provides centralized ID generation for the shell core.
//
// IDs are ULIDs with a short type prefix so they stay sortable by creation
// time and readable in logs:
//   - sess_*: one IPC session
//   - pool_*: one session pool (execution context)
//   - inst_*: one running module instance
//   - ep_*:   one endpoint
//   - trace_*, span_*: tracing
//
// Stream ids use UUIDs (see NewStreamID) because they travel inside
// envelopes produced by foreign peers that only know UUIDs.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// SessionID identifies an IPC session
type SessionID string

// PoolID identifies a session pool
type PoolID string

// InstanceID identifies one running module instance
type InstanceID string

// EndpointID identifies an endpoint
type EndpointID string

// TraceID identifies a trace
type TraceID string

// SpanID identifies a span within a trace
type SpanID string

const (
	SessionPrefix  = "sess"
	PoolPrefix     = "pool"
	InstancePrefix = "inst"
	EndpointPrefix = "ep"
	TracePrefix    = "trace"
	SpanPrefix     = "span"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewPoolID generates a new pool ID
func NewPoolID() PoolID {
	return PoolID(Default().GenerateWithPrefix(PoolPrefix))
}

// NewInstanceID generates a new instance ID
func NewInstanceID() InstanceID {
	return InstanceID(Default().GenerateWithPrefix(InstancePrefix))
}

// NewEndpointID generates a new endpoint ID
func NewEndpointID() EndpointID {
	return EndpointID(Default().GenerateWithPrefix(EndpointPrefix))
}

// NewTraceID generates a new trace ID
func NewTraceID() TraceID {
	return TraceID(Default().GenerateWithPrefix(TracePrefix))
}

// NewSpanID generates a new span ID
func NewSpanID() SpanID {
	return SpanID(Default().GenerateWithPrefix(SpanPrefix))
}

// NewStreamID generates a stream id for Stream envelopes
func NewStreamID() string {
	return uuid.NewString()
}

func (id SessionID) String() string  { return string(id) }
func (id PoolID) String() string     { return string(id) }
func (id InstanceID) String() string { return string(id) }
func (id EndpointID) String() string { return string(id) }
func (id TraceID) String() string    { return string(id) }
func (id SpanID) String() string     { return string(id) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Parse parses a ULID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// Timestamp extracts the timestamp from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
