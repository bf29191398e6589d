package ipc

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
)

// Kind tags an envelope on the wire
type Kind string

const (
	KindRequest   Kind = "request"
	KindResponse  Kind = "response"
	KindEvent     Kind = "event"
	KindStream    Kind = "stream"
	KindLifecycle Kind = "lifecycle"
	KindError     Kind = "error"
)

// LifecycleState is carried by Lifecycle messages during the handshake
type LifecycleState string

const (
	LifecycleOpening LifecycleState = "opening"
	LifecycleOpen    LifecycleState = "open"
	LifecycleClosing LifecycleState = "closing"
	LifecycleClosed  LifecycleState = "closed"
)

// Message is one envelope exchanged over a Session. The set of
// implementations is closed: *Request, *Response, *Event, *Stream,
// *Lifecycle and *Error.
type Message interface {
	Kind() Kind
	sealed()
}

// Header holds HTTP-shaped envelope headers with canonical keys
type Header map[string]string

// Get returns the value for key, ignoring case
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[http.CanonicalHeaderKey(key)]
}

// Set stores value under the canonical form of key
func (h Header) Set(key, value string) {
	h[http.CanonicalHeaderKey(key)] = value
}

// Clone returns a copy of h
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Request is an HTTP-shaped call. ReqID is assigned by the sending Session.
type Request struct {
	ReqID  uint64
	Method string
	URL    string
	Header Header
	Body   []byte
}

// Response answers the Request with the same ReqID
type Response struct {
	ReqID  uint64
	Status int
	Header Header
	Body   []byte
}

// Event is a fire-and-forget named notification
type Event struct {
	Name     string
	Data     []byte
	Encoding string
}

// Stream carries one chunk of a logical stream, or its end
type Stream struct {
	StreamID string
	Chunk    []byte
	End      bool
}

// Lifecycle drives the endpoint handshake and advertises protocols
type Lifecycle struct {
	State     LifecycleState
	Protocols []Protocol
}

// Error reports a failure, optionally tied to a request
type Error struct {
	ReqID  *uint64
	Reason string
	Code   int
}

func (*Request) Kind() Kind   { return KindRequest }
func (*Response) Kind() Kind  { return KindResponse }
func (*Event) Kind() Kind     { return KindEvent }
func (*Stream) Kind() Kind    { return KindStream }
func (*Lifecycle) Kind() Kind { return KindLifecycle }
func (*Error) Kind() Kind     { return KindError }

func (*Request) sealed()   {}
func (*Response) sealed()  {}
func (*Event) sealed()     {}
func (*Stream) sealed()    {}
func (*Lifecycle) sealed() {}
func (*Error) sealed()     {}

// NewRequest builds a request with an empty header set
func NewRequest(method, rawURL string, body []byte) *Request {
	if method == "" {
		method = http.MethodGet
	}
	return &Request{Method: strings.ToUpper(method), URL: rawURL, Header: Header{}, Body: body}
}

// ParseURL parses the request URL
func (r *Request) ParseURL() (*url.URL, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("parse request url %q: %w", r.URL, err)
	}
	return u, nil
}

// Query returns one query parameter of the request URL
func (r *Request) Query(key string) string {
	u, err := r.ParseURL()
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}

// Clone returns a copy of r that shares no maps with it
func (r *Request) Clone() *Request {
	c := *r
	c.Header = r.Header.Clone()
	return &c
}

// NewResponse builds a response for req
func NewResponse(req *Request, status int, body []byte) *Response {
	resp := &Response{Status: status, Header: Header{}, Body: body}
	if req != nil {
		resp.ReqID = req.ReqID
	}
	return resp
}

// JSONResponse encodes v as the body of a response for req
func JSONResponse(req *Request, status int, v any) (*Response, error) {
	body, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response body: %w", err)
	}
	resp := NewResponse(req, status, body)
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}

// ErrorResponse builds a {"error": reason} response for req
func ErrorResponse(req *Request, status int, reason string) *Response {
	resp, err := JSONResponse(req, status, map[string]string{"error": reason})
	if err != nil {
		return NewResponse(req, status, []byte(reason))
	}
	return resp
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// DecodeJSON decodes the response body into v
func (r *Response) DecodeJSON(v any) error {
	if err := sonic.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}
