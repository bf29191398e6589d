package ipc

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/fxamacker/cbor/v2"
)

// envelope is the flat wire form of every Message.
// The cbor codec reads the json tags.
type envelope struct {
	Type      Kind           `json:"type"`
	ReqID     *uint64        `json:"req_id,omitempty"`
	Method    string         `json:"method,omitempty"`
	URL       string         `json:"url,omitempty"`
	Headers   Header         `json:"headers,omitempty"`
	Status    int            `json:"status,omitempty"`
	Body      []byte         `json:"body,omitempty"`
	Name      string         `json:"name,omitempty"`
	Data      []byte         `json:"data,omitempty"`
	Encoding  string         `json:"encoding,omitempty"`
	StreamID  string         `json:"stream_id,omitempty"`
	Chunk     []byte         `json:"chunk,omitempty"`
	End       bool           `json:"end,omitempty"`
	State     LifecycleState `json:"state,omitempty"`
	Protocols []Protocol     `json:"protocols,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Code      int            `json:"code,omitempty"`
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	if cborEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if cborDec, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

func toEnvelope(msg Message) (*envelope, error) {
	env := &envelope{Type: msg.Kind()}
	switch m := msg.(type) {
	case *Request:
		reqID := m.ReqID
		env.ReqID = &reqID
		env.Method = m.Method
		env.URL = m.URL
		env.Headers = m.Header
		env.Body = m.Body
	case *Response:
		reqID := m.ReqID
		env.ReqID = &reqID
		env.Status = m.Status
		env.Headers = m.Header
		env.Body = m.Body
	case *Event:
		env.Name = m.Name
		env.Data = m.Data
		env.Encoding = m.Encoding
	case *Stream:
		env.StreamID = m.StreamID
		env.Chunk = m.Chunk
		env.End = m.End
	case *Lifecycle:
		env.State = m.State
		env.Protocols = m.Protocols
	case *Error:
		env.ReqID = m.ReqID
		env.Reason = m.Reason
		env.Code = m.Code
	default:
		return nil, fmt.Errorf("%w: unknown message type %T", ErrProtocolViolation, msg)
	}
	return env, nil
}

func fromEnvelope(env *envelope) (Message, error) {
	switch env.Type {
	case KindRequest:
		if env.ReqID == nil {
			return nil, fmt.Errorf("%w: request without req_id", ErrProtocolViolation)
		}
		return &Request{ReqID: *env.ReqID, Method: env.Method, URL: env.URL, Header: env.Headers, Body: env.Body}, nil
	case KindResponse:
		if env.ReqID == nil {
			return nil, fmt.Errorf("%w: response without req_id", ErrProtocolViolation)
		}
		return &Response{ReqID: *env.ReqID, Status: env.Status, Header: env.Headers, Body: env.Body}, nil
	case KindEvent:
		return &Event{Name: env.Name, Data: env.Data, Encoding: env.Encoding}, nil
	case KindStream:
		return &Stream{StreamID: env.StreamID, Chunk: env.Chunk, End: env.End}, nil
	case KindLifecycle:
		return &Lifecycle{State: env.State, Protocols: env.Protocols}, nil
	case KindError:
		return &Error{ReqID: env.ReqID, Reason: env.Reason, Code: env.Code}, nil
	default:
		return nil, fmt.Errorf("%w: unknown envelope type %q", ErrProtocolViolation, env.Type)
	}
}

// MarshalJSON encodes msg as a JSON envelope
func MarshalJSON(msg Message) ([]byte, error) {
	env, err := toEnvelope(msg)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(env)
}

// UnmarshalJSON decodes a JSON envelope
func UnmarshalJSON(data []byte) (Message, error) {
	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: decode json envelope: %v", ErrProtocolViolation, err)
	}
	return fromEnvelope(&env)
}

// MarshalCBOR encodes msg as a CBOR envelope
func MarshalCBOR(msg Message) ([]byte, error) {
	env, err := toEnvelope(msg)
	if err != nil {
		return nil, err
	}
	return cborEnc.Marshal(env)
}

// UnmarshalCBOR decodes a CBOR envelope
func UnmarshalCBOR(data []byte) (Message, error) {
	var env envelope
	if err := cborDec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: decode cbor envelope: %v", ErrProtocolViolation, err)
	}
	return fromEnvelope(&env)
}

// Encode turns msg into a frame for protocol p
func Encode(msg Message, p Protocol) (Frame, error) {
	switch p {
	case ProtocolStructured:
		return Frame{Kind: FrameObject, Object: msg}, nil
	case ProtocolCBOR:
		data, err := MarshalCBOR(msg)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameBinary, Data: data}, nil
	default:
		data, err := MarshalJSON(msg)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameText, Data: data}, nil
	}
}

// Decode turns a received frame back into a message. The frame kind,
// not the negotiated protocol, selects the decoder.
func Decode(f Frame) (Message, error) {
	switch f.Kind {
	case FrameText:
		return UnmarshalJSON(f.Data)
	case FrameBinary:
		return UnmarshalCBOR(f.Data)
	case FrameObject:
		if f.Object == nil {
			return nil, fmt.Errorf("%w: empty object frame", ErrProtocolViolation)
		}
		return f.Object, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame kind %d", ErrProtocolViolation, f.Kind)
	}
}
