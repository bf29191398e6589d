/*
Package ipc implements the message substrate modules use to talk to each other.

# Overview

A Session is a correlation-aware connection between two module identities.
It sits on an Endpoint, which runs the open/close handshake over a
Transport. Sessions created within one execution context are owned by a
Pool so they can be enumerated and torn down together.

	Session  request/response correlation, typed observers, handlers
	Endpoint handshake, protocol negotiation, ordered writes
	Transport native channel pair, framed stream channel, message port

# Messages

Every envelope is one of *Request, *Response, *Event, *Stream, *Lifecycle
or *Error. Request ids are allocated per sending session from 0.

# Handshake

The handshake is always text-first. Start sends Lifecycle{opening} as JSON
with the protocols this side accepts. A side that has started and sees the
peer's opening replies Lifecycle{open}. Receiving open negotiates the
payload protocol (structured > cbor > json, limited to what both sides
advertised) and marks the endpoint ready. Messages posted before ready
wait; they are never dropped.

# Usage

	a, b := ipc.NewChannelPair(64)
	pool := ipc.NewPool("a.dweb", logger)

	s, err := pool.Create(ctx, ipc.NewEndpoint(a, ipc.EndpointOptions{}), ipc.SessionOptions{
		Local:     localManifest,
		Remote:    remoteManifest,
		AutoStart: true,
	})
	resp, err := s.Fetch(ctx, "GET", "file://b.dweb/ping", nil)
*/
package ipc
