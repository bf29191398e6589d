// Package server hosts the gateway's HTTP listener.
//
// New assembles a gin engine with recovery, tracing, metrics, CORS and
// optional per-IP rate limiting; Start serves it behind gzip compression
// on a background goroutine. Port ":0" binds an ephemeral port, which
// Addr reports after Start.
package server
