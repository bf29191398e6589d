// Package ws attaches WebSocket peers to modules.
//
// GET /ipc/{module}?id={peer} upgrades the request to a port and adopts
// it as a session into the module. Text messages carry JSON envelopes and
// binary messages CBOR envelopes; the handshake is the regular endpoint
// handshake, so the peer starts by sending an open lifecycle message.
package ws
