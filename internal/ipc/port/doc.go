// Package port carries IPC sessions over WebSocket connections, the
// message port a host such as a browser page offers.
//
// One WebSocket message holds one envelope: text messages JSON, binary
// messages CBOR. The gateway upgrades /ipc/:module requests with Upgrade
// and hands the Port to the registry as an attached transport; Dial is
// the client side.
package port
