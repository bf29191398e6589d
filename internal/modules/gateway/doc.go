// Package gateway is the system module that serves the shell over HTTP.
//
// Opening gateway.sys.dweb binds the listener; closing it shuts the
// listener down. Routes:
//
//	GET  /health, /metrics, /metrics/json
//	GET  /modules?category=
//	POST /modules/{id}/open, /modules/{id}/close
//	ANY  /m/{module}/{path}   forwarded as file://{module}/{path}
//	ANY  /link?url=           forwarded as-is, e.g. deep links
//	POST /logs                page log batches
//	GET  /ipc/{module}        WebSocket port attached to the module
//
// HTTP-originated requests are sent from gateway.sys.dweb itself, so
// modules that gate access by caller see the gateway as the requester.
package gateway
