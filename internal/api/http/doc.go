// Package http holds the gin handlers of the gateway module.
//
// Routes:
//
//	GET  /health                 liveness and running module count
//	GET  /metrics                Prometheus exposition
//	GET  /metrics/json           snapshot for dashboards
//	GET  /modules?category=      installed modules
//	POST /modules/:id/open       start a module
//	POST /modules/:id/close      stop a module
//	ANY  /m/:module/*path        fetch file://{module}/{path}
//	ANY  /link?url=              fetch a deep link or http(s) URL
//	POST /logs                   log lines from module pages
//
// Module answers are copied onto the HTTP response as is. Routing
// failures carry a {"error": "..."} body.
package http
