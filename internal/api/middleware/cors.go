package middleware

import (
	"net/http"
	"time"

	"github.com/dwebshell/core/internal/infrastructure/config"
	"github.com/dwebshell/core/internal/infrastructure/tracing"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig is the cross-origin policy of the gateway
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// websocketHeaders are sent by pages dialing /ipc/:module
var websocketHeaders = []string{
	"Upgrade",
	"Connection",
	"Sec-WebSocket-Key",
	"Sec-WebSocket-Version",
	"Sec-WebSocket-Protocol",
	"Sec-WebSocket-Extensions",
}

// DefaultCORSConfig lets module pages on any origin reach the gateway.
// Pages may ask for streamed bodies and read back the stream id and the
// trace of each call.
func DefaultCORSConfig() CORSConfig {
	allow := []string{
		"Content-Type",
		"Accept",
		"Origin",
		ipc.StreamHeader,
		tracing.HeaderTraceID,
		tracing.HeaderSpanID,
	}
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:  append(allow, websocketHeaders...),
		ExposeHeaders: []string{ipc.StreamHeader, tracing.HeaderTraceID, tracing.HeaderSpanID},
		MaxAge:        time.Hour,
	}
}

// CORSFromConfig narrows the default policy to the configured origins
func CORSFromConfig(cfg config.ServerConfig) CORSConfig {
	out := DefaultCORSConfig()
	if len(cfg.Origins) > 0 {
		out.AllowOrigins = cfg.Origins
	}
	return out
}

// CORS builds the gin-contrib/cors handler. A wildcard origin cannot be
// combined with credentials, so credentials are dropped in that case.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:     cfg.AllowMethods,
		AllowHeaders:     cfg.AllowHeaders,
		ExposeHeaders:    cfg.ExposeHeaders,
		AllowCredentials: cfg.AllowCredentials,
		AllowWebSockets:  true,
		MaxAge:           cfg.MaxAge,
	}
	if len(cfg.AllowOrigins) == 1 && cfg.AllowOrigins[0] == "*" {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
	} else {
		c.AllowOrigins = cfg.AllowOrigins
	}
	return cors.New(c)
}
