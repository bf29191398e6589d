package middleware

import (
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzhttp"
)

// DefaultCompressMinSize is the smallest response body worth compressing.
const DefaultCompressMinSize = 1024

// Compress gzips responses of next. WebSocket upgrades bypass the
// wrapper because the connection is hijacked.
func Compress(next http.Handler, minSize int) (http.Handler, error) {
	if minSize <= 0 {
		minSize = DefaultCompressMinSize
	}
	wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(minSize))
	if err != nil {
		return nil, err
	}
	gz := wrap(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	}), nil
}

// IsUpgrade reports whether r asks to switch to the WebSocket protocol.
func IsUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
