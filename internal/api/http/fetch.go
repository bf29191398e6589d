package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/dwebshell/core/internal/infrastructure/tracing"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

// hop-by-hop headers stay on this connection
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Content-Length":      true,
	"Keep-Alive":          true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// ModuleFetch forwards /m/{module}/{path}?{query} to file://{module}/{path}?{query}
func (h *Handlers) ModuleFetch(c *gin.Context) {
	target := "file://" + c.Param("module") + c.Param("path")
	if q := c.Request.URL.RawQuery; q != "" {
		target += "?" + q
	}
	h.forward(c, target)
}

// Link forwards the deep link or URL given in ?url=
func (h *Handlers) Link(c *gin.Context) {
	target := c.Query("url")
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	h.forward(c, target)
}

func (h *Handlers) forward(c *gin.Context, target string) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := ipc.NewRequest(c.Request.Method, target, body)
	for k, v := range c.Request.Header {
		if len(v) > 0 && !hopHeaders[k] {
			req.Header.Set(k, v[0])
		}
	}
	tracing.InjectTraceContext(c.Request.Context(), req.Header)

	resp, err := h.shell.Fetch(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	writeResponse(c, resp)
}

// writeResponse copies resp onto the HTTP response, sniffing the
// content type when the module did not set one
func writeResponse(c *gin.Context, resp *ipc.Response) {
	for k, v := range resp.Header {
		if !hopHeaders[k] {
			c.Header(k, v)
		}
	}
	if len(resp.Body) == 0 {
		c.Status(resp.Status)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mimetype.Detect(resp.Body).String()
	}
	c.Data(resp.Status, contentType, resp.Body)
}
