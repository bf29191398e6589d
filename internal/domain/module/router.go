package module

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/dwebshell/core/internal/ipc"
)

// Router dispatches requests by URL path. Patterns are exact paths or
// prefixes ending in "/*". Requests whose URL is not file:// go to the
// deep-link handler.
type Router struct {
	mu       sync.RWMutex
	exact    map[string]ipc.Handler
	prefixes []prefixRoute
	deepLink ipc.Handler
}

type prefixRoute struct {
	prefix  string
	handler ipc.Handler
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{exact: make(map[string]ipc.Handler)}
}

// Handle registers h for pattern
func (r *Router) Handle(pattern string, h ipc.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		r.prefixes = append(r.prefixes, prefixRoute{prefix: prefix, handler: h})
		return
	}
	r.exact[pattern] = h
}

// HandleFunc registers fn for pattern
func (r *Router) HandleFunc(pattern string, fn func(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error)) {
	r.Handle(pattern, ipc.HandlerFunc(fn))
}

// DeepLink registers h for requests addressed by deep link
func (r *Router) DeepLink(h ipc.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deepLink = h
}

// ServeIPC implements ipc.Handler
func (r *Router) ServeIPC(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
	u, err := req.ParseURL()
	if err != nil {
		return nil, ipc.NewStatusError(http.StatusBadRequest, "%v", err)
	}

	h := r.match(u.Scheme, u.Path)
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ipc.ErrNotFound, req.URL)
	}
	return h.ServeIPC(ctx, s, req)
}

func (r *Router) match(scheme, path string) ipc.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if scheme != "file" {
		return r.deepLink
	}
	if path == "" {
		path = "/"
	}
	if h, ok := r.exact[path]; ok {
		return h
	}

	// longest prefix wins
	var best ipc.Handler
	bestLen := -1
	for _, route := range r.prefixes {
		if strings.HasPrefix(path, route.prefix) && len(route.prefix) > bestLen {
			best, bestLen = route.handler, len(route.prefix)
		}
	}
	return best
}
