package registry

import (
	"context"
	"net/http"
	"net/url"

	"github.com/dwebshell/core/internal/infrastructure/monitoring"
	"github.com/dwebshell/core/internal/infrastructure/tracing"
	"github.com/dwebshell/core/internal/ipc"
	"go.uber.org/zap"
)

// Fetch routes req on behalf of module from.
//
// file://{id}/path goes to the installed module id, or answers 502 when
// there is none. Any other URL goes to the first module, in registration
// order, advertising a matching deep-link prefix, or answers 404.
// A 401 answer triggers one permission request and, when granted, one
// retry; the second answer is returned as is.
func (r *Registry) Fetch(ctx context.Context, from string, req *ipc.Request) (*ipc.Response, error) {
	inst, err := r.Open(ctx, from)
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, inst, req)
}

func (r *Registry) fetch(ctx context.Context, fromInst *Instance, req *ipc.Request) (*ipc.Response, error) {
	target, resp := r.resolve(req)
	if resp != nil {
		return resp, nil
	}

	resp, err := r.send(ctx, fromInst, target, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusUnauthorized || target == r.opts.PermissionModule {
		return resp, nil
	}

	if !r.requestPermission(ctx, fromInst, target, req) {
		return resp, nil
	}
	return r.send(ctx, fromInst, target, req)
}

// resolve finds the module addressed by req. A non-nil response means
// the request cannot be routed.
func (r *Registry) resolve(req *ipc.Request) (string, *ipc.Response) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return "", ipc.ErrorResponse(req, http.StatusBadRequest, err.Error())
	}

	if u.Scheme == "file" {
		if !r.IsInstalled(u.Host) {
			return "", ipc.ErrorResponse(req, http.StatusBadGateway, "no such module: "+u.Host)
		}
		return u.Host, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, moduleID := range r.order {
		if _, ok := r.installed[moduleID].Manifest().MatchDeepLink(req.URL); ok {
			return moduleID, nil
		}
	}
	return "", ipc.ErrorResponse(req, http.StatusNotFound, "no module handles "+req.URL)
}

func (r *Registry) send(ctx context.Context, fromInst *Instance, target string, req *ipc.Request) (*ipc.Response, error) {
	if target == fromInst.ModuleID() {
		return ipc.ErrorResponse(req, http.StatusLoopDetected, "module cannot fetch itself"), nil
	}

	if r.opts.Tracer != nil {
		span, spanCtx := r.opts.Tracer.StartSpan(ctx, "registry.fetch")
		span.SetTag("from", fromInst.ModuleID())
		span.SetTag("to", target)
		ctx = spanCtx
		defer r.opts.Tracer.Submit(span)
	}

	pair, err := r.connect(ctx, fromInst, target, "fetch")
	if err != nil {
		return nil, err
	}

	out := req.Clone()
	if out.Header == nil {
		out.Header = ipc.Header{}
	}
	tracing.InjectTraceContext(ctx, out.Header)

	timer := monitoring.NewTimer(r.metrics, target)
	resp, err := pair.Local.Request(ctx, out)
	if err != nil {
		timer.Stop(ipc.StatusFor(err))
		return nil, err
	}
	timer.Stop(resp.Status)
	return resp, nil
}

func (r *Registry) requestPermission(ctx context.Context, fromInst *Instance, target string, req *ipc.Request) bool {
	perm := r.opts.PermissionModule
	if perm == "" || perm == fromInst.ModuleID() || !r.IsInstalled(perm) {
		return false
	}

	query := url.Values{
		"target":    {target},
		"requester": {fromInst.ModuleID()},
		"url":       {req.URL},
	}
	grant, err := r.send(ctx, fromInst, perm, ipc.NewRequest(http.MethodGet, "file://"+perm+"/request?"+query.Encode(), nil))
	if err != nil {
		r.logger.Warn("permission request failed",
			zap.String("requester", fromInst.ModuleID()),
			zap.String("target", target),
			zap.Error(err),
		)
		return false
	}

	r.logger.Debug("permission answered",
		zap.String("requester", fromInst.ModuleID()),
		zap.String("target", target),
		zap.Int("status", grant.Status),
	)
	return grant.OK()
}
