/*
Package tracing provides distributed tracing for debugging production issues.

# Overview

This package implements lightweight tracing that follows a request from the
gateway through the module registry into IPC sessions. Trace context travels
as HTTP headers and as headers on IPC request envelopes.

# Features

- Trace context propagation via HTTP headers and envelope headers
- Span creation and management with parent-child relationships
- Automatic trace ID generation
- Gin middleware for automatic instrumentation
- Structured logging integration
- Low overhead with buffered span collection

# Usage

	// Create tracer
	tracer := tracing.New("shell", logger)
	defer tracer.Close()

	// HTTP middleware
	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual span creation around a routed request
	span, ctx := tracer.StartSpan(ctx, "ipc.fetch")
	defer tracer.Submit(span)

	span.SetTag("module", "fetch.std.dweb")
	tracing.InjectTraceContext(ctx, req.Header)

# Trace Format

Traces use standard HTTP headers for propagation:
- X-Trace-ID: Unique identifier for entire request flow
- X-Span-ID: Identifier for current operation

# Performance

The tracing system is designed for minimal overhead:
- Buffered span collection (1000 spans)
- Async span processing
- Structured logging integration
*/
package tracing
