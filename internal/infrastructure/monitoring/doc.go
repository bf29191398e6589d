/*
Package monitoring provides metrics collection for the shell core.

# Overview

Metrics are Prometheus collectors registered on a per-instance registry, so
several shells (or tests) can live in one process. All recording methods are
nil-safe.

# Features

- Gateway HTTP metrics (latency, throughput, size)
- IPC session metrics (active, total)
- Routed request metrics by module and status
- Broker metrics (transport pairs created, live pairs)
- Module lifecycle metrics (bootstraps, running instances)
- Stream frame counters
- WebSocket port gauge

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "fetch.std.dweb")
	// ... route request ...
	timer.Stop(resp.Status)
*/
package monitoring
