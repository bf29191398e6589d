// Package middleware provides the HTTP middleware of the gateway.
//
// Middleware stack includes:
//   - CORS: cross-origin resource sharing; module pages run on their own origins
//   - RateLimit: per-IP token bucket rate limiting with idle client eviction
//   - GlobalRateLimit: one token bucket for every client
//   - Compress: gzip responses, bypassed for WebSocket upgrades
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.RateLimitFromConfig(cfg.RateLimit)))
//	handler, err := middleware.Compress(router, 0)
package middleware
