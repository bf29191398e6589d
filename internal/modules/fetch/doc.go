// Package fetch implements fetch.std.dweb, the module that answers http:
// and https: deep links by performing the request upstream.
//
// The client is resty over a retryablehttp transport, guarded by a token
// bucket limiter and one circuit breaker per upstream host. Upstream
// answers, including 4xx and 5xx, are returned as responses. Transport
// failures answer 502 and an open breaker answers 503.
package fetch
