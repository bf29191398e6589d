package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dwebshell/core/internal/infrastructure/config"
	"github.com/dwebshell/core/internal/infrastructure/resilience"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrUnsupportedScheme is returned for targets that are not http or https
var ErrUnsupportedScheme = errors.New("fetch: unsupported scheme")

// hop-by-hop headers are never forwarded
var hopHeaders = map[string]bool{
	"Connection":        true,
	"Host":              true,
	"Keep-Alive":        true,
	"Proxy-Connection":  true,
	"Te":                true,
	"Trailer":           true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	ipc.StreamHeader:    true,
}

// ClientOptions configures the outbound client
type ClientOptions struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RPS limits outbound requests per second; zero means unlimited
	RPS       float64
	UserAgent string
	// Breaker applies to each upstream host separately
	Breaker resilience.Settings
	Logger  *zap.Logger
}

// DefaultClientOptions returns production defaults
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:      30 * time.Second,
		RetryMax:     3,
		RetryWaitMin: time.Second,
		RetryWaitMax: 30 * time.Second,
		RPS:          10,
		UserAgent:    "dweb-fetch/1.0",
		Breaker: resilience.Settings{
			MaxRequests: 5,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				// external hosts vary in reliability
				return counts.ConsecutiveFailures >= 10 ||
					(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
			},
		},
	}
}

// ClientOptionsFromConfig maps configuration onto the defaults
func ClientOptionsFromConfig(cfg config.FetchConfig) ClientOptions {
	opts := DefaultClientOptions()
	opts.Timeout = cfg.Timeout
	opts.RetryMax = cfg.RetryMax
	opts.RPS = cfg.RPS
	return opts
}

// Client performs outbound HTTP requests for IPC requests
type Client struct {
	resty    *resty.Client
	limiter  *rate.Limiter
	breakers *resilience.Set
	logger   *zap.Logger
}

// upstreamError marks a 5xx answer so the breaker counts it as a failure
type upstreamError struct {
	resp *resty.Response
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("upstream answered %d", e.resp.StatusCode())
}

// NewClient builds a resty client over a retrying transport
func NewClient(opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = opts.RetryWaitMax
	}
	retryClient.Logger = leveledLogger{logger.Sugar()}
	// hand the last answer back instead of a "giving up" error
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.New().
		SetTransport(retryClient.StandardClient().Transport).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), max(1, int(opts.RPS)))
	}

	return &Client{
		resty:    restyClient,
		limiter:  limiter,
		breakers: resilience.NewSet(opts.Breaker),
		logger:   logger,
	}
}

// Breakers reports the breaker state per upstream host
func (c *Client) Breakers() map[string]resilience.State {
	return c.breakers.States()
}

// Do sends req to target and maps the answer onto a response for req.
// Upstream failures become 502 responses and an open breaker a 503;
// only a cancelled ctx is returned as an error.
func (c *Client) Do(ctx context.Context, target string, req *ipc.Request) (*ipc.Response, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, ipc.NewStatusError(http.StatusBadRequest, "invalid url %q: %v", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ipc.NewStatusError(http.StatusBadRequest, "%v: %q", ErrUnsupportedScheme, u.Scheme)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	r := c.resty.R().SetContext(ctx)
	for k, v := range req.Header {
		if !hopHeaders[http.CanonicalHeaderKey(k)] {
			r.SetHeader(k, v)
		}
	}
	if len(req.Body) > 0 {
		r.SetBody(req.Body)
	}

	breaker := c.breakers.Get(u.Host)
	resp, err := resilience.Call(breaker, func() (*resty.Response, error) {
		resp, err := r.Execute(req.Method, u.String())
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return resp, &upstreamError{resp: resp}
		}
		return resp, nil
	})

	var upstream *upstreamError
	switch {
	case errors.As(err, &upstream):
		resp = upstream.resp
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		c.logger.Warn("upstream unavailable", zap.String("host", u.Host), zap.Error(err))
		return ipc.ErrorResponse(req, http.StatusServiceUnavailable, "upstream unavailable: "+u.Host), nil
	case err != nil:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("upstream request failed",
			zap.String("method", req.Method),
			zap.String("url", u.Redacted()),
			zap.Error(err),
		)
		return ipc.ErrorResponse(req, http.StatusBadGateway, err.Error()), nil
	}

	out := ipc.NewResponse(req, resp.StatusCode(), resp.Body())
	for k, v := range resp.Header() {
		if len(v) > 0 && !hopHeaders[k] {
			out.Header.Set(k, v[0])
		}
	}

	c.logger.Debug("upstream answered",
		zap.String("method", req.Method),
		zap.String("url", u.Redacted()),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("duration", resp.Time()),
	)
	return out, nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
