package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dwebshell/core/internal/api/middleware"
	"github.com/dwebshell/core/internal/infrastructure/config"
	"github.com/dwebshell/core/internal/infrastructure/monitoring"
	"github.com/dwebshell/core/internal/infrastructure/tracing"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Config configures the HTTP server
type Config struct {
	Host        string
	Port        string
	Development bool

	RateLimitEnabled bool
	RateLimit        middleware.RateLimitConfig
	CORS             middleware.CORSConfig
	CompressMinSize  int

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// DefaultConfig returns a server on :8000 with rate limiting on
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              "8000",
		RateLimitEnabled:  true,
		RateLimit:         middleware.DefaultRateLimitConfig(),
		CORS:              middleware.DefaultCORSConfig(),
		CompressMinSize:   middleware.DefaultCompressMinSize,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// ConfigFrom maps shell configuration onto a server Config
func ConfigFrom(cfg *config.Config) Config {
	out := DefaultConfig()
	out.Host = cfg.Server.Host
	out.Port = cfg.Server.Port
	out.Development = cfg.Logging.Development
	out.RateLimitEnabled = cfg.RateLimit.Enabled
	out.RateLimit = middleware.RateLimitFromConfig(cfg.RateLimit)
	out.CORS = middleware.CORSFromConfig(cfg.Server)
	return out
}

// Addr is the host:port the server listens on
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Server wraps the gin router and its HTTP listener
type Server struct {
	cfg     Config
	router  *gin.Engine
	http    *http.Server
	logger  *zap.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer

	// ownTracer is set when New created the tracer and Shutdown closes it
	ownTracer bool

	mu       sync.Mutex
	listener net.Listener
	err      error
	done     chan struct{}
}

// New builds the router with the standard middleware chain. Routes are
// added through Router before Start.
func New(cfg Config, metrics *monitoring.Metrics, tracer *tracing.Tracer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ownTracer := tracer == nil
	if ownTracer {
		tracer = tracing.New("gateway", logger)
	}

	if len(cfg.CORS.AllowOrigins) == 0 {
		cfg.CORS = middleware.DefaultCORSConfig()
	}

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(cfg.CORS))
	if cfg.RateLimitEnabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	return &Server{
		cfg:       cfg,
		router:    router,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		ownTracer: ownTracer,
		done:      make(chan struct{}),
	}
}

// Router exposes the engine for route registration
func (s *Server) Router() gin.IRouter { return s.router }

// Handler returns the full handler chain including compression
func (s *Server) Handler() (http.Handler, error) {
	return middleware.Compress(s.router, s.cfg.CompressMinSize)
}

// Start binds the listener and serves in the background. A bind error is
// returned directly; later failures end up in Err.
func (s *Server) Start() error {
	handler, err := s.Handler()
	if err != nil {
		return fmt.Errorf("build handler: %w", err)
	}

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}

	s.mu.Lock()
	s.listener = ln
	s.http = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	srv := s.http
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))

	go func() {
		defer close(s.done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr()
}

// Done is closed once the server stopped serving
func (s *Server) Done() <-chan struct{} { return s.done }

// Err returns why serving stopped; nil after Shutdown
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Hijacked connections are not tracked; their sessions close separately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if s.ownTracer {
		defer s.tracer.Close()
	}
	if srv == nil {
		return nil
	}

	s.logger.Info("Shutting down HTTP server...")
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return err
}
