package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dwebshell/core/internal/domain/module"
	"github.com/dwebshell/core/internal/infrastructure/logging"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/modules/process"
	"github.com/dwebshell/core/internal/shared/types"
	"go.uber.org/zap"
)

func main() {
	// stdout carries frames; logs go to stderr
	logger, err := logging.New(logging.Config{
		Level:       envOr("LOG_LEVEL", "info"),
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manifest := types.Manifest{
		ID:        envOr("DWEB_MODULE_ID", "echo.proc.dweb"),
		Name:      "Echo",
		Protocols: types.Protocols{Binary: true},
	}

	err = process.Serve(ctx, os.Stdin, os.Stdout, process.WorkerOptions{
		Manifest: manifest,
		Handler:  routes(logger.Logger),
		Binary:   true,
		Logger:   logger.Logger,
	})
	if err != nil {
		logger.Error("Worker stopped", zap.Error(err))
		os.Exit(1)
	}
}

func routes(logger *zap.Logger) *module.Router {
	r := module.NewRouter()
	r.HandleFunc("/echo", func(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
		logger.Debug("echo", zap.String("caller", req.Header.Get(process.CallerHeader)), zap.Int("size", len(req.Body)))
		resp := ipc.NewResponse(req, http.StatusOK, req.Body)
		if ct := req.Header.Get("Content-Type"); ct != "" {
			resp.Header.Set("Content-Type", ct)
		}
		return resp, nil
	})
	r.HandleFunc("/time", func(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
		return ipc.JSONResponse(req, http.StatusOK, map[string]any{
			"now": time.Now().UTC().Format(time.RFC3339Nano),
			"pid": os.Getpid(),
		})
	})
	r.HandleFunc("/ping", func(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
		if err := s.PostMessage(ctx, &ipc.Event{Name: "pong", Data: req.Body}); err != nil {
			return nil, err
		}
		return ipc.NewResponse(req, http.StatusAccepted, nil), nil
	})
	return r
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
