package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dwebshell/core/internal/domain/registry"
	"github.com/dwebshell/core/internal/infrastructure/config"
	"github.com/dwebshell/core/internal/infrastructure/logging"
	"github.com/dwebshell/core/internal/infrastructure/monitoring"
	"github.com/dwebshell/core/internal/infrastructure/server"
	"github.com/dwebshell/core/internal/infrastructure/tracing"
	"github.com/dwebshell/core/internal/ipc/port"
	"github.com/dwebshell/core/internal/modules/fetch"
	"github.com/dwebshell/core/internal/modules/gateway"
	"github.com/dwebshell/core/internal/modules/permission"
	"github.com/dwebshell/core/internal/modules/process"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	manifestDir := flag.String("manifests", "", "Directory of process module manifests (overrides REGISTRY_MANIFEST_DIR)")
	listenPort := flag.String("port", "", "Gateway port (overrides PORT)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *manifestDir != "" {
		cfg.Registry.ManifestDir = *manifestDir
	}
	if *listenPort != "" {
		cfg.Server.Port = *listenPort
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Shell stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Initializing dweb shell",
		zap.String("port", cfg.Server.Port),
		zap.String("manifest_dir", cfg.Registry.ManifestDir),
		zap.Strings("boot", cfg.Registry.Boot),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("shell", logger.Component("tracing"))
	defer tracer.Close()

	reg := registry.New(registry.OptionsFromConfig(cfg), logger.Component("registry"), metrics)

	if err := install(reg, cfg, metrics, tracer, logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, moduleID := range cfg.Registry.Boot {
		if _, err := reg.Open(ctx, moduleID); err != nil {
			logger.Error("Failed to open boot module", zap.String("module", moduleID), zap.Error(err))
			continue
		}
		logger.Info("Opened boot module", zap.String("module", moduleID))
	}

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return reg.Shutdown(shutdownCtx)
}

func install(reg *registry.Registry, cfg *config.Config, metrics *monitoring.Metrics, tracer *tracing.Tracer, logger *logging.Logger) error {
	store := permission.NewStore(permission.PolicyFromConfig(cfg.Permission))
	if err := reg.Install(permission.NewFactory(store)); err != nil {
		return err
	}

	clientOpts := fetch.ClientOptionsFromConfig(cfg.Fetch)
	clientOpts.Logger = logger.Component("fetch")
	if err := reg.Install(fetch.NewFactory(fetch.NewClient(clientOpts))); err != nil {
		return err
	}

	if err := reg.Install(gateway.NewFactory(reg, gateway.Options{
		Server: server.ConfigFrom(cfg),
		Port: port.Options{
			ReadLimit: int64(cfg.IPC.MaxFrameSize),
			Buffer:    cfg.IPC.ChannelBuffer,
			Logger:    logger.Component("port"),
		},
		Metrics: metrics,
		Tracer:  tracer,
	})); err != nil {
		return err
	}

	seeder := process.NewSeeder(reg, cfg.Registry.ManifestDir, process.Options{
		MaxFrameSize: cfg.IPC.MaxFrameSize,
		Metrics:      metrics,
	}, logger.Component("seeder"))
	if _, err := seeder.Seed(); err != nil {
		logger.Warn("Failed to seed process modules", zap.Error(err))
	}
	return nil
}
