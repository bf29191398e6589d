package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/dwebshell/core/internal/domain/module"
	"github.com/dwebshell/core/internal/infrastructure/monitoring"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/ipc/stream"
	"github.com/dwebshell/core/internal/shared/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

// Options configures process modules
type Options struct {
	MaxFrameSize int
	// StopTimeout bounds the wait for the child after its stdin is closed
	StopTimeout time.Duration
	Metrics     *monitoring.Metrics
}

func (o Options) withDefaults() Options {
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = stream.DefaultMaxFrameSize
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	return o
}

// NewFactory returns a factory spawning one process per running instance
func NewFactory(spec *Spec, opts Options) module.Factory {
	opts = opts.withDefaults()
	return module.NewFactory(spec.Module, func() module.Module {
		return &Module{spec: spec, opts: opts}
	})
}

// Module runs a child process speaking the framed stream on stdio.
// Each brokered session is bridged to its own channel on the pipe.
type Module struct {
	spec *Spec
	opts Options

	mc       *module.Context
	logger   *zap.Logger
	cmd      *exec.Cmd
	duplex   *stream.Duplex
	exited   chan struct{}
	stopping atomic.Bool
}

func (m *Module) Manifest() types.Manifest { return m.spec.Module.Clone() }

func (m *Module) Bootstrap(ctx context.Context, mc *module.Context) error {
	m.mc = mc
	m.logger = mc.Logger().With(zap.String("command", m.spec.Exec.Command))

	cmd := exec.Command(m.spec.Exec.Command, m.spec.Exec.Args...)
	cmd.Dir = m.spec.Exec.Dir
	cmd.Env = m.spec.Exec.Environ()
	cmd.Stderr = &zapio.Writer{Log: m.logger.Named("stderr"), Level: zapcore.InfoLevel}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	// a plain pipe so reading never races cmd.Wait
	stdout, childOut, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = childOut

	if err := cmd.Start(); err != nil {
		stdout.Close()
		childOut.Close()
		return fmt.Errorf("start %s: %w", m.spec.Exec.Command, err)
	}
	childOut.Close()

	m.cmd = cmd
	m.exited = make(chan struct{})
	m.duplex = stream.NewDuplex(stdin, stream.Options{
		Side:         stream.SideParent,
		MaxFrameSize: m.opts.MaxFrameSize,
		Logger:       m.logger,
		Metrics:      m.opts.Metrics,
	})
	if err := m.duplex.BindIncome(mc.Lifetime(), stdout); err != nil {
		_ = cmd.Process.Kill()
		return err
	}

	mc.OnBeforeShutdown(func(context.Context) { m.stopping.Store(true) })
	m.logger.Info("process started", zap.Int("pid", cmd.Process.Pid))
	go m.wait(stdout)
	return nil
}

func (m *Module) wait(stdout *os.File) {
	err := m.cmd.Wait()
	close(m.exited)
	<-m.duplex.Done()
	stdout.Close()

	if m.stopping.Load() {
		m.logger.Info("process stopped", zap.Error(err))
		return
	}
	m.logger.Warn("process exited", zap.Error(err))
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.StopTimeout)
	defer cancel()
	if err := m.mc.Close(ctx); err != nil {
		m.logger.Warn("failed to close module after exit", zap.Error(err))
	}
}

// Shutdown closes the child's stdin and waits for it to exit,
// killing it after StopTimeout.
func (m *Module) Shutdown(ctx context.Context) error {
	m.stopping.Store(true)
	_ = m.duplex.Close()

	timer := time.NewTimer(m.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-m.exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	m.logger.Warn("killing process")
	if err := m.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill: %w", err)
	}
	<-m.exited
	return nil
}

// BeConnect opens a fresh channel to the child and relays s over it
func (m *Module) BeConnect(ctx context.Context, s *ipc.Session, reason string) error {
	ch, err := m.duplex.Open()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	var protocols []ipc.Protocol
	if m.spec.Module.Protocols.Binary {
		protocols = append(protocols, ipc.ProtocolCBOR)
	}
	child, err := stream.NewSession(ctx, m.mc.Pool(), ch, stream.AttachOptions{
		Local:    HostManifest,
		Remote:   m.spec.Module,
		Endpoint: ipc.EndpointOptions{Protocols: protocols, Logger: m.logger},
	})
	if err != nil {
		_ = ch.Close()
		return err
	}

	bridge(m.mc.Lifetime(), s, child, m.logger)
	m.logger.Debug("bridged session",
		zap.String("caller", s.Remote().ID),
		zap.Uint32("channel", ch.PID()),
		zap.String("reason", reason),
	)

	go func() {
		if err := child.Start(m.mc.Lifetime()); err != nil {
			m.logger.Warn("channel handshake failed", zap.Uint32("channel", ch.PID()), zap.Error(err))
			_ = s.Close(context.Background())
		}
	}()
	return nil
}
