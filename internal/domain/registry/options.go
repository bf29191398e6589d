package registry

import (
	"time"

	"github.com/dwebshell/core/internal/infrastructure/config"
	"github.com/dwebshell/core/internal/infrastructure/tracing"
	"github.com/dwebshell/core/internal/ipc"
)

// DNSModuleID is the id under which the registry serves itself
const DNSModuleID = "dns.std.dweb"

// Options configures a Registry
type Options struct {
	// Binary and Structured gate the upgrades offered on brokered endpoints
	Binary     bool
	Structured bool
	// Duplex seeds the reverse pair so connect(b,a) reuses connect(a,b)
	Duplex           bool
	ChannelBuffer    int
	CloseTimeout     time.Duration
	PermissionModule string
	// TransportPair creates brokered channels; defaults to ipc.NewChannelPair
	TransportPair ipc.TransportPairFunc
	Tracer        *tracing.Tracer
}

// DefaultOptions returns the options used when no configuration is given
func DefaultOptions() Options {
	return Options{
		Binary:           true,
		Structured:       true,
		Duplex:           true,
		ChannelBuffer:    64,
		CloseTimeout:     2 * time.Second,
		PermissionModule: "permission.std.dweb",
	}
}

// OptionsFromConfig maps shell configuration onto registry options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Binary:           cfg.IPC.Binary,
		Structured:       cfg.IPC.Structured,
		Duplex:           cfg.IPC.DuplexBroker,
		ChannelBuffer:    cfg.IPC.ChannelBuffer,
		CloseTimeout:     cfg.IPC.CloseTimeout,
		PermissionModule: cfg.Registry.PermissionModule,
	}
}

func (o Options) withDefaults() Options {
	if o.ChannelBuffer <= 0 {
		o.ChannelBuffer = 64
	}
	if o.TransportPair == nil {
		buffer := o.ChannelBuffer
		o.TransportPair = func() (ipc.Transport, ipc.Transport) {
			return ipc.NewChannelPair(buffer)
		}
	}
	return o
}
