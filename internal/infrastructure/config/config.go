package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all shell configuration.
type Config struct {
	Server     ServerConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
	IPC        IPCConfig
	Registry   RegistryConfig
	Permission PermissionConfig
	Fetch      FetchConfig
}

// ServerConfig holds the gateway listener configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	// Origins allowed to call the gateway from a browser page.
	Origins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds gateway rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// IPCConfig holds session and transport configuration.
type IPCConfig struct {
	// Binary advertises the cbor protocol on brokered endpoints.
	Binary bool `envconfig:"IPC_BINARY" default:"true"`
	// Structured advertises native object passing on in-process endpoints.
	Structured bool `envconfig:"IPC_STRUCTURED" default:"true"`
	// DuplexBroker reuses one brokered pair for both connect directions.
	DuplexBroker  bool          `envconfig:"IPC_DUPLEX_BROKER" default:"true"`
	ChannelBuffer int           `envconfig:"IPC_CHANNEL_BUFFER" default:"64"`
	MaxFrameSize  int           `envconfig:"IPC_MAX_FRAME_SIZE" default:"16777216"`
	CloseTimeout  time.Duration `envconfig:"IPC_CLOSE_TIMEOUT" default:"2s"`
}

// RegistryConfig holds module registry configuration.
type RegistryConfig struct {
	ManifestDir      string   `envconfig:"REGISTRY_MANIFEST_DIR" default:""`
	Boot             []string `envconfig:"REGISTRY_BOOT" default:"gateway.sys.dweb"`
	PermissionModule string   `envconfig:"REGISTRY_PERMISSION_MODULE" default:"permission.std.dweb"`
}

// PermissionConfig holds the permission module policy.
type PermissionConfig struct {
	AutoGrant bool     `envconfig:"PERMISSION_AUTO_GRANT" default:"true"`
	Deny      []string `envconfig:"PERMISSION_DENY" default:""`
}

// FetchConfig holds outbound fetch configuration.
type FetchConfig struct {
	Timeout  time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	RetryMax int           `envconfig:"FETCH_RETRY_MAX" default:"3"`
	RPS      float64       `envconfig:"FETCH_RPS" default:"10"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Registry.Boot = compact(cfg.Registry.Boot)
	cfg.Permission.Deny = compact(cfg.Permission.Deny)
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    "8000",
			Host:    "0.0.0.0",
			Origins: []string{"*"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		IPC: IPCConfig{
			Binary:        true,
			Structured:    true,
			DuplexBroker:  true,
			ChannelBuffer: 64,
			MaxFrameSize:  16 << 20,
			CloseTimeout:  2 * time.Second,
		},
		Registry: RegistryConfig{
			Boot:             []string{"gateway.sys.dweb"},
			PermissionModule: "permission.std.dweb",
		},
		Permission: PermissionConfig{
			AutoGrant: true,
		},
		Fetch: FetchConfig{
			Timeout:  30 * time.Second,
			RetryMax: 3,
			RPS:      10,
		},
	}
}

// compact drops empty entries left by envconfig when a list var is blank.
func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
