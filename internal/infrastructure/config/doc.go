// Package config provides 12-factor configuration management for the shell.
//
// Configuration is loaded from environment variables with sensible defaults.
//
// Configuration Sections:
//   - Server: gateway listener settings (port, host)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - IPC: protocol advertisement, brokering mode, buffers, frame limits
//   - Registry: manifest directory, boot modules, permission module id
//   - Permission: grant policy of permission.std.dweb
//   - Fetch: outbound HTTP timeouts, retries, rate
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Gateway on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - IPC_BINARY, IPC_STRUCTURED, IPC_DUPLEX_BROKER, IPC_CHANNEL_BUFFER,
//     IPC_MAX_FRAME_SIZE, IPC_CLOSE_TIMEOUT
//   - REGISTRY_MANIFEST_DIR, REGISTRY_BOOT, REGISTRY_PERMISSION_MODULE
//   - PERMISSION_AUTO_GRANT, PERMISSION_DENY
//   - FETCH_TIMEOUT, FETCH_RETRY_MAX, FETCH_RPS
package config
