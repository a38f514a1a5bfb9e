// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

// Package config provides layered configuration for Artificer using Koanf v2.
//
// Loading order: built-in defaults, then an optional YAML config file, then
// environment variables (highest priority, prefix ARTIFICER_). Config is
// immutable after Load() and safe for concurrent reads.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Instance    InstanceConfig    `koanf:"instance"`
	Database    DatabaseConfig    `koanf:"database"`
	NATS        NATSConfig        `koanf:"nats"`
	Cache       CacheConfig       `koanf:"cache"`
	Lock        LockConfig        `koanf:"lock"`
	Heartbeat   HeartbeatConfig   `koanf:"heartbeat"`
	Performance PerformanceConfig `koanf:"performance"`
	CDN         CDNConfig         `koanf:"cdn"`
	Monitor     MonitorConfig     `koanf:"monitor"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// InstanceConfig identifies this replica in the shared registry.
type InstanceConfig struct {
	// ID is this instance's identity in heartbeats, lock leases, and event
	// origins. Auto-generated when empty.
	ID string `koanf:"id"`
}

// DatabaseConfig configures the DuckDB persistence store.
type DatabaseConfig struct {
	// Path is the DuckDB database file. ":memory:" keeps everything
	// in-process, which is what the tests use.
	Path         string        `koanf:"path"`
	MaxMemory    string        `koanf:"max_memory"`
	Threads      int           `koanf:"threads"` // 0 = runtime.NumCPU()
	QueryTimeout time.Duration `koanf:"query_timeout"`
}

// NATSConfig configures the coordination backend connection.
type NATSConfig struct {
	Enabled          bool          `koanf:"enabled"`
	URL              string        `koanf:"url"`
	EmbeddedServer   bool          `koanf:"embedded_server"`
	StoreDir         string        `koanf:"store_dir"`
	MaxMemory        int64         `koanf:"max_memory"`
	MaxStore         int64         `koanf:"max_store"`
	MaxReconnects    int           `koanf:"max_reconnects"`
	ReconnectWait    time.Duration `koanf:"reconnect_wait"`
	OperationTimeout time.Duration `koanf:"operation_timeout"`

	// Circuit breaker: consecutive failures before the breaker opens and
	// coordination degrades to store-only operation.
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
}

// CacheConfig configures the shared artifact cache bucket.
type CacheConfig struct {
	Bucket string        `koanf:"bucket"`
	TTL    time.Duration `koanf:"ttl"`
}

// LockConfig configures distributed lock leases.
type LockConfig struct {
	Bucket string `koanf:"bucket"`

	// TTL is the lease expiry. Updates are bounded to finish well within
	// it; leases do not auto-renew (see Locker docs).
	TTL           time.Duration `koanf:"ttl"`
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`
}

// HeartbeatConfig configures the live-instance registry.
type HeartbeatConfig struct {
	Bucket   string        `koanf:"bucket"`
	Interval time.Duration `koanf:"interval"`
}

// PerformanceConfig configures the read/write optimization layer.
type PerformanceConfig struct {
	// CompressionThreshold is the minimum raw content size, in bytes,
	// before compression is considered.
	CompressionThreshold int `koanf:"compression_threshold"`

	// CompressionRatio is the maximum compressed/raw size ratio at which
	// compression is kept; above it content is stored raw.
	CompressionRatio float64 `koanf:"compression_ratio"`

	// LazyLoadThreshold marks content above this size for lazy loading.
	LazyLoadThreshold int `koanf:"lazy_load_threshold"`

	// Badger-backed local hot tier for decompressed content.
	HotTierEnabled bool          `koanf:"hot_tier_enabled"`
	HotTierPath    string        `koanf:"hot_tier_path"`
	HotTierTTL     time.Duration `koanf:"hot_tier_ttl"`
}

// CDNConfig configures the optional content-distribution collaborator.
type CDNConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Endpoint      string        `koanf:"endpoint"`
	PublicBaseURL string        `koanf:"public_base_url"`
	UploadTimeout time.Duration `koanf:"upload_timeout"`
	UploadsPerSec float64       `koanf:"uploads_per_sec"`
	UploadBurst   int           `koanf:"upload_burst"`
}

// MonitorConfig configures the monitoring and recovery schedules.
type MonitorConfig struct {
	HealthCheckInterval time.Duration `koanf:"health_check_interval"`
	ConsistencyInterval time.Duration `koanf:"consistency_interval"`

	// StaleSyncAge flags artifacts stuck in a non-synced state beyond this
	// age during health checks.
	StaleSyncAge time.Duration `koanf:"stale_sync_age"`

	// AutoRecover runs automatic recovery after each consistency sweep.
	AutoRecover bool `koanf:"auto_recover"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the loaded configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.NATS.Enabled && !c.NATS.EmbeddedServer && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled without an embedded server")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive, got %s", c.Lock.TTL)
	}
	if c.Lock.RetryAttempts < 0 {
		return fmt.Errorf("lock.retry_attempts must be >= 0, got %d", c.Lock.RetryAttempts)
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive, got %s", c.Heartbeat.Interval)
	}
	if c.Performance.CompressionRatio <= 0 || c.Performance.CompressionRatio > 1 {
		return fmt.Errorf("performance.compression_ratio must be in (0,1], got %g", c.Performance.CompressionRatio)
	}
	if c.Performance.CompressionThreshold < 0 {
		return fmt.Errorf("performance.compression_threshold must be >= 0, got %d", c.Performance.CompressionThreshold)
	}
	if c.CDN.Enabled && c.CDN.Endpoint == "" {
		return fmt.Errorf("cdn.endpoint is required when cdn is enabled")
	}
	if c.Monitor.HealthCheckInterval <= 0 || c.Monitor.ConsistencyInterval <= 0 {
		return fmt.Errorf("monitor intervals must be positive")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
