// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/artificer/config.yaml",
	"/etc/artificer/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "ARTIFICER_CONFIG_PATH"

// envPrefix is stripped from environment variables before mapping them to
// koanf paths: ARTIFICER_DATABASE_PATH -> database.path.
const envPrefix = "ARTIFICER_"

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Instance: InstanceConfig{
			ID: "", // Auto-generated when empty
		},
		Database: DatabaseConfig{
			Path:         "/data/artificer.duckdb",
			MaxMemory:    "1GB",
			Threads:      0, // 0 = runtime.NumCPU()
			QueryTimeout: 30 * time.Second,
		},
		NATS: NATSConfig{
			Enabled:                 true,
			URL:                     "nats://127.0.0.1:4222",
			EmbeddedServer:          true,
			StoreDir:                "/data/nats/jetstream",
			MaxMemory:               256 << 20, // 256MB
			MaxStore:                2 << 30,   // 2GB
			MaxReconnects:           -1,        // Retry forever
			ReconnectWait:           2 * time.Second,
			OperationTimeout:        2 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerTimeout:          15 * time.Second,
		},
		Cache: CacheConfig{
			Bucket: "artifact-cache",
			TTL:    5 * time.Minute,
		},
		Lock: LockConfig{
			Bucket:        "artifact-locks",
			TTL:           30 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    150 * time.Millisecond,
		},
		Heartbeat: HeartbeatConfig{
			Bucket:   "artifact-instances",
			Interval: 30 * time.Second,
		},
		Performance: PerformanceConfig{
			CompressionThreshold: 1024, // 1 KiB
			CompressionRatio:     0.80,
			LazyLoadThreshold:    64 << 10, // 64 KiB
			HotTierEnabled:       false,
			HotTierPath:          "/data/hot-tier",
			HotTierTTL:           5 * time.Minute,
		},
		CDN: CDNConfig{
			Enabled:       false,
			Endpoint:      "",
			PublicBaseURL: "",
			UploadTimeout: 10 * time.Second,
			UploadsPerSec: 10,
			UploadBurst:   5,
		},
		Monitor: MonitorConfig{
			HealthCheckInterval: 5 * time.Minute,
			ConsistencyInterval: 15 * time.Minute,
			StaleSyncAge:        24 * time.Hour,
			AutoRecover:         true,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it. An empty instance id is filled
// with a generated one so the process always has a stable identity.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// Layer 2: optional YAML config file
	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// ARTIFICER_DATABASE_PATH -> database.path
	// ARTIFICER_NATS_URL -> nats.url
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.Replace(s, "_", ".", 1)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Instance.ID == "" {
		cfg.Instance.ID = "artificer-" + uuid.New().String()[:8]
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		return envPath
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
