// Package config loads the spine's runtime settings from SPINE_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Event bus backends.
const (
	BusNone  = "none"
	BusNATS  = "nats"
	BusRedis = "redis"
)

type Config struct {
	Store        string        // SPINE_STORE (default "postgres"; "memory" for development)
	DatabaseURL  string        // SPINE_DATABASE_URL (required for postgres)
	GRPCAddr     string        // SPINE_GRPC_ADDR (default ":9090")
	HTTPAddr     string        // SPINE_HTTP_ADDR (default ":8080")
	Bus          string        // SPINE_BUS (none, nats, redis; default inferred from the URLs)
	NATSURL      string        // SPINE_NATS_URL
	RedisURL     string        // SPINE_REDIS_URL
	AuthToken    string        // SPINE_AUTH_TOKEN (optional, empty = auth disabled)
	Keepalive    time.Duration // SPINE_KEEPALIVE (default 30s)
	MappingsFile string        // SPINE_MAPPINGS_FILE (optional YAML overlay)
	LogLevel     slog.Level    // SPINE_LOG_LEVEL (default "info")
	WSOrigins    []string      // SPINE_WS_ORIGINS (comma-separated cross-origin hosts for the WebSocket stream)

	// Archive sync settings
	SyncInterval   time.Duration // SPINE_SYNC_INTERVAL (default 15m; 0 = disabled)
	SyncS3Bucket   string        // SPINE_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // SPINE_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // SPINE_SYNC_S3_REGION (default "us-east-1")
	SyncS3Prefix   string        // SPINE_SYNC_S3_PREFIX (default "spine/archive")
	ArchiveTenants []string      // SPINE_ARCHIVE_TENANTS (comma-separated)
}

func Load() (*Config, error) {
	c := &Config{
		Store:          strings.ToLower(envOrDefault("SPINE_STORE", StorePostgres)),
		DatabaseURL:    os.Getenv("SPINE_DATABASE_URL"),
		GRPCAddr:       envOrDefault("SPINE_GRPC_ADDR", ":9090"),
		HTTPAddr:       envOrDefault("SPINE_HTTP_ADDR", ":8080"),
		Bus:            strings.ToLower(os.Getenv("SPINE_BUS")),
		NATSURL:        os.Getenv("SPINE_NATS_URL"),
		RedisURL:       os.Getenv("SPINE_REDIS_URL"),
		AuthToken:      os.Getenv("SPINE_AUTH_TOKEN"),
		MappingsFile:   os.Getenv("SPINE_MAPPINGS_FILE"),
		SyncS3Bucket:   os.Getenv("SPINE_SYNC_S3_BUCKET"),
		SyncS3Endpoint: os.Getenv("SPINE_SYNC_S3_ENDPOINT"),
		SyncS3Region:   envOrDefault("SPINE_SYNC_S3_REGION", "us-east-1"),
		SyncS3Prefix:   strings.Trim(envOrDefault("SPINE_SYNC_S3_PREFIX", "spine/archive"), "/"),
		ArchiveTenants: splitList(os.Getenv("SPINE_ARCHIVE_TENANTS")),
		WSOrigins:      splitList(os.Getenv("SPINE_WS_ORIGINS")),
	}

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return nil, fmt.Errorf("SPINE_DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("SPINE_STORE: unknown store %q", c.Store)
	}

	if c.Bus == "" {
		switch {
		case c.NATSURL != "":
			c.Bus = BusNATS
		case c.RedisURL != "":
			c.Bus = BusRedis
		default:
			c.Bus = BusNone
		}
	}
	switch c.Bus {
	case BusNone:
	case BusNATS:
		if c.NATSURL == "" {
			return nil, fmt.Errorf("SPINE_NATS_URL is required when SPINE_BUS=nats")
		}
	case BusRedis:
		if c.RedisURL == "" {
			return nil, fmt.Errorf("SPINE_REDIS_URL is required when SPINE_BUS=redis")
		}
	default:
		return nil, fmt.Errorf("SPINE_BUS: unknown bus %q", c.Bus)
	}

	var err error
	if c.Keepalive, err = durationEnv("SPINE_KEEPALIVE", "30s"); err != nil {
		return nil, err
	}
	if c.Keepalive <= 0 {
		return nil, fmt.Errorf("SPINE_KEEPALIVE must be positive")
	}
	if c.SyncInterval, err = durationEnv("SPINE_SYNC_INTERVAL", "15m"); err != nil {
		return nil, err
	}
	if err := c.LogLevel.UnmarshalText([]byte(envOrDefault("SPINE_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("SPINE_LOG_LEVEL: %w", err)
	}

	return c, nil
}

// ArchiveEnabled reports whether the periodic S3 export should run.
func (c *Config) ArchiveEnabled() bool {
	return c.SyncInterval > 0 && c.SyncS3Bucket != "" && len(c.ArchiveTenants) > 0
}

func durationEnv(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
