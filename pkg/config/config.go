package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for an rtmpub publisher process.
type Config struct {
	// Target describes the RTMP destination to publish to
	Target TargetConfig `json:"target" yaml:"target"`

	// Timeouts holds the publisher's deadline knobs
	Timeouts TimeoutConfig `json:"timeouts" yaml:"timeouts"`

	// Chunking holds outbound chunk size and ACK window defaults
	Chunking ChunkConfig `json:"chunking" yaml:"chunking"`

	// Registry configuration (optional - Redis-backed session mirror)
	Registry RegistryConfig `json:"registry" yaml:"registry"`

	// Archive configuration (optional - S3-backed outbound media backup)
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// Monitor configuration (optional - WebSocket status feed)
	Monitor MonitorConfig `json:"monitor" yaml:"monitor"`

	// Metrics configuration (optional - Prometheus-text endpoint)
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// TargetConfig holds the RTMP server to publish to
type TargetConfig struct {
	// Host is the RTMP server host
	Host string `json:"host" yaml:"host"`

	// Port is the RTMP server port
	Port int `json:"port" yaml:"port"`

	// App is the RTMP application name passed to `connect`
	App string `json:"app" yaml:"app"`

	// Playpath is the stream key passed to `publish`
	Playpath string `json:"playpath" yaml:"playpath"`

	// ServerURL is the optional tcUrl announced in `connect`
	ServerURL string `json:"server_url" yaml:"server_url"`

	// PageURL is the optional pageUrl announced in `connect`
	PageURL string `json:"page_url" yaml:"page_url"`
}

// TimeoutConfig holds the publisher's deadline knobs (spec.md §6.4)
type TimeoutConfig struct {
	// ConnectTimeout bounds the initial TCP connect
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`

	// HandshakeTimeout bounds C0/C1/C2 <-> S0/S1/S2
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`

	// WriteTimeout bounds a single physical write call
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// AckWaitTimeout bounds ACK-wait backpressure blocking
	AckWaitTimeout time.Duration `json:"ack_wait_timeout" yaml:"ack_wait_timeout"`
}

// ChunkConfig holds the outbound chunking and flow-control defaults
type ChunkConfig struct {
	// ChunkSizeOut is announced via SET_CHUNK_SIZE right after connect
	ChunkSizeOut uint32 `json:"chunk_size_out" yaml:"chunk_size_out"`

	// AckWindowOut is announced via WINDOW_ACK_SIZE right after connect
	AckWindowOut uint32 `json:"ack_window_out" yaml:"ack_window_out"`
}

// RegistryConfig configures the Redis-backed session registry (pkg/registry)
type RegistryConfig struct {
	// Enabled turns the registry mirror on
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Address is the Redis server address (host:port)
	Address string `json:"address" yaml:"address"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db"`

	// KeyPrefix namespaces the session hash keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// SessionTTL bounds how long a stale session hash survives a crash
	SessionTTL time.Duration `json:"session_ttl" yaml:"session_ttl"`
}

// ArchiveConfig configures the S3-backed archive sink (pkg/archive)
type ArchiveConfig struct {
	// Enabled turns the archive sink on
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Endpoint is the S3 endpoint URL (blank = AWS default)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Bucket is the destination bucket
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix namespaces archive object keys
	Prefix string `json:"prefix" yaml:"prefix"`

	// AccessKeyID is the S3 access key (blank = default credential chain)
	AccessKeyID string `json:"access_key_id" yaml:"access_key_id"`

	// SecretAccessKey is the S3 secret key
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`

	// FlushInterval bounds how long buffered tags wait before an S3 PUT
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`

	// FlushBytes triggers an S3 PUT once buffered tag bytes cross this size
	FlushBytes int `json:"flush_bytes" yaml:"flush_bytes"`
}

// MonitorConfig configures the WebSocket status feed (pkg/monitor)
type MonitorConfig struct {
	// Enabled turns the monitor server on
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Addr is the listen address for the monitor HTTP/WebSocket server
	Addr string `json:"addr" yaml:"addr"`

	// Path is the WebSocket upgrade path
	Path string `json:"path" yaml:"path"`
}

// MetricsConfig configures the Prometheus-text metrics endpoint (pkg/metrics)
type MetricsConfig struct {
	// Enabled turns the metrics server on
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Addr is the listen address for the metrics HTTP server
	Addr string `json:"addr" yaml:"addr"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error)
	Level string `json:"level" yaml:"level"`

	// Format is the log format (json, text)
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns a default configuration matching spec.md §6.4
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			Host: "127.0.0.1",
			Port: 1935,
			App:  "live",
		},
		Timeouts: TimeoutConfig{
			ConnectTimeout:   5000 * time.Millisecond,
			HandshakeTimeout: 2500 * time.Millisecond,
			WriteTimeout:     10000 * time.Millisecond,
			AckWaitTimeout:   5000 * time.Millisecond,
		},
		Chunking: ChunkConfig{
			ChunkSizeOut: 4096,
			AckWindowOut: 5000000,
		},
		Registry: RegistryConfig{
			Enabled:    false,
			Address:    "localhost:6379",
			DB:         0,
			KeyPrefix:  "rtmpub:session:",
			SessionTTL: 1 * time.Hour,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Region:        "us-east-1",
			Prefix:        "rtmpub",
			FlushInterval: 10 * time.Second,
			FlushBytes:    1 << 20,
		},
		Monitor: MonitorConfig{
			Enabled: false,
			Addr:    ":9935",
			Path:    "/status",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9936",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file, starting from DefaultConfig
// and overlaying whatever the file and environment specify.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.loadFromEnv()

	return cfg, nil
}

// loadFromEnv overrides config from environment variables
func (c *Config) loadFromEnv() {
	if host := os.Getenv("RTMPUB_TARGET_HOST"); host != "" {
		c.Target.Host = host
	}
	if redisAddr := os.Getenv("REDIS_URL"); redisAddr != "" {
		c.Registry.Address = redisAddr
	}
	if redisPass := os.Getenv("REDIS_PASSWORD"); redisPass != "" {
		c.Registry.Password = redisPass
	}
}
