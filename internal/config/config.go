// Package config holds all configuration types and loading logic for dmq.
// Fields are only ever added, never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sneh-joshi/dmq/internal/node"
)

// Config is the root configuration for a dmq server instance.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Storage StorageConfig `yaml:"storage"`
	Queue   QueueConfig   `yaml:"queue"`
	Host    HostConfig    `yaml:"host"`
	Auth    AuthConfig    `yaml:"auth"`
	Metrics MetricsConfig `yaml:"metrics"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
	Weights WeightsConfig `yaml:"weights"`
}

// NodeConfig holds identity and network settings for this server node.
type NodeConfig struct {
	// ID is a ULID string. Use "auto" to generate and persist one on first start.
	ID      string `yaml:"id"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// Backend names a storage engine.
type Backend string

const (
	BackendBolt   Backend = "bolt"   // single-file B+tree, default
	BackendBadger Backend = "badger" // LSM tree
	BackendPebble Backend = "pebble" // LSM tree
	BackendMemory Backend = "memory" // nothing persisted (dev/test only)
)

// FsyncPolicy controls when data is flushed to physical disk.
type FsyncPolicy string

const (
	FsyncAlways FsyncPolicy = "always" // every commit, default
	FsyncNever  FsyncPolicy = "never"  // fastest, unsafe (dev/test only)
)

// StorageConfig selects and tunes the queue store.
type StorageConfig struct {
	Backend Backend     `yaml:"backend"`
	Fsync   FsyncPolicy `yaml:"fsync"`
	// InMemory runs badger or pebble without touching disk.
	InMemory bool `yaml:"in_memory"`
}

// QueueConfig sets the limits that apply to every channel queue.
type QueueConfig struct {
	// PageCapacity is the number of messages per page.
	PageCapacity int `yaml:"page_capacity"`
	// MaxMessageSize is the largest accepted payload in bytes.
	MaxMessageSize uint32 `yaml:"max_message_size"`
	// RequireRegistration rejects sends to channels that were never registered.
	RequireRegistration bool `yaml:"require_registration"`
}

// HostConfig controls the block clock of the host.
type HostConfig struct {
	// BlockInterval is how often the block number advances, e.g. "6s".
	// "0" disables the ticker; blocks then only advance via the admin API.
	BlockInterval string `yaml:"block_interval"`
}

// BlockIntervalDuration parses BlockInterval. Validate guarantees it parses.
func (h HostConfig) BlockIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(h.BlockInterval)
	return d
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// HTTPConfig sets the per-client rate limit of the API.
type HTTPConfig struct {
	// RateLimitRPS is requests per second per client IP. 0 disables limiting.
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	// RateLimitBurst allows temporary spikes above RateLimitRPS.
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// WeightsConfig prices storage accesses when operation costs are reported.
type WeightsConfig struct {
	Read  uint64 `yaml:"read"`
	Write uint64 `yaml:"write"`
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:      "auto",
			Host:    "0.0.0.0",
			Port:    8080,
			DataDir: "./data",
		},
		Storage: StorageConfig{
			Backend: BackendBolt,
			Fsync:   FsyncAlways,
		},
		Queue: QueueConfig{
			PageCapacity:        32,
			MaxMessageSize:      51_200,
			RequireRegistration: false,
		},
		Host: HostConfig{
			BlockInterval: "6s",
		},
		Auth: AuthConfig{
			Enabled: false,
			APIKey:  "",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		HTTP: HTTPConfig{
			RateLimitRPS:   1_000,
			RateLimitBurst: 2_000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Weights: WeightsConfig{
			Read:  25_000_000,
			Write: 100_000_000,
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error,
// making it easy to run dmq with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	DMQ_AUTH_API_KEY      sets auth.api_key and enables auth (auth.enabled = true)
//	DMQ_DATA_DIR          sets node.data_dir
//	DMQ_NODE_ID           sets node.id
//	DMQ_PORT              sets node.port
//	DMQ_STORAGE_BACKEND   sets storage.backend
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DMQ_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
		cfg.Auth.Enabled = true
	}
	if v := os.Getenv("DMQ_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("DMQ_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := os.Getenv("DMQ_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			cfg.Node.Port = p
		}
	}
	if v := os.Getenv("DMQ_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = Backend(v)
	}
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Node.Port < 1 || c.Node.Port > 65535 {
		return errors.New("node.port must be between 1 and 65535")
	}
	if c.Node.DataDir == "" {
		return errors.New("node.data_dir must not be empty")
	}
	if err := node.CheckOverride(c.Node.ID); err != nil {
		return fmt.Errorf(`node.id must be "auto" or a ULID: %w`, err)
	}
	switch c.Storage.Backend {
	case BackendBolt, BackendBadger, BackendPebble, BackendMemory:
		// valid
	default:
		return errors.New(`storage.backend must be one of "bolt", "badger", "pebble", "memory"`)
	}
	switch c.Storage.Fsync {
	case FsyncAlways, FsyncNever:
		// valid
	default:
		return errors.New(`storage.fsync must be one of "always", "never"`)
	}
	if c.Queue.PageCapacity < 1 {
		return errors.New("queue.page_capacity must be at least 1")
	}
	if c.Queue.MaxMessageSize < 1 {
		return errors.New("queue.max_message_size must be at least 1")
	}
	if d, err := time.ParseDuration(c.Host.BlockInterval); err != nil || d < 0 {
		return fmt.Errorf("host.block_interval %q is not a valid non-negative duration", c.Host.BlockInterval)
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return errors.New("http.rate_limit_rps must be >= 0")
	}
	if c.HTTP.RateLimitRPS > 0 && c.HTTP.RateLimitBurst < 1 {
		return errors.New("http.rate_limit_burst must be at least 1 when rate limiting is on")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return errors.New(`log.level must be one of "debug", "info", "warn", "error"`)
	}
	switch c.Log.Format {
	case "json", "text":
		// valid
	default:
		return errors.New(`log.format must be one of "json", "text"`)
	}
	return nil
}
