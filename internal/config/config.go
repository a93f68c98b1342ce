// Package config resolves the gateway's runtime settings from defaults, an
// optional JSON file, OFFLINEGATE_* environment variables and command-line
// flags, in that order of increasing precedence.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime settings for the gateway.
//
// Fields:
//   - ListenAddr: proxy and control API listener.
//   - UpstreamURL: base URL of the REST backend.
//   - HealthPath: path probed to decide online/offline.
//   - DataDir: directory for the SQLite store and the cache database.
//   - CacheVersion / CachePrefix: name the live cache bucket (<prefix>-v<version>).
//   - ManifestPath: YAML route manifest; empty means the built-in one.
//   - PushURL: backend push websocket; empty disables the push bridge.
//   - HealthAddr: gRPC health listener; empty disables it.
//   - QueueSecret: seals credential headers of queued mutations; empty
//     stores them as received. Not settable by flag.
type Config struct {
	ListenAddr           string        `env:"LISTEN_ADDR"`
	UpstreamURL          string        `env:"UPSTREAM_URL"`
	HealthPath           string        `env:"HEALTH_PATH"`
	DataDir              string        `env:"DATA_DIR"`
	CacheVersion         string        `env:"CACHE_VERSION"`
	CachePrefix          string        `env:"CACHE_PREFIX"`
	ManifestPath         string        `env:"MANIFEST_PATH"`
	OnlineCheckInterval  time.Duration `env:"ONLINE_CHECK_INTERVAL"`
	PeriodicSyncInterval time.Duration `env:"PERIODIC_SYNC_INTERVAL"`
	ReplayTimeout        time.Duration `env:"REPLAY_TIMEOUT"`
	FetchTimeout         time.Duration `env:"FETCH_TIMEOUT"`
	PushURL              string        `env:"PUSH_URL"`
	HealthAddr           string        `env:"HEALTH_ADDR"`
	SkipWaiting          bool          `env:"SKIP_WAITING"`
	QueueFailedMutations bool          `env:"QUEUE_FAILED_MUTATIONS"`
	LogLevel             string        `env:"LOG_LEVEL"`
	QueueSecret          string        `env:"QUEUE_SECRET"`
}

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "OFFLINEGATE_"

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.ListenAddr = ":8090"
	c.UpstreamURL = "http://127.0.0.1:8080"
	c.HealthPath = "/api/health"
	c.DataDir = "./data"
	c.CacheVersion = "1"
	c.CachePrefix = "offlinegate-cache"
	c.ManifestPath = ""
	c.OnlineCheckInterval = 3 * time.Second
	c.PeriodicSyncInterval = 15 * time.Minute
	c.ReplayTimeout = 15 * time.Second
	c.FetchTimeout = 10 * time.Second
	c.PushURL = ""
	c.HealthAddr = ""
	c.SkipWaiting = true
	c.QueueFailedMutations = true
	c.LogLevel = "info"
	c.QueueSecret = ""
}

// Load builds a Config from defaults, the JSON file named by -c/-config,
// environ and finally the flags in args.
func Load(args []string, environ map[string]string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg, args); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg, environ); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig is Load over the process arguments and environment.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:], env.ToMap(os.Environ()))
}

func parseEnv(cfg *Config, environ map[string]string) error {
	err := env.ParseWithOptions(cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	})
	if err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects settings the gateway cannot start with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.UpstreamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream url %q", c.UpstreamURL)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.CacheVersion == "" {
		return fmt.Errorf("cache version is required")
	}
	if c.OnlineCheckInterval <= 0 {
		return fmt.Errorf("online check interval must be positive")
	}
	if c.PeriodicSyncInterval < 0 {
		return fmt.Errorf("periodic sync interval must not be negative")
	}
	return nil
}

// Upstream returns the parsed upstream base URL.
func (c *Config) Upstream() *url.URL {
	u, _ := url.Parse(c.UpstreamURL)
	return u
}

// HealthURL is the probe target.
func (c *Config) HealthURL() string {
	return c.Upstream().JoinPath(c.HealthPath).String()
}

func (c *Config) StorePath() string { return filepath.Join(c.DataDir, "offlinegate.db") }

func (c *Config) CachePath() string { return filepath.Join(c.DataDir, "cache.db") }

// SaltPath holds the per-installation salt for QueueSecret.
func (c *Config) SaltPath() string { return filepath.Join(c.DataDir, "queue.salt") }
