package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/offlinegate/internal/flagx"
	"github.com/dmitrijs2005/offlinegate/internal/timex"
)

// JSONConfig is the on-disk shape of the configuration file. Durations
// accept both "15s" strings and integer nanoseconds. Pointer fields are
// only applied when present in the file.
type JSONConfig struct {
	ListenAddr           *string         `json:"listen_addr"`
	UpstreamURL          *string         `json:"upstream_url"`
	HealthPath           *string         `json:"health_path"`
	DataDir              *string         `json:"data_dir"`
	CacheVersion         *string         `json:"cache_version"`
	CachePrefix          *string         `json:"cache_prefix"`
	ManifestPath         *string         `json:"manifest_path"`
	OnlineCheckInterval  *timex.Duration `json:"online_check_interval"`
	PeriodicSyncInterval *timex.Duration `json:"periodic_sync_interval"`
	ReplayTimeout        *timex.Duration `json:"replay_timeout"`
	FetchTimeout         *timex.Duration `json:"fetch_timeout"`
	PushURL              *string         `json:"push_url"`
	HealthAddr           *string         `json:"health_addr"`
	SkipWaiting          *bool           `json:"skip_waiting"`
	QueueFailedMutations *bool           `json:"queue_failed_mutations"`
	LogLevel             *string         `json:"log_level"`
	QueueSecret          *string         `json:"queue_secret"`
}

// parseJSON overlays the file named by -c/-config onto cfg. Without the
// flag nothing is loaded.
func parseJSON(cfg *Config, args []string) error {
	path := flagx.ConfigFile(args)
	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var c JSONConfig
	if err := json.Unmarshal(b, &c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.ListenAddr, c.ListenAddr)
	setString(&cfg.UpstreamURL, c.UpstreamURL)
	setString(&cfg.HealthPath, c.HealthPath)
	setString(&cfg.DataDir, c.DataDir)
	setString(&cfg.CacheVersion, c.CacheVersion)
	setString(&cfg.CachePrefix, c.CachePrefix)
	setString(&cfg.ManifestPath, c.ManifestPath)
	setString(&cfg.PushURL, c.PushURL)
	setString(&cfg.HealthAddr, c.HealthAddr)
	setString(&cfg.LogLevel, c.LogLevel)
	setString(&cfg.QueueSecret, c.QueueSecret)
	setDuration(&cfg.OnlineCheckInterval, c.OnlineCheckInterval)
	setDuration(&cfg.PeriodicSyncInterval, c.PeriodicSyncInterval)
	setDuration(&cfg.ReplayTimeout, c.ReplayTimeout)
	setDuration(&cfg.FetchTimeout, c.FetchTimeout)
	if c.SkipWaiting != nil {
		cfg.SkipWaiting = *c.SkipWaiting
	}
	if c.QueueFailedMutations != nil {
		cfg.QueueFailedMutations = *c.QueueFailedMutations
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
