package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/offlinegate/internal/flagx"
)

// parseFlags overlays command-line flags onto cfg.
//
// Supported flags (short forms):
//
//	-a string     listen address (e.g. ":8090")
//	-u string     upstream base URL
//	-d string     data directory
//	-v string     cache version
//	-m string     manifest YAML path
//	-p string     push websocket URL
//	-g string     gRPC health address
//	-l string     log level (debug, info, warn, error)
//	-i duration   online check interval
//	-s duration   periodic sync interval, 0 disables
//	-w bool       activate a new version without waiting
//	-q bool       queue failed mutations on allow-listed API paths
//
// args is filtered down to these flags first, so flags meant for other
// components (like -c) are ignored.
func parseFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("offlinegate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ListenAddr, "a", cfg.ListenAddr, "address and port to listen on")
	fs.StringVar(&cfg.UpstreamURL, "u", cfg.UpstreamURL, "upstream base URL")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.CacheVersion, "v", cfg.CacheVersion, "cache version")
	fs.StringVar(&cfg.ManifestPath, "m", cfg.ManifestPath, "manifest path")
	fs.StringVar(&cfg.PushURL, "p", cfg.PushURL, "push websocket URL")
	fs.StringVar(&cfg.HealthAddr, "g", cfg.HealthAddr, "gRPC health address")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.DurationVar(&cfg.OnlineCheckInterval, "i", cfg.OnlineCheckInterval, "online check interval")
	fs.DurationVar(&cfg.PeriodicSyncInterval, "s", cfg.PeriodicSyncInterval, "periodic sync interval")
	fs.BoolVar(&cfg.SkipWaiting, "w", cfg.SkipWaiting, "skip waiting on install")
	fs.BoolVar(&cfg.QueueFailedMutations, "q", cfg.QueueFailedMutations, "queue failed mutations")

	if err := fs.Parse(flagx.Filter(args, flagx.FromFlagSet(fs))); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}
