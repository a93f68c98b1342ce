package ctl

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
)

// Settings are read from the environment before flags are parsed.
type Settings struct {
	Addr    string        `env:"OFFLINEGATE_CTL_ADDR"    envDefault:"http://127.0.0.1:8090"`
	Timeout time.Duration `env:"OFFLINEGATE_CTL_TIMEOUT" envDefault:"30s"`
}

// LoadSettings returns settings from the process environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

type rootOptions struct {
	settings Settings
	json     bool
	out      io.Writer
}

func (o *rootOptions) client() (*Client, error) {
	return NewClient(o.settings.Addr, o.settings.Timeout)
}

func (o *rootOptions) printer() *printer {
	return newPrinter(o.out, o.json)
}

// NewRootCmd builds the offlinegatectl command tree writing to out.
func NewRootCmd(s Settings, out io.Writer) *cobra.Command {
	o := &rootOptions{settings: s, out: out}

	root := &cobra.Command{
		Use:           "offlinegatectl",
		Short:         "Control an offlinegate gateway",
		Long:          "Command-line client for the offlinegate control API.\nInspect the offline queue, trigger syncs and manage the cache.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&o.settings.Addr, "addr", s.Addr, "gateway base URL")
	root.PersistentFlags().DurationVar(&o.settings.Timeout, "timeout", s.Timeout, "request timeout")
	root.PersistentFlags().BoolVar(&o.json, "json", false, "always print JSON")

	root.AddCommand(
		newStatusCmd(o),
		newQueueCmd(o),
		newSyncCmd(o),
		newSkipWaitingCmd(o),
		newCacheCmd(o),
		newStoreCmd(o),
		newWatchCmd(o),
	)
	return root
}

// Execute runs offlinegatectl with args.
func Execute(ctx context.Context, args []string, out, errOut io.Writer) error {
	s, err := LoadSettings()
	if err != nil {
		return err
	}
	root := NewRootCmd(s, out)
	root.SetErr(errOut)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
