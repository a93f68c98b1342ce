package ctl

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/offlinegate/internal/push"
	"github.com/dmitrijs2005/offlinegate/internal/worker"
	"github.com/spf13/cobra"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func newStatusCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, worker state and queue length",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			s, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return o.printer().status(s)
		},
	}
}

func newQueueCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the offline action queue",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List queued actions in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			actions, err := c.Actions(cmd.Context())
			if err != nil {
				return err
			}
			return o.printer().actions(actions)
		},
	}

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Drop one queued action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid id %q", args[0])
			}
			c, err := o.client()
			if err != nil {
				return err
			}
			if err := c.RemoveAction(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(o.out, "Removed action %d.\n", id)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			if err := c.ClearActions(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(o.out, "Queue cleared.")
			return nil
		},
	}

	cmd.AddCommand(list, remove, clearCmd)
	return cmd
}

func newSyncCmd(o *rootOptions) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay the offline queue now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			if tag != "" {
				res, err := c.Send(cmd.Context(), worker.RequestSync{Tag: tag})
				if err != nil {
					return err
				}
				return o.printer().raw(res)
			}
			res, err := c.Sync(cmd.Context())
			if err != nil {
				return err
			}
			return o.printer().drain(res)
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "send a REQUEST_SYNC control message with this tag instead")
	return cmd
}

func newSkipWaitingCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "skip-waiting",
		Short: "Activate an installed cache version immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			if _, err := c.Send(cmd.Context(), worker.SkipWaiting{}); err != nil {
				return err
			}
			fmt.Fprintln(o.out, "Activation requested.")
			return nil
		},
	}
}

func newCacheCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the live cache bucket",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "update <url>...",
		Short: "Fetch URLs into the live cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			res, err := c.Send(cmd.Context(), worker.UpdateCache{URLs: args})
			if err != nil {
				return err
			}
			return o.printer().raw(res)
		},
	})
	return cmd
}

func newStoreCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Read the gateway's local collections",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <collection>",
		Short: "List every record of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			rows, err := c.Collection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return o.printer().records(rows)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <collection> <key>",
		Short: "Print one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			raw, err := c.Record(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return o.printer().raw(raw)
		},
	})
	return cmd
}

func newWatchCmd(o *rootOptions) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print notifications as the gateway receives them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			conn, _, err := websocket.Dial(ctx, c.StreamURL(), nil)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer conn.Close(websocket.StatusNormalClosure, "")

			p := o.printer()
			for seen := 0; count <= 0 || seen < count; seen++ {
				var n push.Notification
				if err := wsjson.Read(ctx, conn, &n); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("read notification: %w", err)
				}
				if p.json {
					if err := p.printJSON(n); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(o.out, "[%s] %s: %s\n", time.UnixMilli(n.ReceivedAt).Format(time.TimeOnly), n.Title, n.Body)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many notifications (0 = until interrupted)")
	return cmd
}
