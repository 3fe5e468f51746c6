// Package main provides coachsync-core, an inspector for the durable
// offline queue. It reads the same configuration as the desktop bridge
// and must not run while the bridge uses in-memory queue storage.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/coachsync/internal/app"
	"github.com/kimhsiao/coachsync/internal/config"
	"github.com/kimhsiao/coachsync/internal/logging"
	"github.com/kimhsiao/coachsync/internal/sync/queue"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coachsync-core",
		Short:         "Inspect and repair the offline sync queue",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to a config file (YAML, TOML or JSON)")

	root.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show queue counters",
			Args:  cobra.NoArgs,
			RunE: withQueue(func(cmd *cobra.Command, q *queue.Queue, _ []string) error {
				stats, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "List actions waiting for replay",
			Args:  cobra.NoArgs,
			RunE: withQueue(func(cmd *cobra.Command, q *queue.Queue, _ []string) error {
				actions, err := q.List(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), actions)
			}),
		},
		&cobra.Command{
			Use:   "parked",
			Short: "List actions that left the automatic retry queue",
			Args:  cobra.NoArgs,
			RunE: withQueue(func(cmd *cobra.Command, q *queue.Queue, _ []string) error {
				actions, err := q.Parked(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), actions)
			}),
		},
		&cobra.Command{
			Use:   "remove <action-id>",
			Short: "Delete a queued or parked action",
			Args:  cobra.ExactArgs(1),
			RunE: withQueue(func(cmd *cobra.Command, q *queue.Queue, args []string) error {
				if err := q.Remove(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "retry <action-id>",
			Short: "Move a parked action back into the queue",
			Args:  cobra.ExactArgs(1),
			RunE: withQueue(func(cmd *cobra.Command, q *queue.Queue, args []string) error {
				if err := q.Retry(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", args[0])
				return nil
			}),
		},
	)
	return root
}

type queueRunE func(cmd *cobra.Command, q *queue.Queue, args []string) error

// withQueue opens the configured queue storage for the duration of fn.
// The queue stays offline, so nothing is replayed.
func withQueue(fn queueRunE) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		app.ConfigureLogging(cfg.Logging)
		defer logging.Sync()

		active, parked, closeKV, err := app.OpenQueueStores(cfg.Queue.Storage)
		if err != nil {
			return err
		}
		defer closeKV()

		q := queue.New(active, nil, queue.Config{
			MaxSize:    cfg.Queue.MaxSize,
			MaxAge:     cfg.Queue.MaxAge,
			MaxRetries: cfg.Queue.MaxRetries,
			Parked:     parked,
		})
		defer q.Close()

		return fn(cmd, q, args)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
