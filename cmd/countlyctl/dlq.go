package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/birbparty/countly-nest/internal/queue"
	"github.com/spf13/cobra"
)

func newDLQCmd(opts *rootOptions) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and purge the dead letter queue",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show dead letter queue counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDLQ(func(h *queue.DLQHandler) error {
				stats, err := h.GetDLQStats()
				if err != nil {
					return fmt.Errorf("failed to read DLQ stats: %w", err)
				}
				if opts.Output == "json" {
					return printJSON(cmd.OutOrStdout(), stats)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "messages\t%d\n", stats.TotalMessages)
				fmt.Fprintf(w, "pending\t%d\n", stats.PendingMessages)
				fmt.Fprintf(w, "bytes\t%d\n", stats.StreamBytes)
				fmt.Fprintf(w, "oldest\t%s\n", formatTime(stats.OldestMessage))
				fmt.Fprintf(w, "newest\t%s\n", formatTime(stats.NewestMessage))
				return w.Flush()
			})
		},
	}

	var confirmed bool
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop every message in the dead letter queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to purge without --yes")
			}
			return withDLQ(func(h *queue.DLQHandler) error {
				ctx, cancel := opts.withTimeout(cmd)
				defer cancel()
				if err := h.PurgeDLQ(ctx); err != nil {
					return fmt.Errorf("failed to purge DLQ: %w", err)
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "DLQ purged")
				return err
			})
		},
	}
	purgeCmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the purge")

	dlqCmd.AddCommand(statsCmd, purgeCmd)
	return dlqCmd
}

func withDLQ(fn func(*queue.DLQHandler) error) error {
	cfg, err := queue.NewConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load queue config: %w", err)
	}
	client, err := queue.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer client.Close()

	return fn(queue.NewDLQHandler(client))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
