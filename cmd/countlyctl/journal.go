package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/birbparty/countly-nest/internal/database"
	"github.com/spf13/cobra"
)

func newJournalCmd(opts *rootOptions) *cobra.Command {
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Query the command journal",
	}

	var appKey string
	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Count journaled commands by tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := database.NewConfigFromEnv()
			if err != nil {
				return fmt.Errorf("failed to load database config: %w", err)
			}
			db, err := database.NewDB(cfg)
			if err != nil {
				return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
			}
			defer db.Close()

			ctx, cancel := opts.withTimeout(cmd)
			defer cancel()

			counts, err := database.NewJournalRepository(db).CountByTag(ctx, appKey)
			if err != nil {
				return fmt.Errorf("failed to count journal: %w", err)
			}
			if opts.Output == "json" {
				return printJSON(cmd.OutOrStdout(), counts)
			}
			return printTagCounts(cmd, counts)
		},
	}
	countCmd.Flags().StringVar(&appKey, "app", "", "limit to one app key")

	journalCmd.AddCommand(countCmd)
	return journalCmd
}

func printTagCounts(cmd *cobra.Command, counts []database.TagCount) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "APP\tTAG\tCOUNT")
	for _, c := range counts {
		fmt.Fprintf(w, "%s\t%s\t%d\n", c.AppKey, c.Tag, c.Count)
	}
	return w.Flush()
}
