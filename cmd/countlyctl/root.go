package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/birbparty/countly-nest/internal/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	LogLevel string
	Timeout  time.Duration
	Output   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "countlyctl",
		Short:         "Operate a Countly Nest relay",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(opts.LogLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			telemetry.L().SetLevel(level)
			if opts.Output != "json" && opts.Output != "text" {
				return fmt.Errorf("invalid --output %q, want json or text", opts.Output)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.LogLevel, "log-level", "warn", "log level")
	flags.DurationVar(&opts.Timeout, "timeout", 10*time.Second, "timeout for backend calls")
	flags.StringVarP(&opts.Output, "output", "o", "json", "output format: json or text")

	rootCmd.AddCommand(
		newConfigCmd(),
		newDLQCmd(opts),
		newJournalCmd(opts),
		newRemoteConfigCmd(opts),
	)
	return rootCmd
}

// withTimeout derives the context for one backend call
func (o *rootOptions) withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.Timeout)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
