package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/birbparty/countly-nest/internal/cache"
	"github.com/spf13/cobra"
)

func newRemoteConfigCmd(opts *rootOptions) *cobra.Command {
	var appKey string

	rcCmd := &cobra.Command{
		Use:     "remote-config",
		Aliases: []string{"rc"},
		Short:   "Manage remote config values served to an app",
	}
	rcCmd.PersistentFlags().StringVar(&appKey, "app", "", "app key (required)")
	_ = rcCmd.MarkPersistentFlagRequired("app")

	getCmd := &cobra.Command{
		Use:   "get [key...]",
		Short: "Print stored values, all of them when no key is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemoteConfig(func(store *cache.RemoteConfigStore) error {
				ctx, cancel := opts.withTimeout(cmd)
				defer cancel()

				values, err := store.Fetch(ctx, appKey, args, nil)
				if err != nil {
					return fmt.Errorf("failed to fetch remote config: %w", err)
				}
				if opts.Output == "json" {
					return printJSON(cmd.OutOrStdout(), values)
				}
				return printValues(cmd, values)
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set key=value [key=value...]",
		Short: "Store values; each value is parsed as JSON and kept as a string otherwise",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(args)
			if err != nil {
				return err
			}
			return withRemoteConfig(func(store *cache.RemoteConfigStore) error {
				ctx, cancel := opts.withTimeout(cmd)
				defer cancel()

				if err := store.Put(ctx, appKey, values); err != nil {
					return fmt.Errorf("failed to store remote config: %w", err)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "stored %d key(s) for %s\n", len(values), appKey)
				return err
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [key...]",
		Short: "Delete keys, or every value of the app when no key is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemoteConfig(func(store *cache.RemoteConfigStore) error {
				ctx, cancel := opts.withTimeout(cmd)
				defer cancel()

				err := store.Delete(ctx, appKey, args...)
				if errors.Is(err, cache.ErrKeyNotFound) {
					return fmt.Errorf("nothing stored for %s", appKey)
				}
				if err != nil {
					return fmt.Errorf("failed to delete remote config: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "deleted")
				return err
			})
		},
	}

	rcCmd.AddCommand(getCmd, setCmd, deleteCmd)
	return rcCmd
}

func withRemoteConfig(fn func(*cache.RemoteConfigStore) error) error {
	cfg, err := cache.NewConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load redis config: %w", err)
	}
	client, err := cache.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer client.Close()

	return fn(cache.NewRemoteConfigStore(client, cfg.KeyPrefix, cfg.RemoteConfigTTL))
}

// parseAssignments turns key=value arguments into remote config values
func parseAssignments(args []string) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, want key=value", arg)
		}
		values[key] = parseValue(raw)
	}
	return values, nil
}

func parseValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func printValues(cmd *cobra.Command, values map[string]interface{}) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, k := range keys {
		data, err := json.Marshal(values[k])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\n", k, data)
	}
	return w.Flush()
}
