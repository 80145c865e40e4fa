package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/birbparty/countly-nest/sdk"
	"github.com/spf13/cobra"
)

type renderOptions struct {
	File           string
	AppKey         string
	URL            string
	DeviceID       string
	AppVersion     string
	Namespace      string
	Debug          bool
	IgnoreBots     bool
	RequireConsent bool
	RemoteConfig   bool
	OfflineMode    bool
	Interval       time.Duration
	SessionUpdate  time.Duration
	IgnoreRefs     []string
	Compact        bool
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Countly init configuration",
	}

	opts := &renderOptions{}
	renderCmd := &cobra.Command{
		Use:   "render",
		Short: "Print the init object the engine receives",
		Long: `Builds a Countly configuration from an optional YAML file and flags,
and prints the serialized init object. Flags override file values.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, opts)
			if err != nil {
				return err
			}

			data, err := cfg.MarshalJSON()
			if err != nil {
				return err
			}
			if !opts.Compact {
				var buf bytes.Buffer
				if err := json.Indent(&buf, data, "", "  "); err != nil {
					return err
				}
				data = buf.Bytes()
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	f := renderCmd.Flags()
	f.StringVarP(&opts.File, "file", "f", "", "YAML file with init options")
	f.StringVar(&opts.AppKey, "app-key", "", "app key")
	f.StringVar(&opts.URL, "url", "", "Countly server URL")
	f.StringVar(&opts.DeviceID, "device-id", "", "device ID")
	f.StringVar(&opts.AppVersion, "app-version", "", "app version")
	f.StringVar(&opts.Namespace, "namespace", "", "storage namespace")
	f.BoolVar(&opts.Debug, "debug", false, "enable engine debug output")
	f.BoolVar(&opts.IgnoreBots, "ignore-bots", true, "ignore bot traffic")
	f.BoolVar(&opts.RequireConsent, "require-consent", false, "require consent before tracking")
	f.BoolVar(&opts.RemoteConfig, "remote-config", false, "load remote config on init")
	f.BoolVar(&opts.OfflineMode, "offline", false, "start in offline mode")
	f.DurationVar(&opts.Interval, "interval", 0, "queue check interval")
	f.DurationVar(&opts.SessionUpdate, "session-update", 0, "session extension interval")
	f.StringSliceVar(&opts.IgnoreRefs, "ignore-referrer", nil, "referrers to ignore, repeatable")
	f.BoolVar(&opts.Compact, "compact", false, "print on one line")

	configCmd.AddCommand(renderCmd)
	return configCmd
}

// buildConfig starts from --file or defaults and applies every flag the
// user set explicitly
func buildConfig(cmd *cobra.Command, opts *renderOptions) (*sdk.Config, error) {
	cfg := sdk.NewConfig("", "")
	if opts.File != "" {
		loaded, err := sdk.LoadConfigFile(opts.File)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("app-key") {
		cfg.AppKey = opts.AppKey
	}
	if changed("url") {
		cfg.URL = opts.URL
	}
	if changed("device-id") {
		cfg.WithDeviceID(opts.DeviceID)
	}
	if changed("app-version") {
		cfg.WithAppVersion(opts.AppVersion)
	}
	if changed("namespace") {
		cfg.WithNamespace(opts.Namespace)
	}
	if changed("debug") {
		cfg.WithDebug(opts.Debug)
	}
	if changed("ignore-bots") {
		cfg.WithIgnoreBots(opts.IgnoreBots)
	}
	if changed("require-consent") {
		cfg.WithRequireConsent(opts.RequireConsent)
	}
	if changed("remote-config") {
		cfg.WithRemoteConfig(opts.RemoteConfig)
	}
	if changed("offline") {
		cfg.WithOfflineMode(opts.OfflineMode)
	}
	if changed("interval") {
		cfg.WithInterval(opts.Interval)
	}
	if changed("session-update") {
		cfg.WithSessionUpdate(opts.SessionUpdate)
	}
	if changed("ignore-referrer") {
		cfg.WithIgnoreReferrers(opts.IgnoreRefs...)
	}

	if cfg.AppKey == "" || cfg.URL == "" {
		return nil, fmt.Errorf("app key and url are required (set them in --file or with --app-key and --url)")
	}
	return cfg, nil
}
