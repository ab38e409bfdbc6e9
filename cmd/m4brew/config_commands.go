package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/MATXBY/m4brew/internal/api"
	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/notifications"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigSetCommand(ctx))
	configCmd.AddCommand(newConfigNotifyTestCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set library.root_folder to your audiobook root before running m4brew.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configArg())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			redacted := *cfg
			if redacted.Paths.APIToken != "" {
				redacted.Paths.APIToken = "********"
			}
			if jsonOut {
				return writeJSON(cmd, redacted)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", ctx.resolvedConfigPath())
			return toml.NewEncoder(out).Encode(redacted)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print as JSON")
	return cmd
}

func newConfigNotifyTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "notify-test",
		Short: "Send a test notification to the configured ntfy topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
				return errors.New("notifications.ntfy_topic is not set")
			}
			if err := notifications.NewService(cfg).TestNotification(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test notification sent to %s\n", cfg.Notifications.NtfyTopic)
			return nil
		},
	}
}

func newConfigSetCommand(ctx *commandContext) *cobra.Command {
	var root, audioMode string
	var bitrate int

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change the saved root folder, audio mode or bitrate",
		Long:  "Change the saved run settings. Through the daemon when it is running, otherwise by rewriting the config file. Invalid values are reported and the current value kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var update config.SettingsUpdate
			flags := cmd.Flags()
			if flags.Changed("root") {
				update.RootFolder = &root
			}
			if flags.Changed("audio-mode") {
				update.AudioMode = &audioMode
			}
			if flags.Changed("bitrate") {
				update.BitrateKbps = &bitrate
			}
			if update.RootFolder == nil && update.AudioMode == nil && update.BitrateKbps == nil {
				return errors.New("nothing to change; pass --root, --audio-mode or --bitrate")
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}

			resp, err := client.UpdateSettings(cmd.Context(), update)
			if errors.Is(err, api.ErrDaemonUnavailable) {
				resp, err = saveSettingsLocally(cfg, ctx.resolvedConfigPath(), update)
			}
			if err != nil {
				return wrapDaemonError(err, cfg.Paths.APIBind)
			}
			printSettings(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Absolute path of the audiobook library")
	cmd.Flags().StringVar(&audioMode, "audio-mode", "", "Channel policy: "+strings.Join(config.AudioModes(), ", "))
	cmd.Flags().IntVar(&bitrate, "bitrate", 0, "Output bitrate in kbps")
	return cmd
}

func saveSettingsLocally(cfg *config.Config, path string, update config.SettingsUpdate) (api.SettingsResponse, error) {
	lib, rejected := cfg.Library.ApplySettings(update)
	cfg.Library = lib
	if path == "" {
		defaultPath, err := config.DefaultConfigPath()
		if err != nil {
			return api.SettingsResponse{}, err
		}
		path = defaultPath
	}
	if err := config.Save(filepath.Clean(path), cfg); err != nil {
		return api.SettingsResponse{}, err
	}
	return api.SettingsResponse{Settings: api.FromLibrary(lib), Rejected: rejected, Saved: true}, nil
}

func printSettings(out io.Writer, resp api.SettingsResponse) {
	fmt.Fprintf(out, "root_folder  = %s\n", resp.Settings.RootFolder)
	fmt.Fprintf(out, "audio_mode   = %s\n", resp.Settings.AudioMode)
	fmt.Fprintf(out, "bitrate_kbps = %d\n", resp.Settings.BitrateKbps)
	for _, field := range resp.Rejected {
		fmt.Fprintf(out, "rejected %s: kept the current value\n", field)
	}
}
