// Package commands implements the zohabot CLI commands using cobra.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zohabot/pkg/zohabot/config"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zohabot",
		Short: "Zoha AI - WhatsApp assistant bot",
		Long: `zohabot keeps a WhatsApp session alive, answers mentions, private
chats and dot-commands with Gemini, and serves a small HTTP page for
pairing and status.

Examples:
  zohabot serve
  zohabot pair
  zohabot chat
  zohabot setup
  zohabot config show`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newPairCmd(),
		newChatCmd(),
		newSetupCmd(),
		newConfigCmd(),
		newHealthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// loadConfig loads the configuration from --config, an auto-discovered
// file, or the environment alone.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section and the
// --verbose flag.
func newLogger(cmd *cobra.Command, cfg config.LoggingConfig, out io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

// setupLogger loads the config and installs the matching default logger.
func setupLogger(cmd *cobra.Command, out io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cmd, cfg.Logging, out)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
