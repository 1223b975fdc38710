package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/zohabot/pkg/zohabot/config"
)

// newConfigCmd creates the `zohabot config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage the configuration",
		Long: `Inspect the effective configuration and manage API keys.

Examples:
  zohabot config init
  zohabot config show
  zohabot config set-key gemini
  zohabot config delete-key xai`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with the defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "zohabot.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			cfg.AI.GeminiAPIKey = "${GEMINI_API_KEY:-}"
			cfg.AI.XAIAPIKey = "${XAI_API_KEY:-}"
			if err := config.Save(cfg, path); err != nil {
				return err
			}
			fmt.Printf("Config written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			config.ResolveAPIKeys(cfg, newLogger(cmd, config.LoggingConfig{Level: "error"}, os.Stderr))

			out, err := yaml.Marshal(cfg.Masked())
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

// keyringName maps a CLI key name to its keyring entry.
func keyringName(name string) (string, error) {
	switch name {
	case "gemini":
		return config.KeyGemini, nil
	case "xai", "grok":
		return config.KeyXAI, nil
	}
	return "", fmt.Errorf("unknown key %q: want gemini or xai", name)
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set-key [gemini|xai]",
		Short:     "Store an API key in the OS keyring",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"gemini", "xai"},
		RunE: func(_ *cobra.Command, args []string) error {
			name := "gemini"
			if len(args) == 1 {
				name = args[0]
			}
			key, err := keyringName(name)
			if err != nil {
				return err
			}
			if !config.KeyringAvailable() {
				return errors.New("OS keyring is not available; set the key in .env instead")
			}

			secret, err := config.ReadSecret(fmt.Sprintf("%s API key (hidden input): ", name))
			if err != nil {
				return err
			}
			if secret == "" {
				return errors.New("empty key, nothing stored")
			}
			if err := config.StoreKeyring(key, secret); err != nil {
				return fmt.Errorf("storing key: %w", err)
			}
			fmt.Printf("✅ %s key stored in the OS keyring (%s)\n", name, config.MaskSecret(secret))
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key <gemini|xai>",
		Short: "Remove an API key from the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			key, err := keyringName(args[0])
			if err != nil {
				return err
			}
			if err := config.DeleteKeyring(key); err != nil {
				return fmt.Errorf("deleting key: %w", err)
			}
			fmt.Printf("%s key removed from the OS keyring\n", args[0])
			return nil
		},
	}
}
