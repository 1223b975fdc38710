package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zohabot/pkg/zohabot/bot"
	"github.com/jholhewres/zohabot/pkg/zohabot/config"
	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
	"github.com/jholhewres/zohabot/pkg/zohabot/provider/console"
)

// newChatCmd creates the `zohabot chat` command, an interactive session
// with the bot in the terminal.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the bot from the terminal",
		Long: `Run the full message pipeline against a local console conversation.
Every line you type is a message; the bot's replies are printed back.

Examples:
  zohabot chat
  zohabot chat --name "Team group"`,
		Args: cobra.NoArgs,
		RunE: runChat,
	}
	cmd.Flags().String("name", "You", "display name of the console conversation")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Keep logs off the prompt unless asked for.
	logger := newLogger(cmd, config.LoggingConfig{Level: "warn", Format: "text"}, os.Stderr)
	config.ResolveAPIKeys(cfg, logger)

	name, _ := cmd.Flags().GetString("name")

	dir, err := os.MkdirTemp("", "zohabot-chat-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	home, _ := os.UserHomeDir()
	con := console.New(console.Config{
		User:        name,
		HistoryFile: filepath.Join(home, ".zohabot_history"),
	}, nil, logger)

	botCfg := botConfig(cfg)
	botCfg.SessionFile = filepath.Join(dir, "session.json")
	botCfg.Poller.Interval = 300 * time.Millisecond
	botCfg.Settle = -1

	gemini, grok := newResponders(cfg, logger)
	b := bot.New(botCfg, bot.Deps{
		Factory: func(context.Context) (provider.ConversationProvider, error) { return con, nil },
		Gemini:  gemini,
		Grok:    grok,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer b.Shutdown(context.Background())

	fmt.Printf("%s is listening. Try .menu or .ping\n", cfg.Bot.Name)
	return console.RunREPL(ctx, con)
}
