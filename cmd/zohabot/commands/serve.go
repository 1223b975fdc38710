package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/zohabot/pkg/zohabot/assets"
	"github.com/jholhewres/zohabot/pkg/zohabot/bot"
	"github.com/jholhewres/zohabot/pkg/zohabot/config"
	"github.com/jholhewres/zohabot/pkg/zohabot/gateway"
	"github.com/jholhewres/zohabot/pkg/zohabot/scheduler"
)

// newServeCmd creates the `zohabot serve` command that runs the bot and
// its HTTP gateway.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the HTTP gateway",
		Long: `Run zohabot as a service: restore the saved WhatsApp session (or
wait for pairing through the gateway), poll conversations and answer them.

Open http://localhost:8000 to pair and check the status.

Examples:
  zohabot serve
  zohabot serve --config ./zohabot.yaml
  PROVIDER=browser HEADLESS=false zohabot serve`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setupLogger(cmd, os.Stdout)
	if err != nil {
		return err
	}
	config.ResolveAPIKeys(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Assets ──
	assets.NewFetcher(nil, logger).EnsureProfilePic(ctx, cfg.Assets.ProfilePicPath, cfg.Assets.ProfilePicURL)

	// ── State ──
	state, err := openState(cfg)
	if err != nil {
		return err
	}
	if state != nil {
		defer state.Close()
		logger.Info("state store opened", "path", state.Path())
	} else {
		logger.Info("state kept in memory")
	}

	// ── Bot ──
	gemini, grok := newResponders(cfg, logger)
	b := bot.New(botConfig(cfg), bot.Deps{
		Factory: providerFactory(cfg, logger),
		Gemini:  gemini,
		Grok:    grok,
		State:   state,
	}, logger)

	// ── Housekeeping ──
	// Jobs are registered before Start so a bad schedule never leaves a
	// running provider behind.
	sched, err := newHousekeeping(cfg, b, state != nil, logger)
	if err != nil {
		return err
	}

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	gw := gateway.New(b, gateway.Config{
		Address:          cfg.Gateway.Address(),
		AuthToken:        cfg.Gateway.AuthToken,
		ActionsPerMinute: cfg.Gateway.ActionsPerMinute,
		ProfilePicPath:   cfg.Assets.ProfilePicPath,
	}, logger)

	logger.Info("zohabot running. Press Ctrl+C to stop.",
		"bot_name", cfg.Bot.Name,
		"provider", cfg.Provider.Kind,
		"address", cfg.Gateway.Address(),
		"admins", len(cfg.Bot.Admins),
		"ai", gemini.Configured(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gw.Run(gctx) })
	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	runErr := g.Wait()

	logger.Info("shutdown signal received, stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := b.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
	return runErr
}

// housekeeper is the part of *bot.Bot the scheduled jobs call.
type housekeeper interface {
	scheduler.SessionSaver
	scheduler.StateEvicter
}

// newHousekeeping builds the scheduler with the session save job and, when
// a state DB is open, the eviction job.
func newHousekeeping(cfg *config.Config, b housekeeper, evict bool, logger *slog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.New(logger)
	if err := sched.Add(scheduler.SaveSessionJob(cfg.Scheduler.SaveSession, b)); err != nil {
		return nil, err
	}
	if evict {
		if err := sched.Add(scheduler.EvictStateJob(cfg.Scheduler.EvictState, b, logger)); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
