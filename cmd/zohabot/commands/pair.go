package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"github.com/jholhewres/zohabot/pkg/zohabot/bot"
	"github.com/jholhewres/zohabot/pkg/zohabot/config"
	"github.com/jholhewres/zohabot/pkg/zohabot/session"
)

// newPairCmd creates the `zohabot pair` command that links the bot from the
// terminal.
func newPairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Link the bot to WhatsApp from the terminal",
		Long: `Start a pairing challenge and print the QR code in the terminal.
Scan it with WhatsApp (Linked devices) and the session is saved for serve.

Examples:
  zohabot pair
  zohabot pair --attempts 5
  zohabot pair --qr-file qr.png`,
		RunE: runPair,
	}
	cmd.Flags().Int("attempts", 3, "number of QR codes to issue before giving up")
	cmd.Flags().String("qr-file", "pairing-qr.png", "where to write the QR image when it cannot be drawn in the terminal")
	return cmd
}

func runPair(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setupLogger(cmd, os.Stderr)
	if err != nil {
		return err
	}
	config.ResolveAPIKeys(cfg, logger)
	attempts, _ := cmd.Flags().GetInt("attempts")
	qrFile, _ := cmd.Flags().GetString("qr-file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gemini, grok := newResponders(cfg, logger)
	b := bot.New(botConfig(cfg), bot.Deps{
		Factory: providerFactory(cfg, logger),
		Gemini:  gemini,
		Grok:    grok,
	}, logger)
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer b.Shutdown(context.Background())

	// A saved session may still be valid.
	if b.Status().SessionSaved && waitConnected(ctx, b, cfg.Session.LoadTimeout+2*time.Second) {
		fmt.Println("✅ Already paired. Session is valid.")
		return nil
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		ch, err := b.Pair(ctx)
		if err != nil {
			return fmt.Errorf("pairing: %w", err)
		}
		if err := printChallenge(os.Stdout, ch, qrFile); err != nil {
			return err
		}

		err = b.Instance().Pairing.Await(ctx, ch.ID)
		switch {
		case err == nil:
			fmt.Printf("✅ Paired. Session saved to %s\n", cfg.Session.File)
			return nil
		case errors.Is(err, session.ErrPairingTimeout) && attempt < attempts:
			fmt.Println("⌛ QR expired, issuing a new one...")
		default:
			return fmt.Errorf("pairing: %w", err)
		}
	}
	return session.ErrPairingTimeout
}

// printChallenge draws the QR in the terminal when the raw payload is known,
// and otherwise writes the PNG to qrFile.
func printChallenge(w io.Writer, ch session.Challenge, qrFile string) error {
	fmt.Fprintln(w)
	switch {
	case ch.QRCode != "":
		qrterminal.GenerateHalfBlock(ch.QRCode, qrterminal.L, w)
	case len(ch.QRImage) > 0:
		if err := os.WriteFile(qrFile, ch.QRImage, 0o600); err != nil {
			return fmt.Errorf("writing QR image: %w", err)
		}
		fmt.Fprintf(w, "QR code written to %s\n", qrFile)
	}
	fmt.Fprintf(w, "\nScan the QR code with WhatsApp > Linked devices.\n")
	fmt.Fprintf(w, "Pairing code: %s\n", ch.Code)
	if ch.LinkCode != "" {
		fmt.Fprintf(w, "Phone link code: %s\n", ch.LinkCode)
	}
	fmt.Fprintln(w)
	return nil
}

// waitConnected polls the bot status until it reports connected or the
// timeout passes.
func waitConnected(ctx context.Context, b *bot.Bot, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.Status().Connected {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
