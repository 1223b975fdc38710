package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

const replHelp = `Type a message to send it to the bot.
  /image <path> [caption]   send an image
  /help                     show this help
  /quit                     exit`

// RunREPL reads lines from the terminal and submits them to p until the
// user quits or ctx is cancelled.
func RunREPL(ctx context.Context, p *Provider) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          p.cfg.Prompt,
		HistoryFile:     p.cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}

	p.setOutput(rl.Stdout())
	fmt.Fprintln(rl.Stdout(), replHelp)

	// Readline blocks; closing it unblocks the loop on cancellation.
	stop := context.AfterFunc(ctx, func() { rl.Close() })
	defer func() {
		if stop() {
			rl.Close()
		}
	}()

	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if quit := p.handleLine(line, rl.Stdout()); quit {
			return nil
		}
	}
}

// handleLine interprets one REPL line and reports whether to exit.
func (p *Provider) handleLine(line string, out io.Writer) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit" || line == "/exit":
		return true
	case line == "/help":
		fmt.Fprintln(out, replHelp)
	case strings.HasPrefix(line, "/image"):
		fields := strings.Fields(strings.TrimPrefix(line, "/image"))
		if len(fields) == 0 {
			fmt.Fprintln(out, "usage: /image <path> [caption]")
			return false
		}
		p.SubmitImage(fields[0], strings.Join(fields[1:], " "))
	default:
		p.Submit(line)
	}
	return false
}
