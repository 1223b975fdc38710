// Package dispatch sends outbound messages through the provider and reports
// what happened to each one as a Result instead of an error.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
)

// Outcome classifies a send.
type Outcome int

const (
	// Delivered means the provider accepted the message as requested.
	Delivered Outcome = iota
	// Degraded means the message was replaced by a textual fallback that
	// was delivered.
	Degraded
	// Dropped means nothing was delivered. Dropped messages are not retried.
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Degraded:
		return "degraded"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of one send. Err holds the provider error behind a
// Degraded or Dropped outcome.
type Result struct {
	Outcome Outcome
	Err     error
}

// OK reports whether something reached the target.
func (r Result) OK() bool { return r.Outcome != Dropped }

// Config configures a Dispatcher.
type Config struct {
	// Settle is the pause after each delivered text. Default 1s.
	Settle time.Duration
}

// Dispatcher performs outbound sends.
type Dispatcher struct {
	provider provider.ConversationProvider
	settle   time.Duration
	logger   *slog.Logger
}

// New creates a Dispatcher. Pass a negative Settle to disable the pause.
func New(cfg Config, p provider.ConversationProvider, logger *slog.Logger) *Dispatcher {
	if cfg.Settle == 0 {
		cfg.Settle = time.Second
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		provider: p,
		settle:   cfg.Settle,
		logger:   logger.With("component", "dispatch"),
	}
}

// SendText sends text to target and waits the settle delay.
func (d *Dispatcher) SendText(ctx context.Context, target, text string) Result {
	if err := d.provider.SendText(ctx, target, text); err != nil {
		d.logger.Warn("send text failed, message dropped", "target", target, "error", err)
		return Result{Outcome: Dropped, Err: err}
	}
	d.logger.Debug("text sent", "target", target, "length", len(text))
	d.pause(ctx)
	return Result{Outcome: Delivered}
}

// SendImage sends the image file at path to target. On failure it sends a
// text naming the path instead.
func (d *Dispatcher) SendImage(ctx context.Context, target, path string) Result {
	err := d.provider.SendImage(ctx, target, path)
	if err == nil {
		d.logger.Debug("image sent", "target", target, "path", path)
		return Result{Outcome: Delivered}
	}

	d.logger.Warn("send image failed, falling back to text", "target", target, "path", path, "error", err)
	if r := d.SendText(ctx, target, ImageFallback(path)); !r.OK() {
		return r
	}
	return Result{Outcome: Degraded, Err: err}
}

// ImageFallback is the text sent in place of an image that could not be sent.
func ImageFallback(path string) string {
	return "📸 Image: " + path
}

func (d *Dispatcher) pause(ctx context.Context) {
	if d.settle <= 0 {
		return
	}
	t := time.NewTimer(d.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
