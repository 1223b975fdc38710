// Package poller runs the loop that watches recent conversations and feeds
// new messages to the media relay and the command router.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
	"github.com/jholhewres/zohabot/pkg/zohabot/router"
)

// Deduplicator decides whether a marker is new. *dedup.Deduplicator
// implements it.
type Deduplicator interface {
	IsNew(ctx context.Context, conversationID, marker string) bool
	Record(ctx context.Context, conversationID, marker string)
}

// MediaHandler relays media events. *relay.Relay implements it.
type MediaHandler interface {
	Handle(ctx context.Context, conv provider.Conversation, snap provider.Snapshot) bool
}

// TextHandler routes text messages. *router.Router implements it.
type TextHandler interface {
	Handle(ctx context.Context, conv provider.Conversation, text string) router.Route
}

// ProbeObserver receives connection probe results. *session.Session
// implements it.
type ProbeObserver interface {
	ObserveProbe(connected bool)
}

// Config configures a Poller.
type Config struct {
	// Interval is the pause between cycles. Default 3s.
	Interval time.Duration
	// Backoff is the pause after a failed connection probe. Default 5s.
	Backoff time.Duration
	// ProbeTimeout bounds the connection probe. Default 5s.
	ProbeTimeout time.Duration
	// Window is how many recent conversations a cycle inspects. Default 15.
	Window int
}

// Stats counts poller activity.
type Stats struct {
	Cycles    uint64 `json:"cycles"`
	Handled   uint64 `json:"handled"`
	Media     uint64 `json:"media"`
	Failures  uint64 `json:"failures"`
	LastCycle int64  `json:"last_cycle_unix,omitempty"`
}

// Poller is the orchestrating loop.
type Poller struct {
	cfg      Config
	provider provider.ConversationProvider
	dedup    Deduplicator
	media    MediaHandler
	text     TextHandler
	observer ProbeObserver
	logger   *slog.Logger

	cycles    atomic.Uint64
	handled   atomic.Uint64
	mediaSeen atomic.Uint64
	failures  atomic.Uint64
	lastCycle atomic.Int64
}

// New creates a Poller. observer may be nil.
func New(cfg Config, p provider.ConversationProvider, dedup Deduplicator, media MediaHandler, text TextHandler, observer ProbeObserver, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 15
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:      cfg,
		provider: p,
		dedup:    dedup,
		media:    media,
		text:     text,
		observer: observer,
		logger:   logger.With("component", "poller"),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("message monitor started", "interval", p.cfg.Interval, "window", p.cfg.Window)
	defer p.logger.Info("message monitor stopped")

	for {
		wait := p.cfg.Interval
		if !p.Cycle(ctx) {
			wait = p.cfg.Backoff
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Cycle runs one poll cycle. It returns false when the connection probe
// failed and no conversation was inspected.
func (p *Poller) Cycle(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	connected := p.provider.IsConnected(pctx)
	cancel()
	if p.observer != nil && ctx.Err() == nil {
		p.observer.ObserveProbe(connected)
	}
	if !connected {
		return false
	}

	p.cycles.Add(1)
	p.lastCycle.Store(time.Now().Unix())

	convs, err := p.provider.ListConversations(ctx, p.cfg.Window)
	if err != nil {
		if ctx.Err() == nil {
			p.failures.Add(1)
			p.logger.Warn("list conversations failed", "error", err)
		}
		return true
	}
	if len(convs) > p.cfg.Window {
		convs = convs[:p.cfg.Window]
	}

	for _, conv := range convs {
		if ctx.Err() != nil {
			return true
		}
		p.inspect(ctx, conv)
	}
	return true
}

func (p *Poller) inspect(ctx context.Context, conv provider.Conversation) {
	snap, err := p.provider.LatestMessage(ctx, conv)
	if err != nil {
		if !errors.Is(err, provider.ErrNoMessage) && ctx.Err() == nil {
			p.failures.Add(1)
			p.logger.Debug("latest message unavailable", "conversation", conv.Name, "error", err)
		}
		return
	}
	if snap.Marker == "" {
		return
	}
	if !p.dedup.IsNew(ctx, conv.ID, snap.Marker) {
		return
	}
	// Recorded whether or not handling succeeds, so a message that cannot
	// be handled is skipped rather than retried every cycle.
	defer p.dedup.Record(ctx, conv.ID, snap.Marker)

	if snap.Outgoing {
		return
	}

	switch {
	case snap.HasMedia:
		p.mediaSeen.Add(1)
		p.media.Handle(ctx, conv, snap)
	case snap.Text != "":
		p.handled.Add(1)
		p.text.Handle(ctx, conv, snap.Text)
	}
}

// Stats returns activity counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:    p.cycles.Load(),
		Handled:   p.handled.Load(),
		Media:     p.mediaSeen.Load(),
		Failures:  p.failures.Load(),
		LastCycle: p.lastCycle.Load(),
	}
}
