// Package bot assembles the pipeline around one provider session and
// replaces the whole assembly when the operator asks for a restart.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jholhewres/zohabot/pkg/zohabot/dedup"
	"github.com/jholhewres/zohabot/pkg/zohabot/poller"
	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
	"github.com/jholhewres/zohabot/pkg/zohabot/relay"
	"github.com/jholhewres/zohabot/pkg/zohabot/responder"
	"github.com/jholhewres/zohabot/pkg/zohabot/router"
	"github.com/jholhewres/zohabot/pkg/zohabot/session"
	"github.com/jholhewres/zohabot/pkg/zohabot/store"
)

// ErrNotRunning is returned when no session instance is running.
var ErrNotRunning = errors.New("bot not running")

// ProviderFactory opens a fresh provider for a new session generation.
type ProviderFactory func(ctx context.Context) (provider.ConversationProvider, error)

// Config holds the bot's settings.
type Config struct {
	BotName        string
	Creator        string
	Admins         []string
	ProfilePicPath string

	SessionFile       string
	SessionPassphrase string

	Poller   poller.Config
	Pairing  session.CoordinatorConfig
	LoadWait time.Duration

	// Settle is the pause after each sent text (default 1s, negative disables).
	Settle time.Duration
	// MenuPause is the pause between the menu and the profile picture.
	MenuPause time.Duration
	// SaveTimeout bounds the session save on teardown. Default 10s.
	SaveTimeout time.Duration
}

// Deps are the collaborators shared by every generation.
type Deps struct {
	Factory ProviderFactory

	// Gemini answers mentions, private chats and `.gemini`.
	Gemini *responder.Service
	// Grok answers `.grok`; nil falls back to Gemini.
	Grok *responder.Service

	// State, when set, makes markers and forwarded media ids durable.
	State *store.Store
}

// Status is a point-in-time view of the bot. It never touches the provider.
type Status struct {
	Connected    bool          `json:"connected"`
	State        string        `json:"state"`
	Generation   uint64        `json:"generation"`
	BotName      string        `json:"bot_name"`
	Creator      string        `json:"creator"`
	SessionSaved bool          `json:"session_saved"`
	ProfilePic   bool          `json:"profile_pic"`
	Backend      string        `json:"backend,omitempty"`
	Provider     string        `json:"provider,omitempty"`
	Uptime       time.Duration `json:"-"`
	Poller       poller.Stats  `json:"poller"`
}

// Bot owns the current Instance.
type Bot struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	started time.Time

	// Shared across generations so a restart does not re-handle messages
	// and media already seen in this process.
	dedup     *dedup.Deduplicator
	forwarded relay.ForwardedSet

	// lifecycle serializes Start, Restart and Shutdown. mu guards the
	// fields below and is not held while an instance stops.
	lifecycle  sync.Mutex
	mu         sync.RWMutex
	generation uint64
	current    *Instance
	closed     bool
}

// New creates a Bot. Call Start to open the first session.
func New(cfg Config, deps Deps, logger *slog.Logger) *Bot {
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bot")

	b := &Bot{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		started: time.Now(),
	}
	if deps.State != nil {
		b.dedup = dedup.New(deps.State, logger)
		b.forwarded = deps.State
	} else {
		b.dedup = dedup.New(nil, logger)
		b.forwarded = relay.NewMemorySet()
	}
	return b
}

// Start opens the first session generation and tries to restore the saved
// session in the background.
func (b *Bot) Start(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.RLock()
	closed, running, next := b.closed, b.current != nil, b.generation+1
	b.mu.RUnlock()
	if closed {
		return ErrNotRunning
	}
	if running {
		return nil
	}

	inst, err := b.newInstance(ctx, next)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.generation = next
	b.current = inst
	b.mu.Unlock()
	b.logger.Info("bot started", "bot_name", b.cfg.BotName, "generation", next)
	return nil
}

// Restart tears the current instance down and starts a new generation in
// Disconnected. Outstanding pairing challenges are discarded.
func (b *Bot) Restart(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrNotRunning
	}
	old := b.current
	b.current = nil
	b.generation++
	next := b.generation
	b.mu.Unlock()

	if old != nil {
		old.stop(b.cfg.SaveTimeout)
	}

	inst, err := b.newInstance(ctx, next)
	if err != nil {
		b.logger.Error("restart failed", "generation", next, "error", err)
		return err
	}
	b.mu.Lock()
	b.current = inst
	b.mu.Unlock()
	b.logger.Info("bot restarted", "generation", next)
	return nil
}

// Shutdown stops the current instance, saving its session if connected.
func (b *Bot) Shutdown(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	inst := b.current
	b.current = nil
	b.mu.Unlock()

	if inst == nil {
		return nil
	}
	timeout := b.cfg.SaveTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}
	inst.stop(timeout)
	b.logger.Info("cleanup complete")
	return nil
}

// Instance returns the running instance, or nil.
func (b *Bot) Instance() *Instance {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Pair issues a pairing challenge on the current instance.
func (b *Bot) Pair(ctx context.Context) (session.Challenge, error) {
	inst := b.Instance()
	if inst == nil {
		return session.Challenge{}, ErrNotRunning
	}
	return inst.Pairing.Begin(ctx)
}

// Challenge returns the outstanding pairing challenge, if any.
func (b *Bot) Challenge() (session.Challenge, bool) {
	inst := b.Instance()
	if inst == nil {
		return session.Challenge{}, false
	}
	return inst.Pairing.Current()
}

// SaveSession persists the current session if it is connected.
func (b *Bot) SaveSession(ctx context.Context) error {
	inst := b.Instance()
	if inst == nil {
		return ErrNotRunning
	}
	if !inst.Session.Connected() {
		return nil
	}
	return inst.Store.Save(ctx)
}

// Status returns the current status snapshot.
func (b *Bot) Status() Status {
	st := Status{
		State:        session.Disconnected.String(),
		BotName:      b.cfg.BotName,
		Creator:      b.cfg.Creator,
		SessionSaved: fileExists(b.cfg.SessionFile),
		ProfilePic:   fileExists(b.cfg.ProfilePicPath),
		Backend:      b.deps.Gemini.BackendName(),
		Uptime:       time.Since(b.started),
	}

	b.mu.RLock()
	inst := b.current
	st.Generation = b.generation
	b.mu.RUnlock()

	if inst != nil {
		st.Connected = inst.Session.Connected()
		st.State = inst.Session.State().String()
		st.Provider = inst.Worker.Name()
		st.Poller = inst.Poller.Stats()
	}
	return st
}

// routerStatus adapts Status for the `.status` command.
func (b *Bot) routerStatus() router.Status {
	st := b.Status()
	backend := ""
	switch st.Backend {
	case "gemini":
		backend = "Gemini"
	case "":
	default:
		backend = st.Backend
	}
	return router.Status{
		Connected:    st.Connected,
		Backend:      backend,
		SessionSaved: st.SessionSaved,
		ProfilePic:   st.ProfilePic,
		Uptime:       st.Uptime,
	}
}

// EvictState removes expired durable state. It is a no-op without a state store.
func (b *Bot) EvictState(ctx context.Context) (int64, error) {
	if b.deps.State == nil {
		return 0, nil
	}
	n, err := b.deps.State.EvictExpired(ctx)
	if err != nil {
		return n, fmt.Errorf("evict state: %w", err)
	}
	return n, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
