// Package console implements provider.ConversationProvider on the local
// terminal. Lines typed at the prompt become messages of a single private
// conversation and the bot's replies are printed back, so the whole pipeline
// can be exercised without a phone.
package console

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
)

// ConversationID is the id of the only console conversation.
const ConversationID = "console"

// Config configures the console provider.
type Config struct {
	// User is the display name of the console conversation. Default "You".
	User string

	// Prompt is the readline prompt. Default "you> ".
	Prompt string

	// HistoryFile keeps readline history between runs. Optional.
	HistoryFile string
}

// Provider is the terminal ConversationProvider. It is safe for concurrent
// use: the REPL submits lines while the worker reads them.
type Provider struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	out    io.Writer
	latest provider.Snapshot
	seq    int
	closed bool
}

var _ provider.ConversationProvider = (*Provider)(nil)

// New creates a console provider printing to out (os.Stdout when nil).
func New(cfg Config, out io.Writer, logger *slog.Logger) *Provider {
	if cfg.User == "" {
		cfg.User = "You"
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "you> "
	}
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		cfg:    cfg,
		out:    out,
		logger: logger.With("component", "console"),
	}
}

// Submit records text as the newest incoming message.
func (p *Provider) Submit(text string) {
	p.record(provider.Snapshot{Text: text})
}

// SubmitImage records an incoming image. The digest is the file's SHA-256
// when it can be read, otherwise its path.
func (p *Provider) SubmitImage(path, caption string) {
	digest := path
	if data, err := os.ReadFile(path); err == nil {
		sum := sha256.Sum256(data)
		digest = hex.EncodeToString(sum[:])
	}
	p.record(provider.Snapshot{Text: caption, HasMedia: true, MediaDigest: digest})
}

func (p *Provider) record(snap provider.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	snap.Marker = strconv.Itoa(p.seq)
	snap.Timestamp = time.Now()
	p.latest = snap
}

// setOutput redirects replies, used by the REPL to print above the prompt.
func (p *Provider) setOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = w
}

// Name returns "console".
func (p *Provider) Name() string { return "console" }

// ListConversations returns the console conversation.
func (p *Provider) ListConversations(_ context.Context, limit int) ([]provider.Conversation, error) {
	if p.isClosed() {
		return nil, provider.ErrClosed
	}
	if limit == 0 {
		return nil, nil
	}
	return []provider.Conversation{{ID: ConversationID, Name: p.cfg.User}}, nil
}

// LatestMessage returns the last submitted line.
func (p *Provider) LatestMessage(_ context.Context, conv provider.Conversation) (provider.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return provider.Snapshot{}, provider.ErrClosed
	}
	if conv.ID != ConversationID || p.seq == 0 {
		return provider.Snapshot{}, provider.ErrNoMessage
	}
	return p.latest, nil
}

// SendText prints text. Messages for other targets (admin notifications)
// are labelled with the target.
func (p *Provider) SendText(_ context.Context, target, text string) error {
	return p.print(target, text)
}

// SendImage prints the image path.
func (p *Provider) SendImage(_ context.Context, target, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("image unavailable: %w", err)
	}
	return p.print(target, "[image] "+path)
}

func (p *Provider) print(target, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return provider.ErrClosed
	}
	prefix := "🤖"
	if target != ConversationID && target != p.cfg.User {
		prefix = "🤖 → " + target
	}
	_, err := fmt.Fprintf(p.out, "%s: %s\n", prefix, strings.TrimRight(text, "\n"))
	return err
}

// IsConnected is true until Close.
func (p *Provider) IsConnected(_ context.Context) bool { return !p.isClosed() }

// BeginPairing is not supported: the console is always linked.
func (p *Provider) BeginPairing(_ context.Context) (provider.QR, error) {
	return provider.QR{}, provider.ErrUnsupported
}

type consoleSession struct {
	User string `json:"user"`
}

// ExportSession returns the conversation name.
func (p *Provider) ExportSession(_ context.Context) ([]byte, error) {
	if p.isClosed() {
		return nil, provider.ErrClosed
	}
	return json.Marshal(consoleSession{User: p.cfg.User})
}

// RestoreSession accepts a blob written by ExportSession.
func (p *Provider) RestoreSession(_ context.Context, blob []byte) error {
	var s consoleSession
	if err := json.Unmarshal(blob, &s); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	return nil
}

// Close stops accepting calls.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Provider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
