// Package relay notifies the operator's admin numbers when a conversation
// receives media, once per media event.
package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/zohabot/pkg/zohabot/dispatch"
	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
)

// Ack is sent back to the conversation the media came from.
const Ack = "✅"

// ForwardedSet remembers which media ids were relayed. *store.Store
// implements it durably; NewMemorySet keeps it in memory.
type ForwardedSet interface {
	Forwarded(ctx context.Context, mediaID string) (bool, error)
	MarkForwarded(ctx context.Context, mediaID, conversationID string) error
}

// Sender sends a text message. *dispatch.Dispatcher implements it.
type Sender interface {
	SendText(ctx context.Context, target, text string) dispatch.Result
}

// Relay sends admin notifications for media events.
type Relay struct {
	admins    []string
	adminKeys map[string]struct{}
	forwarded ForwardedSet
	sender    Sender
	logger    *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	// mu makes the check-notify-mark sequence atomic per relay.
	mu sync.Mutex
}

// New creates a Relay. admins is copied; later changes to the slice are not seen.
func New(admins []string, forwarded ForwardedSet, sender Sender, logger *slog.Logger) *Relay {
	if forwarded == nil {
		forwarded = NewMemorySet()
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{
		adminKeys: make(map[string]struct{}),
		forwarded: forwarded,
		sender:    sender,
		logger:    logger.With("component", "relay"),
		now:       time.Now,
	}
	for _, a := range admins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		r.admins = append(r.admins, a)
		r.adminKeys[normalize(a)] = struct{}{}
	}
	return r
}

// Admins returns the configured admin targets.
func (r *Relay) Admins() []string {
	return append([]string(nil), r.admins...)
}

// MediaID identifies a media event: the conversation id plus a fingerprint
// of the message marker and the provider's media digest. Without a marker it
// falls back to the conversation id plus the current epoch second.
func (r *Relay) MediaID(conv provider.Conversation, snap provider.Snapshot) string {
	if snap.Marker == "" {
		return conv.ID + ":" + strconv.FormatInt(r.now().Unix(), 10)
	}
	sum := sha256.Sum256([]byte(snap.Marker + "\x00" + snap.MediaDigest))
	return conv.ID + ":" + hex.EncodeToString(sum[:8])
}

// Handle relays a media snapshot. It returns false when the event was
// already relayed and nothing was sent.
func (r *Relay) Handle(ctx context.Context, conv provider.Conversation, snap provider.Snapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.MediaID(conv, snap)
	seen, err := r.forwarded.Forwarded(ctx, id)
	if err != nil {
		r.logger.Warn("forwarded lookup failed", "media_id", id, "error", err)
	}
	if seen {
		return false
	}

	r.logger.Info("media received", "conversation", conv.Name, "media_id", id)

	text := Notification(conv.Name, r.now())
	for _, admin := range r.admins {
		if res := r.sender.SendText(ctx, admin, text); !res.OK() {
			r.logger.Warn("admin notification dropped", "admin", admin, "error", res.Err)
		}
	}

	if err := r.forwarded.MarkForwarded(ctx, id, conv.ID); err != nil {
		r.logger.Warn("forwarded write failed", "media_id", id, "error", err)
	}

	if !r.IsAdmin(conv) {
		r.sender.SendText(ctx, conv.ID, Ack)
	}
	return true
}

// IsAdmin reports whether the conversation is one of the admin targets,
// matched on id or display name.
func (r *Relay) IsAdmin(conv provider.Conversation) bool {
	if _, ok := r.adminKeys[normalize(conv.ID)]; ok {
		return true
	}
	_, ok := r.adminKeys[normalize(conv.Name)]
	return ok
}

// Notification formats the admin message for a media event.
func Notification(source string, at time.Time) string {
	return fmt.Sprintf("📥 Media received from: %s\n🕐 Time: %s", source, at.Format("15:04:05"))
}

// normalize strips the server part of a JID and phone-number punctuation so
// "+1 555-0100", "15550100" and "15550100@s.whatsapp.net" compare equal.
func normalize(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '@'); i > 0 {
		s = s[:i]
	}
	s = strings.NewReplacer("+", "", " ", "", "-", "", "(", "", ")", "").Replace(s)
	return strings.ToLower(s)
}

// MemorySet is an in-memory ForwardedSet.
type MemorySet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewMemorySet returns an empty MemorySet.
func NewMemorySet() *MemorySet {
	return &MemorySet{ids: make(map[string]struct{})}
}

// Forwarded implements ForwardedSet.
func (m *MemorySet) Forwarded(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[id]
	return ok, nil
}

// MarkForwarded implements ForwardedSet.
func (m *MemorySet) MarkForwarded(_ context.Context, id, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[id] = struct{}{}
	return nil
}
