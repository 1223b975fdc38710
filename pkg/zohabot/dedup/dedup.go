// Package dedup tracks the last observed message marker of each conversation
// so the poller handles every message once.
package dedup

import (
	"context"
	"log/slog"
	"sync"
)

// MarkerStore persists markers. *store.Store implements it.
type MarkerStore interface {
	Marker(ctx context.Context, conversationID string) (string, bool, error)
	SetMarker(ctx context.Context, conversationID, marker string) error
}

// Deduplicator decides whether a conversation's latest message is new.
//
// Equality is on the marker alone: if a message changes while its marker
// stays the same (an edit within the same minute, two sends under the same
// timestamp), the change is not observed.
type Deduplicator struct {
	store  MarkerStore
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]string
}

// New creates a Deduplicator. A nil store keeps markers in memory only.
func New(store MarkerStore, logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{
		store:  store,
		logger: logger.With("component", "dedup"),
		cache:  make(map[string]string),
	}
}

// IsNew reports whether marker differs from the one last recorded for the
// conversation, or no marker was recorded yet. A store read error is logged
// and the message is treated as new.
func (d *Deduplicator) IsNew(ctx context.Context, conversationID, marker string) bool {
	d.mu.Lock()
	cached, ok := d.cache[conversationID]
	d.mu.Unlock()
	if ok {
		return cached != marker
	}

	if d.store == nil {
		return true
	}
	stored, found, err := d.store.Marker(ctx, conversationID)
	if err != nil {
		d.logger.Warn("marker lookup failed", "conversation", conversationID, "error", err)
		return true
	}
	if !found {
		return true
	}

	d.mu.Lock()
	d.cache[conversationID] = stored
	d.mu.Unlock()
	return stored != marker
}

// Record overwrites the conversation's marker.
func (d *Deduplicator) Record(ctx context.Context, conversationID, marker string) {
	d.mu.Lock()
	d.cache[conversationID] = marker
	d.mu.Unlock()

	if d.store == nil {
		return
	}
	if err := d.store.SetMarker(ctx, conversationID, marker); err != nil {
		d.logger.Warn("marker write failed", "conversation", conversationID, "error", err)
	}
}

// Len returns the number of conversations tracked in memory.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}
