package whatsapp

import (
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
)

type chatEntry struct {
	conv provider.Conversation
	snap provider.Snapshot
	seen time.Time
}

// index holds the latest message per chat. Event handlers write to it from
// whatsmeow goroutines; the pipeline reads it through the provider worker.
type index struct {
	mu    sync.Mutex
	chats map[string]*chatEntry
	max   int
}

func newIndex(max int) *index {
	return &index{chats: make(map[string]*chatEntry), max: max}
}

// observe records snap as the latest message of conv. A non-empty name
// replaces the stored one.
func (ix *index) observe(conv provider.Conversation, snap provider.Snapshot, at time.Time) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.chats[conv.ID]
	if !ok {
		e = &chatEntry{}
		ix.chats[conv.ID] = e
	}
	if conv.Name != "" || e.conv.Name == "" {
		e.conv.Name = conv.Name
	}
	if e.conv.Name == "" {
		e.conv.Name = conv.ID
	}
	e.conv.ID = conv.ID
	e.conv.IsGroup = conv.IsGroup
	e.snap = snap
	e.seen = at

	if len(ix.chats) > ix.max {
		ix.evictOldestLocked()
	}
}

func (ix *index) evictOldestLocked() {
	var oldest string
	var oldestAt time.Time
	for id, e := range ix.chats {
		if oldest == "" || e.seen.Before(oldestAt) {
			oldest, oldestAt = id, e.seen
		}
	}
	delete(ix.chats, oldest)
}

// list returns up to limit chats, most recent first.
func (ix *index) list(limit int) []provider.Conversation {
	ix.mu.Lock()
	entries := make([]*chatEntry, 0, len(ix.chats))
	for _, e := range ix.chats {
		entries = append(entries, e)
	}
	ix.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seen.After(entries[j].seen) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]provider.Conversation, len(entries))
	for i, e := range entries {
		out[i] = e.conv
	}
	return out
}

func (ix *index) latest(id string) (provider.Snapshot, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.chats[id]
	if !ok {
		return provider.Snapshot{}, false
	}
	return e.snap, true
}

func (ix *index) reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.chats = make(map[string]*chatEntry)
}

// ---------- Events ----------

// handleEvent is the whatsmeow event dispatcher.
func (p *Provider) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		p.handleMessage(evt)
	case *events.Connected:
		p.logger.Info("connected")
	case *events.Disconnected:
		p.logger.Warn("disconnected")
	case *events.LoggedOut:
		p.logger.Warn("logged out from phone", "reason", evt.Reason.String())
	case *events.PairSuccess:
		p.logger.Info("device paired", "jid", evt.ID.String(), "platform", evt.Platform)
	case *events.StreamReplaced:
		p.logger.Warn("stream replaced by another client")
	}
}

func (p *Provider) handleMessage(evt *events.Message) {
	// Skip status broadcasts.
	if evt.Info.Chat.Server == types.BroadcastServer {
		return
	}
	snap, ok := snapshotOf(evt)
	if !ok {
		return
	}
	conv := provider.Conversation{
		ID:      evt.Info.Chat.String(),
		IsGroup: evt.Info.IsGroup,
		Name:    p.displayName(evt),
	}
	p.index.observe(conv, snap, evt.Info.Timestamp)
}

// displayName picks the best name for the chat of evt.
func (p *Provider) displayName(evt *events.Message) string {
	if evt.Info.IsGroup {
		return ""
	}
	if c := p.currentClient(); c != nil && c.Store != nil && c.Store.Contacts != nil {
		if contact, err := c.Store.Contacts.GetContact(p.ctx, evt.Info.Chat); err == nil && contact.Found {
			switch {
			case contact.FullName != "":
				return contact.FullName
			case contact.FirstName != "":
				return contact.FirstName
			case contact.PushName != "":
				return contact.PushName
			case contact.BusinessName != "":
				return contact.BusinessName
			}
		}
	}
	if !evt.Info.IsFromMe {
		return evt.Info.PushName
	}
	return ""
}

// snapshotOf converts a message event. Protocol messages (revokes, edits,
// key distribution) and reactions are not observable.
func snapshotOf(evt *events.Message) (provider.Snapshot, bool) {
	msg := evt.Message
	if msg == nil {
		return provider.Snapshot{}, false
	}
	snap := provider.Snapshot{
		Marker:    string(evt.Info.ID),
		Outgoing:  evt.Info.IsFromMe,
		Timestamp: evt.Info.Timestamp,
	}

	switch {
	case msg.Conversation != nil:
		snap.Text = msg.GetConversation()
	case msg.ExtendedTextMessage != nil:
		snap.Text = msg.GetExtendedTextMessage().GetText()
	case msg.ImageMessage != nil:
		img := msg.GetImageMessage()
		snap.Text = img.GetCaption()
		setMedia(&snap, img.GetFileSHA256())
	case msg.VideoMessage != nil:
		vid := msg.GetVideoMessage()
		snap.Text = vid.GetCaption()
		setMedia(&snap, vid.GetFileSHA256())
	case msg.DocumentMessage != nil:
		doc := msg.GetDocumentMessage()
		snap.Text = doc.GetCaption()
		setMedia(&snap, doc.GetFileSHA256())
	case msg.AudioMessage != nil:
		setMedia(&snap, msg.GetAudioMessage().GetFileSHA256())
	case msg.StickerMessage != nil:
		setMedia(&snap, msg.GetStickerMessage().GetFileSHA256())
	default:
		return provider.Snapshot{}, false
	}
	return snap, true
}

func setMedia(snap *provider.Snapshot, sha []byte) {
	snap.HasMedia = true
	if len(sha) > 0 {
		snap.MediaDigest = hex.EncodeToString(sha)
	}
}
