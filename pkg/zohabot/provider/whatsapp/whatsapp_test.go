package whatsapp

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
)

func msgEvent(chat types.JID, id string, fromMe bool, at time.Time, m *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:     chat,
				Sender:   chat,
				IsFromMe: fromMe,
				IsGroup:  chat.Server == types.GroupServer,
			},
			ID:        types.MessageID(id),
			PushName:  "Dana",
			Timestamp: at,
		},
		Message: m,
	}
}

func TestSnapshotOf(t *testing.T) {
	chat := types.NewJID("15550100", types.DefaultUserServer)
	at := time.Date(2025, 2, 7, 15, 59, 5, 0, time.UTC)

	tests := []struct {
		name   string
		msg    *waE2E.Message
		ok     bool
		text   string
		media  bool
		digest string
	}{
		{"conversation", &waE2E.Message{Conversation: proto.String(".ping")}, true, ".ping", false, ""},
		{"extended", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi @Zoha AI")}}, true, "hi @Zoha AI", false, ""},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look"), FileSHA256: []byte{0xab, 0xcd}}}, true, "look", true, "abcd"},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, true, "", true, ""},
		{"reaction", &waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{Text: proto.String("👍")}}, false, "", false, ""},
		{"nil", nil, false, "", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, ok := snapshotOf(msgEvent(chat, "ID1", false, at, tt.msg))
			if ok != tt.ok {
				t.Fatalf("ok=%v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if snap.Marker != "ID1" || !snap.Timestamp.Equal(at) {
				t.Errorf("unexpected marker/timestamp %+v", snap)
			}
			if snap.Text != tt.text || snap.HasMedia != tt.media || snap.MediaDigest != tt.digest {
				t.Errorf("got %+v", snap)
			}
		})
	}
}

func TestIndex(t *testing.T) {
	ix := newIndex(2)
	base := time.Now()

	ix.observe(provider.Conversation{ID: "a", Name: "Alice"}, provider.Snapshot{Marker: "1"}, base)
	ix.observe(provider.Conversation{ID: "b"}, provider.Snapshot{Marker: "2"}, base.Add(time.Second))
	ix.observe(provider.Conversation{ID: "a"}, provider.Snapshot{Marker: "3"}, base.Add(2*time.Second))

	list := ix.list(10)
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("unexpected order %+v", list)
	}
	if list[0].Name != "Alice" {
		t.Errorf("expected name to survive an unnamed update, got %q", list[0].Name)
	}
	if list[1].Name != "b" {
		t.Errorf("expected id as fallback name, got %q", list[1].Name)
	}
	if snap, _ := ix.latest("a"); snap.Marker != "3" {
		t.Errorf("expected latest marker 3, got %q", snap.Marker)
	}

	// A third chat evicts the least recently seen one.
	ix.observe(provider.Conversation{ID: "c"}, provider.Snapshot{Marker: "4"}, base.Add(3*time.Second))
	if _, ok := ix.latest("b"); ok {
		t.Error("expected b to be evicted")
	}
	if got := ix.list(1); len(got) != 1 || got[0].ID != "c" {
		t.Errorf("expected limit to apply, got %+v", got)
	}

	ix.reset()
	if len(ix.list(0)) != 0 {
		t.Error("expected empty index after reset")
	}
}

func TestParseJID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 (555) 010-0123", "15550100123@s.whatsapp.net", false},
		{"15550100123@s.whatsapp.net", "15550100123@s.whatsapp.net", false},
		{"120363000000000000@g.us", "120363000000000000@g.us", false},
		{"", "", true},
		{"12", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			jid, err := parseJID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v", err)
			}
			if err == nil && jid.String() != tt.want {
				t.Errorf("got %q, want %q", jid.String(), tt.want)
			}
		})
	}
}

func TestProviderWithoutSession(t *testing.T) {
	ctx := context.Background()
	p, err := Open(ctx, Config{DatabasePath: filepath.Join(t.TempDir(), "wa", "whatsapp.db")}, slog.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if p.Name() != "whatsapp" || p.IsConnected(ctx) {
		t.Error("expected a disconnected whatsapp provider")
	}
	if _, err := p.ListConversations(ctx, 15); !errors.Is(err, provider.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := p.SendText(ctx, "15550100", "hi"); !errors.Is(err, provider.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if _, err := p.ExportSession(ctx); !errors.Is(err, provider.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := p.RestoreSession(ctx, []byte("not a jid@@")); err == nil {
		t.Error("expected restore of garbage to fail")
	}
	if err := p.RestoreSession(ctx, []byte("15550100:1@s.whatsapp.net")); err == nil {
		t.Error("expected restore of unknown device to fail")
	}

	// Messages observed through the event handler land in the index.
	chat := types.NewJID("15550100", types.DefaultUserServer)
	p.handleEvent(msgEvent(chat, "M1", false, time.Now(), &waE2E.Message{Conversation: proto.String("hello")}))
	p.handleEvent(msgEvent(types.NewJID("status", types.BroadcastServer), "M2", false, time.Now(), &waE2E.Message{Conversation: proto.String("story")}))
	if got := p.index.list(0); len(got) != 1 || got[0].Name != "Dana" {
		t.Errorf("unexpected index %+v", got)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.BeginPairing(ctx); !errors.Is(err, provider.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
