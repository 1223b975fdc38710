// Package providertest provides an in-memory ConversationProvider for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
)

// Sent records one outbound call.
type Sent struct {
	Target string
	Text   string
	Image  string
}

// Fake is a scriptable ConversationProvider. All fields guarded by mu; use
// the setters from tests.
type Fake struct {
	mu sync.Mutex

	connected     bool
	conversations []provider.Conversation
	snapshots     map[string]provider.Snapshot
	snapshotErr   map[string]error

	qr            provider.QR
	pairErr       error
	connectOnPair bool

	blob             []byte
	restoreErr       error
	connectOnRestore bool

	sendTextErr  error
	sendImageErr error
	sent         []Sent

	calls       map[string]int
	inFlight    int
	maxInFlight int

	closed bool
}

// New returns an empty, disconnected fake.
func New() *Fake {
	return &Fake{
		snapshots:   make(map[string]provider.Snapshot),
		snapshotErr: make(map[string]error),
		calls:       make(map[string]int),
		qr:          provider.QR{Image: []byte("\x89PNG fake"), Payload: "2@fake-qr"},
	}
}

func (f *Fake) enter(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
}

func (f *Fake) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

// SetConnected sets the connection probe result.
func (f *Fake) SetConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

// SetConversations replaces the conversation list.
func (f *Fake) SetConversations(convs ...provider.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = append([]provider.Conversation(nil), convs...)
}

// SetSnapshot sets the latest message of a conversation.
func (f *Fake) SetSnapshot(convID string, snap provider.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[convID] = snap
	delete(f.snapshotErr, convID)
}

// SetSnapshotError makes LatestMessage fail for a conversation.
func (f *Fake) SetSnapshotError(convID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshotErr[convID] = err
}

// SetPairing configures BeginPairing. When connect is true the fake becomes
// connected as soon as pairing begins, as if the QR was scanned instantly.
func (f *Fake) SetPairing(qr provider.QR, err error, connect bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qr = qr
	f.pairErr = err
	f.connectOnPair = connect
}

// SetBlob sets the session blob returned by ExportSession.
func (f *Fake) SetBlob(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blob = append([]byte(nil), b...)
}

// SetRestore configures RestoreSession.
func (f *Fake) SetRestore(err error, connect bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restoreErr = err
	f.connectOnRestore = connect
}

// SetSendErrors makes SendText / SendImage fail.
func (f *Fake) SetSendErrors(textErr, imageErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendTextErr = textErr
	f.sendImageErr = imageErr
}

// Sent returns a copy of all successful sends.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// SentTo returns the texts sent to one target.
func (f *Fake) SentTo(target string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.Target == target && s.Text != "" {
			out = append(out, s.Text)
		}
	}
	return out
}

// Calls returns how many times a method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// MaxInFlight returns the highest number of concurrent calls observed.
func (f *Fake) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Name implements provider.ConversationProvider.
func (f *Fake) Name() string { return "fake" }

// ListConversations implements provider.ConversationProvider.
func (f *Fake) ListConversations(_ context.Context, limit int) ([]provider.Conversation, error) {
	f.enter("ListConversations")
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, provider.ErrNotConnected
	}
	convs := f.conversations
	if limit > 0 && len(convs) > limit {
		convs = convs[:limit]
	}
	return append([]provider.Conversation(nil), convs...), nil
}

// LatestMessage implements provider.ConversationProvider.
func (f *Fake) LatestMessage(_ context.Context, conv provider.Conversation) (provider.Snapshot, error) {
	f.enter("LatestMessage")
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.snapshotErr[conv.ID]; err != nil {
		return provider.Snapshot{}, err
	}
	snap, ok := f.snapshots[conv.ID]
	if !ok {
		return provider.Snapshot{}, provider.ErrNoMessage
	}
	return snap, nil
}

// SendText implements provider.ConversationProvider.
func (f *Fake) SendText(_ context.Context, target, text string) error {
	f.enter("SendText")
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendTextErr != nil {
		return f.sendTextErr
	}
	f.sent = append(f.sent, Sent{Target: target, Text: text})
	return nil
}

// SendImage implements provider.ConversationProvider.
func (f *Fake) SendImage(_ context.Context, target, path string) error {
	f.enter("SendImage")
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendImageErr != nil {
		return f.sendImageErr
	}
	f.sent = append(f.sent, Sent{Target: target, Image: path})
	return nil
}

// IsConnected implements provider.ConversationProvider.
func (f *Fake) IsConnected(_ context.Context) bool {
	f.enter("IsConnected")
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// BeginPairing implements provider.ConversationProvider.
func (f *Fake) BeginPairing(_ context.Context) (provider.QR, error) {
	f.enter("BeginPairing")
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pairErr != nil {
		return provider.QR{}, f.pairErr
	}
	if f.connectOnPair {
		f.connected = true
	}
	return f.qr, nil
}

// ExportSession implements provider.ConversationProvider.
func (f *Fake) ExportSession(_ context.Context) ([]byte, error) {
	f.enter("ExportSession")
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blob == nil {
		return nil, fmt.Errorf("fake: no session")
	}
	return append([]byte(nil), f.blob...), nil
}

// RestoreSession implements provider.ConversationProvider.
func (f *Fake) RestoreSession(_ context.Context, blob []byte) error {
	f.enter("RestoreSession")
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restoreErr != nil {
		return f.restoreErr
	}
	f.blob = append([]byte(nil), blob...)
	if f.connectOnRestore {
		f.connected = true
	}
	return nil
}

// Close implements provider.ConversationProvider.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
