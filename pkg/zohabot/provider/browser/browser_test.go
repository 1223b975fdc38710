package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
)

type jsException string

type cdpCall struct {
	Method string
	Params map[string]any
}

// fakeCDP is a DevTools endpoint serving one page target. Runtime.evaluate
// answers from values keyed by the exact expression and defaults to true.
type fakeCDP struct {
	srv *httptest.Server

	mu      sync.Mutex
	values  map[string]any
	cookies []map[string]any
	calls   []cdpCall
}

func newFakeCDP(t *testing.T) *fakeCDP {
	t.Helper()
	f := &fakeCDP{values: make(map[string]any)}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{
			{"id": "sw", "type": "service_worker", "webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/sw"},
			{"id": "1", "type": "page", "url": "about:blank", "webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/page/1"},
		})
	})
	mux.HandleFunc("/devtools/page/1", f.serveWS)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCDP) serveWS(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req struct {
			ID     int            `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		// An unrelated event before every response.
		conn.WriteJSON(map[string]any{"method": "Page.frameNavigated", "params": map[string]any{}})

		result, cerr := f.handle(req.Method, req.Params)
		resp := map[string]any{"id": req.ID}
		if cerr != nil {
			resp["error"] = cerr
		} else {
			resp["result"] = result
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (f *fakeCDP) handle(method string, params map[string]any) (any, *cdpError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cdpCall{Method: method, Params: params})

	switch method {
	case "Runtime.evaluate":
		expr, _ := params["expression"].(string)
		v, ok := f.values[expr]
		if !ok {
			v = true
		}
		if ex, isEx := v.(jsException); isEx {
			return map[string]any{
				"result":           map[string]any{"type": "object", "subtype": "error"},
				"exceptionDetails": map[string]any{"text": "Uncaught", "exception": map[string]any{"description": string(ex)}},
			}, nil
		}
		return map[string]any{"result": map[string]any{"type": "object", "value": v}}, nil
	case "Network.getAllCookies":
		return map[string]any{"cookies": f.cookies}, nil
	case "DOM.getDocument":
		return map[string]any{"root": map[string]any{"nodeId": 1}}, nil
	case "DOM.querySelector":
		return map[string]any{"nodeId": 7}, nil
	case "Broken.method":
		return nil, &cdpError{Code: -32601, Message: "'Broken.method' wasn't found"}
	}
	return map[string]any{}, nil
}

func (f *fakeCDP) set(expr string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[expr] = v
}

// find returns the calls to method.
func (f *fakeCDP) find(method string) []cdpCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []cdpCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeCDP) evaluated(expr string) bool {
	for _, c := range f.find("Runtime.evaluate") {
		if c.Params["expression"] == expr {
			return true
		}
	}
	return false
}

func newTestProvider(t *testing.T, f *fakeCDP) *Provider {
	t.Helper()
	p := New(Config{
		CDPURL:         f.srv.URL,
		ElementTimeout: 200 * time.Millisecond,
		QRTimeout:      200 * time.Millisecond,
		CommandTimeout: 2 * time.Second,
	}, nil)
	t.Cleanup(func() { p.Close() })
	if err := p.ensureStarted(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return p
}

func TestListAndLatestMessage(t *testing.T) {
	f := newFakeCDP(t)
	p := newTestProvider(t, f)
	ctx := context.Background()

	f.set(jsListChats(15), []string{"Alice", "Family"})
	f.set(jsLatestMessage, map[string]any{
		"id": "false_15550100@c.us_3EB0", "meta": "10:31", "text": "hi Zoha AI", "media": false,
	})

	if !p.IsConnected(ctx) {
		t.Fatal("expected connected")
	}
	convs, err := p.ListConversations(ctx, 15)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 || convs[0].ID != "Alice" || convs[1].Name != "Family" {
		t.Fatalf("unexpected conversations %+v", convs)
	}

	snap, err := p.LatestMessage(ctx, convs[0])
	if err != nil {
		t.Fatal(err)
	}
	if snap.Marker != "false_15550100@c.us_3EB0" || snap.Text != "hi Zoha AI" || snap.HasMedia || snap.Outgoing {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if !f.evaluated(jsOpenChat("Alice")) || !f.evaluated(jsChatTitleIs("Alice")) {
		t.Error("expected the chat to be opened before reading")
	}

	t.Run("empty chat", func(t *testing.T) {
		f.set(jsLatestMessage, nil)
		if _, err := p.LatestMessage(ctx, convs[1]); !errors.Is(err, provider.ErrNoMessage) {
			t.Errorf("expected ErrNoMessage, got %v", err)
		}
	})

	t.Run("missing chat", func(t *testing.T) {
		f.set(jsOpenChat("Gone"), false)
		if _, err := p.LatestMessage(ctx, provider.Conversation{ID: "Gone", Name: "Gone"}); err == nil {
			t.Error("expected error for a chat not in the list")
		}
	})

	t.Run("page exception", func(t *testing.T) {
		f.set(jsListChats(3), jsException("TypeError: boom"))
		_, err := p.ListConversations(ctx, 3)
		if err == nil || !strings.Contains(err.Error(), "TypeError: boom") {
			t.Errorf("expected page exception, got %v", err)
		}
	})
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()

	t.Run("not started", func(t *testing.T) {
		p := New(Config{}, nil)
		defer p.Close()
		if p.IsConnected(ctx) {
			t.Error("expected a provider that never started to be disconnected")
		}
		if _, err := p.ExportSession(ctx); !errors.Is(err, provider.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("logged out page", func(t *testing.T) {
		f := newFakeCDP(t)
		p := newTestProvider(t, f)
		f.set(jsExists(selChatList), false)
		if _, err := p.ListConversations(ctx, 15); !errors.Is(err, provider.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if err := p.SendText(ctx, "Alice", "hi"); !errors.Is(err, provider.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("closed", func(t *testing.T) {
		f := newFakeCDP(t)
		p := newTestProvider(t, f)
		if err := p.Close(); err != nil {
			t.Fatal(err)
		}
		if _, err := p.ListConversations(ctx, 15); !errors.Is(err, provider.ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
		if _, err := p.BeginPairing(ctx); !errors.Is(err, provider.ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}

func TestSendText(t *testing.T) {
	ctx := context.Background()

	t.Run("chat in list", func(t *testing.T) {
		f := newFakeCDP(t)
		p := newTestProvider(t, f)
		if err := p.SendText(ctx, "Alice", "🏓 Pong! Bot is active."); err != nil {
			t.Fatal(err)
		}
		typed := f.find("Input.insertText")
		if len(typed) != 1 || typed[0].Params["text"] != "🏓 Pong! Bot is active." {
			t.Errorf("unexpected typing %+v", typed)
		}
		keys := f.find("Input.dispatchKeyEvent")
		if len(keys) != 2 || keys[0].Params["type"] != "keyDown" || keys[1].Params["type"] != "keyUp" {
			t.Errorf("expected enter key press, got %+v", keys)
		}
	})

	t.Run("phone fallback", func(t *testing.T) {
		f := newFakeCDP(t)
		p := newTestProvider(t, f)
		f.set(jsOpenChat("+1 555 0100 123"), false)
		if err := p.SendText(ctx, "+1 555 0100 123", "📥 Media received"); err != nil {
			t.Fatal(err)
		}
		navs := f.find("Page.navigate")
		if len(navs) != 1 || navs[0].Params["url"] != "https://web.whatsapp.com/send?phone=15550100123" {
			t.Errorf("unexpected navigation %+v", navs)
		}
	})

	t.Run("unknown name", func(t *testing.T) {
		f := newFakeCDP(t)
		p := newTestProvider(t, f)
		f.set(jsOpenChat("Nobody"), false)
		if err := p.SendText(ctx, "Nobody", "hi"); err == nil {
			t.Error("expected error")
		}
		if len(f.find("Input.insertText")) != 0 {
			t.Error("nothing should be typed")
		}
	})
}

func TestSendImage(t *testing.T) {
	f := newFakeCDP(t)
	p := newTestProvider(t, f)

	path := filepath.Join(t.TempDir(), "profile.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := p.SendImage(context.Background(), "Alice", path); err != nil {
		t.Fatal(err)
	}

	files := f.find("DOM.setFileInputFiles")
	if len(files) != 1 {
		t.Fatalf("expected one file upload, got %d", len(files))
	}
	list, _ := files[0].Params["files"].([]any)
	if len(list) != 1 || list[0] != path || files[0].Params["nodeId"] != float64(7) {
		t.Errorf("unexpected upload params %+v", files[0].Params)
	}
	if !f.evaluated(jsClick(selSend)) {
		t.Error("expected send button click")
	}

	t.Run("send button missing", func(t *testing.T) {
		f.set(jsExists(selSend), false)
		if err := p.SendImage(context.Background(), "Alice", path); err == nil {
			t.Error("expected timeout error")
		}
	})
}

func TestBeginPairing(t *testing.T) {
	f := newFakeCDP(t)
	p := newTestProvider(t, f)
	png := []byte("\x89PNG\r\n\x1a\nfake")

	f.set(jsQRCode, nil)
	if _, err := p.BeginPairing(context.Background()); err == nil {
		t.Fatal("expected timeout without a QR canvas")
	}

	f.set(jsQRCode, map[string]any{
		"png": "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		"ref": "2@AbCdEf",
	})
	qr, err := p.BeginPairing(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(qr.Image, png) || qr.Payload != "2@AbCdEf" {
		t.Errorf("unexpected QR %+v", qr)
	}
	if navs := f.find("Page.navigate"); len(navs) == 0 || navs[len(navs)-1].Params["url"] != "https://web.whatsapp.com" {
		t.Errorf("expected navigation to WhatsApp Web, got %+v", navs)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()

	src := newFakeCDP(t)
	src.cookies = []map[string]any{
		{"name": "wa_build", "value": "w", "domain": ".web.whatsapp.com", "path": "/", "expires": -1, "size": 9, "session": true},
		{"name": "wa_lang", "value": "en", "domain": ".web.whatsapp.com", "path": "/", "expires": 1.9e9, "secure": true},
	}
	src.set(jsExportStorage, map[string]string{"WABrowserId": "\"abc\""})
	p := newTestProvider(t, src)

	blob, err := p.ExportSession(ctx)
	if err != nil {
		t.Fatal(err)
	}

	dst := newFakeCDP(t)
	q := newTestProvider(t, dst)
	if err := q.RestoreSession(ctx, blob); err != nil {
		t.Fatal(err)
	}

	set := dst.find("Network.setCookies")
	if len(set) != 1 {
		t.Fatalf("expected one setCookies call, got %d", len(set))
	}
	cookies, _ := set[0].Params["cookies"].([]any)
	if len(cookies) != 2 {
		t.Fatalf("unexpected cookies %+v", cookies)
	}
	first := cookies[0].(map[string]any)
	if _, ok := first["expires"]; ok {
		t.Error("session cookie should be restored without an expiry")
	}
	if _, ok := first["size"]; ok {
		t.Error("read-only cookie fields should not be sent back")
	}
	if !dst.evaluated(jsImportStorage(map[string]string{"WABrowserId": "\"abc\""})) {
		t.Error("expected local storage to be restored")
	}
	if len(dst.find("Page.reload")) != 1 {
		t.Error("expected a reload after restoring")
	}

	if err := q.RestoreSession(ctx, []byte("not json")); err == nil {
		t.Error("expected invalid blob to fail")
	}
}

func TestCDPError(t *testing.T) {
	f := newFakeCDP(t)
	p := newTestProvider(t, f)

	_, err := p.cdp.call(context.Background(), "Broken.method", nil)
	var cerr *cdpError
	if !errors.As(err, &cerr) || cerr.Code != -32601 {
		t.Errorf("expected cdpError, got %v", err)
	}
}

func TestSnapshotOf(t *testing.T) {
	tests := []struct {
		name string
		msg  webMessage
		want provider.Snapshot
	}{
		{"row id", webMessage{ID: "false_1@c.us_A", Meta: "10:31", Text: "hi"},
			provider.Snapshot{Marker: "false_1@c.us_A", Text: "hi"}},
		{"time fallback", webMessage{Meta: "10:31", Text: "hi"},
			provider.Snapshot{Marker: "10:31", Text: "hi"}},
		{"media", webMessage{ID: "false_1@c.us_B", Media: true, Src: "blob:https://web.whatsapp.com/1"},
			provider.Snapshot{Marker: "false_1@c.us_B", HasMedia: true, MediaDigest: "blob:https://web.whatsapp.com/1"}},
		{"outgoing by id", webMessage{ID: "true_1@c.us_C", Text: "sent"},
			provider.Snapshot{Marker: "true_1@c.us_C", Text: "sent", Outgoing: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := snapshotOf(&tt.msg); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPhoneDigits(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+1 (555) 010-0123", "15550100123", true},
		{"15550100", "15550100", true},
		{"Alice", "", false},
		{"123", "123", false},
	}
	for _, tt := range tests {
		got, ok := phoneDigits(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("phoneDigits(%q) = %q, %v", tt.in, got, ok)
		}
	}
}

func TestDecodeDataURL(t *testing.T) {
	if b, err := decodeDataURL("data:image/png;base64,aGk="); err != nil || string(b) != "hi" {
		t.Errorf("got %q, %v", b, err)
	}
	if _, err := decodeDataURL("https://example.com/qr.png"); err == nil {
		t.Error("expected error for non data URL")
	}
}
