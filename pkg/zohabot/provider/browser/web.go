package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
)

// WhatsApp Web selectors.
const (
	selChatList   = `div[data-testid="chat-list"]`
	selChatCell   = `div[data-testid="cell-frame-container"]`
	selChatTitle  = `div[data-testid="conversation-info-header-chat-title"]`
	selMessage    = `div[data-testid="msg-container"]`
	selMeta       = `div[data-testid="msg-meta"]`
	selMedia      = `img, video, div[data-testid="media-url-provider"]`
	selText       = `span.selectable-text`
	selOutgoing   = `div.message-out`
	selQR         = `canvas[aria-label="Scan me!"]`
	selCompose    = `div[data-testid="conversation-compose-box-input"][contenteditable="true"]`
	selAttach     = `div[data-testid="conversation-clip"]`
	selImageInput = `input[accept="image/*,video/mp4,video/3gpp,video/quicktime"]`
	selSend       = `span[data-testid="send"]`
)

const pollInterval = 250 * time.Millisecond

// ---------- Page scripts ----------

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func jsExists(sel string) string {
	return fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(sel))
}

func jsClick(sel string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	el.click();
	return true;
})()`, jsString(sel))
}

func jsListChats(limit int) string {
	return fmt.Sprintf(`(() => Array.from(document.querySelectorAll(%s)).slice(0, %d).map(c => {
	const t = c.querySelector('span[title]');
	return t ? t.getAttribute('title') : (c.innerText || '').split('\n')[0];
}).filter(n => n))()`, jsString(selChatCell), limit)
}

// jsOpenChat clicks the chat list entry titled name. WhatsApp Web reacts to
// mousedown rather than click on list rows, so both are dispatched.
func jsOpenChat(name string) string {
	return fmt.Sprintf(`(() => {
	const name = %s;
	for (const c of document.querySelectorAll(%s)) {
		const t = c.querySelector('span[title]');
		const title = t ? t.getAttribute('title') : (c.innerText || '').split('\n')[0];
		if (title !== name) continue;
		for (const type of ['mousedown', 'mouseup', 'click']) {
			c.dispatchEvent(new MouseEvent(type, {bubbles: true, cancelable: true, view: window}));
		}
		return true;
	}
	return false;
})()`, jsString(name), jsString(selChatCell))
}

func jsChatTitleIs(name string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	return !!el && (el.innerText || '').trim() === %s;
})()`, jsString(selChatTitle), jsString(name))
}

var jsLatestMessage = fmt.Sprintf(`(() => {
	const rows = document.querySelectorAll(%s);
	if (!rows.length) return null;
	const m = rows[rows.length - 1];
	const row = m.closest('[data-id]');
	const meta = m.querySelector(%s);
	const media = m.querySelector(%s);
	const text = m.querySelector(%s);
	return {
		id: row ? row.getAttribute('data-id') : '',
		meta: meta ? (meta.innerText || '').trim() : '',
		text: text ? (text.innerText || '').trim() : '',
		media: !!media,
		src: media ? (media.getAttribute('src') || '') : '',
		outgoing: !!m.closest(%s) || !!m.querySelector(%s),
	};
})()`, jsString(selMessage), jsString(selMeta), jsString(selMedia), jsString(selText),
	jsString(selOutgoing), jsString(selOutgoing))

var jsQRCode = fmt.Sprintf(`(() => {
	const c = document.querySelector(%s);
	if (!c) return null;
	const holder = c.closest('[data-ref]');
	return {png: c.toDataURL('image/png'), ref: holder ? holder.getAttribute('data-ref') : ''};
})()`, jsString(selQR))

// jsFocusCompose focuses the message box and clears any draft.
var jsFocusCompose = fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	el.focus();
	document.execCommand('selectAll', false, null);
	document.execCommand('delete', false, null);
	return true;
})()`, jsString(selCompose))

const jsReadyState = `document.readyState === 'complete'`

const jsExportStorage = `Object.fromEntries(Object.entries(window.localStorage))`

func jsImportStorage(items map[string]string) string {
	b, _ := json.Marshal(items)
	return fmt.Sprintf(`(() => {
	const items = %s;
	for (const [k, v] of Object.entries(items)) window.localStorage.setItem(k, v);
	return true;
})()`, b)
}

// ---------- Provider operations ----------

// IsConnected reports whether the chat list is visible. It never launches
// the browser.
func (p *Provider) IsConnected(ctx context.Context) bool {
	if p.closed || p.cdp == nil {
		return false
	}
	var ok bool
	if err := p.cdp.evaluate(ctx, jsExists(selChatList), &ok); err != nil {
		p.logger.Debug("connection probe failed", "error", err)
		return false
	}
	return ok
}

// ListConversations returns the display names of the first limit chats in
// the chat list.
func (p *Provider) ListConversations(ctx context.Context, limit int) ([]provider.Conversation, error) {
	if err := p.requireConnected(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 15
	}
	var names []string
	if err := p.cdp.evaluate(ctx, jsListChats(limit), &names); err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	convs := make([]provider.Conversation, 0, len(names))
	for _, n := range names {
		convs = append(convs, provider.Conversation{ID: n, Name: n})
	}
	return convs, nil
}

type webMessage struct {
	ID       string `json:"id"`
	Meta     string `json:"meta"`
	Text     string `json:"text"`
	Media    bool   `json:"media"`
	Src      string `json:"src"`
	Outgoing bool   `json:"outgoing"`
}

// LatestMessage opens conv and reads its last message bubble.
func (p *Provider) LatestMessage(ctx context.Context, conv provider.Conversation) (provider.Snapshot, error) {
	if err := p.requireConnected(ctx); err != nil {
		return provider.Snapshot{}, err
	}
	if err := p.openChat(ctx, conv.Name); err != nil {
		return provider.Snapshot{}, err
	}

	var msg *webMessage
	if err := p.cdp.evaluate(ctx, jsLatestMessage, &msg); err != nil {
		return provider.Snapshot{}, fmt.Errorf("reading latest message: %w", err)
	}
	if msg == nil {
		return provider.Snapshot{}, provider.ErrNoMessage
	}
	return snapshotOf(msg), nil
}

// snapshotOf converts a scraped message. The row's data-id is the preferred
// marker; the time label is the fallback the web client always shows.
func snapshotOf(msg *webMessage) provider.Snapshot {
	marker := msg.ID
	if marker == "" {
		marker = msg.Meta
	}
	snap := provider.Snapshot{
		Marker:   marker,
		Text:     msg.Text,
		HasMedia: msg.Media,
		Outgoing: msg.Outgoing || strings.HasPrefix(msg.ID, "true_"),
	}
	if msg.Media {
		snap.MediaDigest = msg.Src
	}
	return snap
}

// SendText types text into the target conversation and presses Enter.
// target is a chat name or a phone number.
func (p *Provider) SendText(ctx context.Context, target, text string) error {
	if err := p.requireConnected(ctx); err != nil {
		return err
	}
	if err := p.openTarget(ctx, target); err != nil {
		return err
	}
	if err := p.waitFor(ctx, jsExists(selCompose), "compose box"); err != nil {
		return err
	}

	var focused bool
	if err := p.cdp.evaluate(ctx, jsFocusCompose, &focused); err != nil {
		return fmt.Errorf("focusing compose box: %w", err)
	}
	if !focused {
		return errors.New("compose box not found")
	}
	if _, err := p.cdp.call(ctx, "Input.insertText", map[string]any{"text": text}); err != nil {
		return fmt.Errorf("typing message: %w", err)
	}
	return p.pressEnter(ctx)
}

// SendImage attaches the file at path through the attach menu and sends it.
func (p *Provider) SendImage(ctx context.Context, target, path string) error {
	if err := p.requireConnected(ctx); err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving image path: %w", err)
	}
	if err := p.openTarget(ctx, target); err != nil {
		return err
	}

	if err := p.waitFor(ctx, jsExists(selAttach), "attach button"); err != nil {
		return err
	}
	if err := p.evaluateTrue(ctx, jsClick(selAttach), "attach button"); err != nil {
		return err
	}
	if err := p.waitFor(ctx, jsExists(selImageInput), "image input"); err != nil {
		return err
	}
	if err := p.setFileInput(ctx, selImageInput, abs); err != nil {
		return err
	}
	if err := p.waitFor(ctx, jsExists(selSend), "send button"); err != nil {
		return err
	}
	return p.evaluateTrue(ctx, jsClick(selSend), "send button")
}

type qrResult struct {
	PNG string `json:"png"`
	Ref string `json:"ref"`
}

// BeginPairing loads WhatsApp Web and captures the login QR canvas.
func (p *Provider) BeginPairing(ctx context.Context) (provider.QR, error) {
	if err := p.ensureStarted(ctx); err != nil {
		return provider.QR{}, err
	}
	if err := p.navigate(ctx, p.cfg.URL); err != nil {
		return provider.QR{}, err
	}

	var res *qrResult
	deadline := time.Now().Add(p.cfg.QRTimeout)
	for {
		if err := p.cdp.evaluate(ctx, jsQRCode, &res); err != nil {
			return provider.QR{}, fmt.Errorf("reading QR: %w", err)
		}
		if res != nil && res.PNG != "" {
			break
		}
		if time.Now().After(deadline) {
			return provider.QR{}, errors.New("timed out waiting for QR code")
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return provider.QR{}, err
		}
	}

	png, err := decodeDataURL(res.PNG)
	if err != nil {
		return provider.QR{}, fmt.Errorf("decoding QR: %w", err)
	}
	p.logger.Info("QR code ready")
	return provider.QR{Image: png, Payload: res.Ref}, nil
}

// decodeDataURL returns the payload of a base64 data URL.
func decodeDataURL(s string) ([]byte, error) {
	_, data, ok := strings.Cut(s, ";base64,")
	if !ok || !strings.HasPrefix(s, "data:") {
		return nil, errors.New("not a base64 data URL")
	}
	return base64.StdEncoding.DecodeString(data)
}

// ---------- Session ----------

type cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

type sessionBlob struct {
	Cookies      []cookie          `json:"cookies"`
	LocalStorage map[string]string `json:"local_storage,omitempty"`
}

// ExportSession captures the browser cookies and the page's local storage.
func (p *Provider) ExportSession(ctx context.Context) ([]byte, error) {
	if p.closed {
		return nil, provider.ErrClosed
	}
	if p.cdp == nil {
		return nil, provider.ErrNotConnected
	}

	raw, err := p.cdp.call(ctx, "Network.getAllCookies", nil)
	if err != nil {
		return nil, fmt.Errorf("reading cookies: %w", err)
	}
	var res struct {
		Cookies []cookie `json:"cookies"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decoding cookies: %w", err)
	}

	blob := sessionBlob{Cookies: res.Cookies}
	if err := p.cdp.evaluate(ctx, jsExportStorage, &blob.LocalStorage); err != nil {
		p.logger.Warn("local storage export failed", "error", err)
	}
	return json.Marshal(blob)
}

// RestoreSession loads WhatsApp Web, installs the saved cookies and local
// storage and reloads the page. Whether the session is still valid is left
// to the caller's connection probes.
func (p *Provider) RestoreSession(ctx context.Context, data []byte) error {
	var blob sessionBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	if err := p.ensureStarted(ctx); err != nil {
		return err
	}
	if err := p.navigate(ctx, p.cfg.URL); err != nil {
		return err
	}

	cookies := make([]cookie, 0, len(blob.Cookies))
	for _, c := range blob.Cookies {
		// Session cookies come back with expires -1.
		if c.Expires < 0 {
			c.Expires = 0
		}
		cookies = append(cookies, c)
	}
	if len(cookies) > 0 {
		if _, err := p.cdp.call(ctx, "Network.setCookies", map[string]any{"cookies": cookies}); err != nil {
			return fmt.Errorf("setting cookies: %w", err)
		}
	}
	if len(blob.LocalStorage) > 0 {
		if err := p.cdp.evaluate(ctx, jsImportStorage(blob.LocalStorage), nil); err != nil {
			return fmt.Errorf("restoring local storage: %w", err)
		}
	}

	if _, err := p.cdp.call(ctx, "Page.reload", nil); err != nil {
		return fmt.Errorf("reloading: %w", err)
	}
	if err := p.waitFor(ctx, jsReadyState, "page load"); err != nil {
		return err
	}
	p.logger.Info("session restored", "cookies", len(cookies))
	return nil
}

// ---------- Helpers ----------

func (p *Provider) requireConnected(ctx context.Context) error {
	if p.closed {
		return provider.ErrClosed
	}
	if !p.IsConnected(ctx) {
		return provider.ErrNotConnected
	}
	return nil
}

func (p *Provider) navigate(ctx context.Context, target string) error {
	if _, err := p.cdp.call(ctx, "Page.navigate", map[string]any{"url": target}); err != nil {
		return fmt.Errorf("navigating: %w", err)
	}
	return p.waitFor(ctx, jsReadyState, "page load")
}

// openChat selects the chat titled name and waits for its header.
func (p *Provider) openChat(ctx context.Context, name string) error {
	var found bool
	if err := p.cdp.evaluate(ctx, jsOpenChat(name), &found); err != nil {
		return fmt.Errorf("opening chat: %w", err)
	}
	if !found {
		return fmt.Errorf("chat %q not found", name)
	}
	return p.waitFor(ctx, jsChatTitleIs(name), "chat header")
}

// openTarget opens a chat by name, falling back to the click-to-chat URL
// for phone numbers that are not in the chat list.
func (p *Provider) openTarget(ctx context.Context, target string) error {
	err := p.openChat(ctx, target)
	if err == nil {
		return nil
	}
	phone, ok := phoneDigits(target)
	if !ok {
		return err
	}
	u := strings.TrimRight(p.cfg.URL, "/") + "/send?phone=" + url.QueryEscape(phone)
	if err := p.navigate(ctx, u); err != nil {
		return err
	}
	return p.waitFor(ctx, jsExists(selCompose), "compose box")
}

// phoneDigits extracts the digits of a phone-number target.
func phoneDigits(s string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", false
		}
	}
	return b.String(), b.Len() >= 7
}

func (p *Provider) pressEnter(ctx context.Context) error {
	for _, typ := range []string{"keyDown", "keyUp"} {
		params := map[string]any{
			"type":                  typ,
			"key":                   "Enter",
			"code":                  "Enter",
			"windowsVirtualKeyCode": 13,
		}
		if typ == "keyDown" {
			params["text"] = "\r"
		}
		if _, err := p.cdp.call(ctx, "Input.dispatchKeyEvent", params); err != nil {
			return fmt.Errorf("pressing enter: %w", err)
		}
	}
	return nil
}

func (p *Provider) setFileInput(ctx context.Context, sel, path string) error {
	raw, err := p.cdp.call(ctx, "DOM.getDocument", map[string]any{"depth": 0})
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}
	var doc struct {
		Root struct {
			NodeID int `json:"nodeId"`
		} `json:"root"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}

	raw, err = p.cdp.call(ctx, "DOM.querySelector", map[string]any{"nodeId": doc.Root.NodeID, "selector": sel})
	if err != nil {
		return fmt.Errorf("finding file input: %w", err)
	}
	var node struct {
		NodeID int `json:"nodeId"`
	}
	if err := json.Unmarshal(raw, &node); err != nil {
		return fmt.Errorf("decoding file input: %w", err)
	}
	if node.NodeID == 0 {
		return errors.New("file input not found")
	}

	if _, err := p.cdp.call(ctx, "DOM.setFileInputFiles", map[string]any{
		"files":  []string{path},
		"nodeId": node.NodeID,
	}); err != nil {
		return fmt.Errorf("attaching file: %w", err)
	}
	return nil
}

func (p *Provider) evaluateTrue(ctx context.Context, expr, what string) error {
	var ok bool
	if err := p.cdp.evaluate(ctx, expr, &ok); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if !ok {
		return fmt.Errorf("%s not found", what)
	}
	return nil
}

// waitFor polls a boolean page expression until it holds or the element
// timeout passes.
func (p *Provider) waitFor(ctx context.Context, expr, what string) error {
	deadline := time.Now().Add(p.cfg.ElementTimeout)
	for {
		var ok bool
		if err := p.cdp.evaluate(ctx, expr, &ok); err != nil {
			return fmt.Errorf("waiting for %s: %w", what, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s", what)
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
