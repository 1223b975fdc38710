package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// cdpClient is a minimal Chrome DevTools Protocol client bound to one page
// target. Commands are sent one at a time; events received while waiting
// for a response are discarded.
type cdpClient struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	msgID   int
	timeout time.Duration
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *cdpError) Error() string {
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

type cdpResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *cdpError       `json:"error"`
}

func dialCDP(ctx context.Context, wsURL string, timeout time.Duration) (*cdpClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("CDP WebSocket dial failed: %w", err)
	}
	return &cdpClient{conn: conn, timeout: timeout}, nil
}

// call sends a command and waits for the response with the same id.
func (c *cdpClient) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, errors.New("CDP connection closed")
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	c.conn.SetReadDeadline(deadline)

	c.msgID++
	id := c.msgID
	msg := map[string]any{
		"id":     id,
		"method": method,
	}
	if params != nil {
		msg["params"] = params
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("CDP write error: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var resp cdpResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			return nil, fmt.Errorf("CDP read error: %w", err)
		}
		if resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, resp.Error)
		}
		return resp.Result, nil
	}
}

// evaluate runs expression in the page and decodes its value into out
// (which may be nil). Promises are awaited.
func (c *cdpClient) evaluate(ctx context.Context, expression string, out any) error {
	raw, err := c.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return err
	}

	var res struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decoding evaluate result: %w", err)
	}
	if ex := res.ExceptionDetails; ex != nil {
		msg := ex.Exception.Description
		if msg == "" {
			msg = ex.Text
		}
		return fmt.Errorf("page script failed: %s", msg)
	}
	if out == nil || len(res.Result.Value) == 0 {
		return nil
	}
	return json.Unmarshal(res.Result.Value, out)
}

func (c *cdpClient) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ---------- Discovery ----------

type targetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

var discoveryClient = &http.Client{Timeout: 2 * time.Second}

// waitForCDP polls the /json/version endpoint under base until it answers.
func waitForCDP(ctx context.Context, base string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(base, "/") + "/json/version"
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if resp, err := discoveryClient.Do(req); err == nil {
			var info struct {
				WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
			}
			ok := json.NewDecoder(resp.Body).Decode(&info) == nil && info.WebSocketDebuggerURL != ""
			resp.Body.Close()
			if ok {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for CDP at %s", base)
		case <-ticker.C:
		}
	}
}

// pageTarget returns the debugger URL of the first page target.
func pageTarget(ctx context.Context, base string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/json/list", nil)
	if err != nil {
		return "", err
	}
	resp, err := discoveryClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("listing targets: %w", err)
	}
	defer resp.Body.Close()

	var targets []targetInfo
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("decoding targets: %w", err)
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", errors.New("no page target available")
}
