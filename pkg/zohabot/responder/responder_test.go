package responder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type stubBackend struct {
	reply  string
	err    error
	delay  time.Duration
	prompt string
	calls  int
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Generate(ctx context.Context, prompt string) (string, error) {
	s.calls++
	s.prompt = prompt
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.reply, s.err
}

func TestService(t *testing.T) {
	ctx := context.Background()

	t.Run("unconfigured", func(t *testing.T) {
		s := New(nil, 0, nil)
		if s.Configured() {
			t.Error("expected unconfigured")
		}
		if got := s.Respond(ctx, "hi"); got != NotConfiguredReply {
			t.Errorf("expected config error reply, got %q", got)
		}
	})

	t.Run("success is verbatim", func(t *testing.T) {
		b := &stubBackend{reply: "  AI is *artificial intelligence*.\n"}
		got := New(b, 0, nil).Respond(ctx, "What is AI?")
		if got != b.reply {
			t.Errorf("expected verbatim reply, got %q", got)
		}
		if b.prompt != "What is AI?" {
			t.Errorf("unexpected prompt %q", b.prompt)
		}
	})

	t.Run("failure is truncated", func(t *testing.T) {
		b := &stubBackend{err: errors.New(strings.Repeat("x", 250))}
		got := New(b, 0, nil).Respond(ctx, "q")
		want := "⚠️ AI Error: " + strings.Repeat("x", 100)
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})

	t.Run("timeout becomes error reply", func(t *testing.T) {
		b := &stubBackend{delay: time.Second}
		got := New(b, 20*time.Millisecond, nil).Respond(ctx, "q")
		if !strings.HasPrefix(got, "⚠️ AI Error: ") || !strings.Contains(got, "deadline") {
			t.Errorf("unexpected reply %q", got)
		}
	})
}

func TestGemini(t *testing.T) {
	if _, err := NewGemini(GeminiConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	t.Run("generate", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/models/gemini-test:generateContent" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.URL.Query().Get("key") != "secret" {
				t.Errorf("expected api key in query")
			}
			var req geminiGenerateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "What is AI?" {
				t.Errorf("unexpected request %+v", req)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"AI is "},{"text":"smart."}]},"finishReason":"STOP"}]}`))
		}))
		defer srv.Close()

		g, err := NewGemini(GeminiConfig{APIKey: "secret", Model: "gemini-test", BaseURL: srv.URL})
		if err != nil {
			t.Fatal(err)
		}
		got, err := g.Generate(context.Background(), "What is AI?")
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if got != "AI is smart." {
			t.Errorf("unexpected reply %q", got)
		}
	})

	t.Run("api error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
		}))
		defer srv.Close()

		g, _ := NewGemini(GeminiConfig{APIKey: "bad", BaseURL: srv.URL})
		_, err := g.Generate(context.Background(), "q")
		if err == nil || !strings.Contains(err.Error(), "API key not valid") {
			t.Errorf("expected API error, got %v", err)
		}
	})
}

func TestXAI(t *testing.T) {
	if _, err := NewXAI(XAIConfig{APIKey: " "}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer xai-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Model != DefaultXAIModel || req.Messages[0].Content != "Tell me a joke" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Why did the gopher..."}}]}`))
	}))
	defer srv.Close()

	x, err := NewXAI(XAIConfig{APIKey: "xai-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	got, err := x.Generate(context.Background(), "Tell me a joke")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "Why did the gopher..." {
		t.Errorf("unexpected reply %q", got)
	}
}
