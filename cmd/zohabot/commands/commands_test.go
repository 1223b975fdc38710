package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/zohabot/pkg/zohabot/config"
	"github.com/jholhewres/zohabot/pkg/zohabot/session"
)

func TestBotConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Bot.Admins = []string{"15550100"}
	cfg.Session.PairingTimeout = 90 * time.Second

	bc := botConfig(cfg)
	if bc.BotName != "Zoha AI" || bc.SessionFile != "cookies.bin" || len(bc.Admins) != 1 {
		t.Errorf("unexpected bot config %+v", bc)
	}
	if bc.Pairing.Timeout != 90*time.Second || bc.Poller.Window != 15 || bc.LoadWait != 15*time.Second {
		t.Errorf("unexpected timings %+v", bc)
	}
}

func TestProviderFactory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Provider.Kind = config.ProviderBrowser

	p, err := providerFactory(cfg, nil)(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if p.Name() != "browser" {
		t.Errorf("expected browser provider, got %q", p.Name())
	}

	cfg.Provider.Kind = config.ProviderWhatsApp
	cfg.Provider.WhatsAppDB = filepath.Join(t.TempDir(), "wa.db")
	p, err = providerFactory(cfg, nil)(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if p.Name() != "whatsapp" {
		t.Errorf("expected whatsapp provider, got %q", p.Name())
	}
}

func TestNewResponders(t *testing.T) {
	cfg := config.DefaultConfig()
	gemini, grok := newResponders(cfg, nil)
	if gemini.Configured() || grok != nil {
		t.Error("expected unconfigured responders without keys")
	}

	cfg.AI.GeminiAPIKey = "g"
	cfg.AI.XAIAPIKey = "x"
	gemini, grok = newResponders(cfg, nil)
	if gemini.BackendName() != "gemini" || grok.BackendName() != "xai" {
		t.Errorf("unexpected backends %q %q", gemini.BackendName(), grok.BackendName())
	}
}

func TestOpenState(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.State.DB = ""
	st, err := openState(cfg)
	if err != nil || st != nil {
		t.Fatalf("expected memory state, got %v, %v", st, err)
	}

	cfg.State.DB = filepath.Join(t.TempDir(), "state.db")
	st, err = openState(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if st.Path() != cfg.State.DB {
		t.Errorf("unexpected path %q", st.Path())
	}
}

func TestPrintChallenge(t *testing.T) {
	t.Run("terminal QR", func(t *testing.T) {
		var buf bytes.Buffer
		ch := session.Challenge{QRCode: "2@AbCdEf,xyz", Code: "123456", LinkCode: "ABCD-EFGH"}
		if err := printChallenge(&buf, ch, filepath.Join(t.TempDir(), "qr.png")); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		if !strings.Contains(out, "Pairing code: 123456") || !strings.Contains(out, "Phone link code: ABCD-EFGH") {
			t.Errorf("unexpected output %q", out)
		}
		if !strings.Contains(out, "▀") && !strings.Contains(out, "▄") && !strings.Contains(out, "█") {
			t.Error("expected a half-block QR drawing")
		}
	})

	t.Run("image only", func(t *testing.T) {
		var buf bytes.Buffer
		path := filepath.Join(t.TempDir(), "qr.png")
		ch := session.Challenge{QRImage: []byte("\x89PNG"), Code: "654321"}
		if err := printChallenge(&buf, ch, path); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(path)
		if err != nil || string(data) != "\x89PNG" {
			t.Errorf("expected QR image on disk, got %q, %v", data, err)
		}
		if !strings.Contains(buf.String(), "QR code written to "+path) {
			t.Errorf("unexpected output %q", buf.String())
		}
	})
}

func TestCheckHealth(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ok.Close()
	if err := checkHealth(context.Background(), ok.URL); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	if err := checkHealth(context.Background(), bad.URL); err == nil {
		t.Error("expected unhealthy")
	}
}

func TestSetupHelpers(t *testing.T) {
	if got := normalizeAdmins(" 15550100, ,447700900123 "); got != "15550100,447700900123" {
		t.Errorf("normalizeAdmins = %q", got)
	}
	for _, p := range []string{"8000", " 1 ", "65535"} {
		if err := validPort(p); err != nil {
			t.Errorf("validPort(%q) = %v", p, err)
		}
	}
	for _, p := range []string{"", "0", "70000", "http"} {
		if err := validPort(p); err == nil {
			t.Errorf("validPort(%q) should fail", p)
		}
	}
	if err := required("bot name")("  "); err == nil {
		t.Error("expected required to reject blank input")
	}

	values := map[string]string{}
	a := &setupAnswers{GeminiKey: " g-key ", UseKeyring: false}
	stored, err := storeKeys(a, values)
	if err != nil || len(stored) != 0 || values["GEMINI_API_KEY"] != "g-key" {
		t.Errorf("unexpected env values %v %v %v", values, stored, err)
	}
	if _, ok := values["XAI_API_KEY"]; ok {
		t.Error("empty xAI key must not be written")
	}
}

func TestKeyringName(t *testing.T) {
	if k, err := keyringName("grok"); err != nil || k != config.KeyXAI {
		t.Errorf("grok -> %q, %v", k, err)
	}
	if _, err := keyringName("openai"); err == nil {
		t.Error("expected unknown key error")
	}
}

type nopHousekeeper struct{}

func (nopHousekeeper) SaveSession(context.Context) error { return nil }
func (nopHousekeeper) EvictState(context.Context) (int64, error) { return 0, nil }

func TestNewHousekeeping(t *testing.T) {
	cfg := config.DefaultConfig()

	sched, err := newHousekeeping(cfg, nopHousekeeper{}, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(sched.Stats()); got != 2 {
		t.Errorf("expected 2 jobs, got %d", got)
	}

	sched, err = newHousekeeping(cfg, nopHousekeeper{}, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(sched.Stats()); got != 1 {
		t.Errorf("expected only the save job without a state DB, got %d", got)
	}

	cfg.Scheduler.EvictState = "every tuesday-ish"
	if _, err := newHousekeeping(cfg, nopHousekeeper{}, true, nil); err == nil {
		t.Error("expected an invalid schedule to fail before the bot starts")
	}
}
