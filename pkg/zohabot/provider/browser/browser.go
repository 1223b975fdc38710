// Package browser implements provider.ConversationProvider by driving
// WhatsApp Web in Chrome/Chromium over the Chrome DevTools Protocol.
//
// The browser is launched lazily on the first call that needs it and kept
// alive until Close. Set Config.CDPURL to attach to an already running
// browser instead of launching one.
//
// Conversations are identified by their display name, which is all the web
// client exposes. The exported session blob is a JSON document holding the
// page cookies and local storage.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
)

// Config configures the browser provider.
type Config struct {
	// ChromePath is the Chrome/Chromium binary. Auto-detected if empty.
	ChromePath string `yaml:"chrome_path"`

	// Headless runs the browser without a visible window.
	Headless bool `yaml:"headless"`

	// URL is the WhatsApp Web address. Default https://web.whatsapp.com.
	URL string `yaml:"url"`

	// UserDataDir is the Chrome profile directory. A temporary one is
	// created (and removed on Close) when empty.
	UserDataDir string `yaml:"user_data_dir"`

	// CDPURL attaches to a running browser's DevTools endpoint
	// (e.g. "http://127.0.0.1:9222") instead of launching Chrome.
	CDPURL string `yaml:"cdp_url"`

	// ElementTimeout bounds waits for page elements. Default 10s.
	ElementTimeout time.Duration `yaml:"element_timeout"`

	// QRTimeout bounds the wait for the login QR canvas. Default 30s.
	QRTimeout time.Duration `yaml:"qr_timeout"`

	// CommandTimeout bounds a single CDP command. Default 30s.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// UserAgent overrides the browser user agent.
	UserAgent string `yaml:"user_agent"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		URL:            "https://web.whatsapp.com",
		ElementTimeout: 10 * time.Second,
		QRTimeout:      30 * time.Second,
		CommandTimeout: 30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// Provider is the WhatsApp Web ConversationProvider.
type Provider struct {
	cfg    Config
	logger *slog.Logger

	// ctx outlives individual calls; the Chrome process is bound to it.
	ctx    context.Context
	cancel context.CancelFunc

	cmd     *exec.Cmd
	tempDir string
	cdp     *cdpClient
	closed  bool
}

var _ provider.ConversationProvider = (*Provider)(nil)

// New creates a browser provider. Chrome is not started until needed.
func New(cfg Config, logger *slog.Logger) *Provider {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.ElementTimeout <= 0 {
		cfg.ElementTimeout = def.ElementTimeout
	}
	if cfg.QRTimeout <= 0 {
		cfg.QRTimeout = def.QRTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		cfg:    cfg,
		logger: logger.With("component", "browser"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Name returns "browser".
func (p *Provider) Name() string { return "browser" }

// Close closes the DevTools connection and stops the browser if this
// provider launched it.
func (p *Provider) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var err error
	if p.cdp != nil {
		err = p.cdp.close()
		p.cdp = nil
	}
	p.cancel()
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
		p.cmd.Wait()
		p.logger.Info("chrome stopped")
		p.cmd = nil
	}
	if p.tempDir != "" {
		os.RemoveAll(p.tempDir)
		p.tempDir = ""
	}
	return err
}

// ---------- Lifecycle ----------

// ensureStarted launches (or attaches to) the browser and connects to its
// page target.
func (p *Provider) ensureStarted(ctx context.Context) error {
	if p.closed {
		return provider.ErrClosed
	}
	if p.cdp != nil {
		return nil
	}

	base := p.cfg.CDPURL
	if base == "" {
		var err error
		if base, err = p.launch(); err != nil {
			return err
		}
	}
	if err := waitForCDP(ctx, base, 10*time.Second); err != nil {
		p.stopChrome()
		return fmt.Errorf("CDP not ready: %w", err)
	}
	wsURL, err := pageTarget(ctx, base)
	if err != nil {
		p.stopChrome()
		return err
	}
	cdp, err := dialCDP(ctx, wsURL, p.cfg.CommandTimeout)
	if err != nil {
		p.stopChrome()
		return err
	}
	p.cdp = cdp

	// Hide the automation flag from page scripts.
	if _, err := cdp.call(ctx, "Page.addScriptToEvaluateOnNewDocument", map[string]any{
		"source": "Object.defineProperty(navigator, 'webdriver', {get: () => undefined})",
	}); err != nil {
		p.logger.Debug("webdriver override failed", "error", err)
	}
	return nil
}

// launch starts Chrome with remote debugging and returns its HTTP endpoint.
func (p *Provider) launch() (string, error) {
	chromePath := findChrome(p.cfg.ChromePath)
	if chromePath == "" {
		return "", fmt.Errorf("chrome/chromium not found; install Chrome or set CHROME_PATH")
	}
	port, err := allocatePort()
	if err != nil {
		return "", fmt.Errorf("failed to allocate CDP port: %w", err)
	}

	dataDir := p.cfg.UserDataDir
	if dataDir == "" {
		if dataDir, err = os.MkdirTemp("", "zohabot-chrome-"); err != nil {
			return "", fmt.Errorf("creating profile dir: %w", err)
		}
		p.tempDir = dataDir
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--user-data-dir=" + dataDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-extensions",
		"--disable-popup-blocking",
		"--disable-translate",
		"--disable-sync",
		"--disable-default-apps",
		"--disable-dev-shm-usage",
		"--disable-gpu",
		"--disable-blink-features=AutomationControlled",
		"--no-sandbox",
		"--window-size=1920,1080",
		"--user-agent=" + p.cfg.UserAgent,
	}
	if p.cfg.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, "about:blank")

	p.cmd = exec.CommandContext(p.ctx, chromePath, args...)
	if err := p.cmd.Start(); err != nil {
		p.cmd = nil
		return "", fmt.Errorf("failed to start Chrome: %w", err)
	}
	p.logger.Info("chrome started", "pid", p.cmd.Process.Pid, "port", port, "headless", p.cfg.Headless)
	return fmt.Sprintf("http://127.0.0.1:%d", port), nil
}

func (p *Provider) stopChrome() {
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
		p.cmd.Wait()
	}
	p.cmd = nil
}

// findChrome locates the Chrome/Chromium binary.
func findChrome(configured string) string {
	if configured != "" {
		return configured
	}
	candidates := []string{
		"google-chrome",
		"google-chrome-stable",
		"chromium-browser",
		"chromium",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path
		}
	}
	return ""
}

// allocatePort finds a free TCP port.
func allocatePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}
