// Package config loads zohabot settings from defaults, an optional YAML file,
// .env files and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the complete application configuration.
type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	AI        AIConfig        `yaml:"ai"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Provider  ProviderConfig  `yaml:"provider"`
	Session   SessionConfig   `yaml:"session"`
	State     StateConfig     `yaml:"state"`
	Assets    AssetsConfig    `yaml:"assets"`
	Poller    PollerConfig    `yaml:"poller"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BotConfig is the bot's identity and relay targets.
type BotConfig struct {
	Name    string `yaml:"name"`
	Creator string `yaml:"creator"`

	// Admins receive media notifications. ADMIN_NUMBERS is comma-separated.
	Admins []string `yaml:"admins"`
}

// AIConfig configures the language-model backends.
type AIConfig struct {
	GeminiAPIKey string        `yaml:"gemini_api_key"`
	GeminiModel  string        `yaml:"gemini_model"`
	XAIAPIKey    string        `yaml:"xai_api_key"`
	XAIModel     string        `yaml:"xai_model"`
	Timeout      time.Duration `yaml:"timeout"`
}

// GatewayConfig configures the HTTP surface.
type GatewayConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`

	// ActionsPerMinute limits /pair and /restart per client.
	ActionsPerMinute int `yaml:"actions_per_minute"`
}

// Address returns the listen address.
func (g GatewayConfig) Address() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// Provider kinds.
const (
	ProviderWhatsApp = "whatsapp"
	ProviderBrowser  = "browser"
)

// ProviderConfig selects and configures the ConversationProvider.
type ProviderConfig struct {
	// Kind is "whatsapp" (default) or "browser".
	Kind string `yaml:"kind"`

	// WhatsAppDB is the whatsmeow device store.
	WhatsAppDB string `yaml:"whatsapp_db"`

	// PairPhone, when set, also requests a phone-number link code.
	PairPhone string `yaml:"pair_phone"`

	// Headless and ChromePath configure the browser provider.
	Headless   bool   `yaml:"headless"`
	ChromePath string `yaml:"chrome_path"`
	WebURL     string `yaml:"web_url"`

	// CDPURL attaches to an already running Chrome instead of launching one.
	CDPURL string `yaml:"cdp_url"`
}

// SessionConfig configures the session blob.
type SessionConfig struct {
	File       string `yaml:"file"`
	Passphrase string `yaml:"passphrase"`

	PairingTimeout time.Duration `yaml:"pairing_timeout"`
	LoadTimeout    time.Duration `yaml:"load_timeout"`
}

// StateConfig configures the durable dedup and media store.
type StateConfig struct {
	// DB is the SQLite path. Empty keeps state in memory.
	DB        string        `yaml:"db"`
	MarkerTTL time.Duration `yaml:"marker_ttl"`
	MediaTTL  time.Duration `yaml:"media_ttl"`
}

// AssetsConfig locates the profile picture.
type AssetsConfig struct {
	ProfilePicPath string `yaml:"profile_pic_path"`
	ProfilePicURL  string `yaml:"profile_pic_url"`
}

// PollerConfig configures the polling loop.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Backoff  time.Duration `yaml:"backoff"`
	Window   int           `yaml:"window"`
}

// SchedulerConfig holds cron schedules for housekeeping jobs. An empty
// schedule disables the job.
type SchedulerConfig struct {
	SaveSession string `yaml:"save_session"`
	EvictState  string `yaml:"evict_state"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			Name:    "Zoha AI",
			Creator: "Zoha and her husband",
		},
		AI: AIConfig{
			GeminiModel: "gemini-2.0-flash",
			XAIModel:    "grok-3-mini",
			Timeout:     60 * time.Second,
		},
		Gateway: GatewayConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			ActionsPerMinute: 6,
		},
		Provider: ProviderConfig{
			Kind:       ProviderWhatsApp,
			WhatsAppDB: "./data/whatsapp.db",
			Headless:   true,
			WebURL:     "https://web.whatsapp.com",
		},
		Session: SessionConfig{
			File:           "cookies.bin",
			PairingTimeout: 60 * time.Second,
			LoadTimeout:    15 * time.Second,
		},
		State: StateConfig{
			DB:        "./data/zohabot.db",
			MarkerTTL: 30 * 24 * time.Hour,
			MediaTTL:  7 * 24 * time.Hour,
		},
		Assets: AssetsConfig{
			ProfilePicPath: "assets/profile.jpg",
			ProfilePicURL:  "https://i.postimg.cc/26t81Z4B/IMG-20250207-155905.jpg",
		},
		Poller: PollerConfig{
			Interval: 3 * time.Second,
			Backoff:  5 * time.Second,
			Window:   15,
		},
		Scheduler: SchedulerConfig{
			SaveSession: "@every 10m",
			EvictState:  "@hourly",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Bot.Name) == "" {
		errs = append(errs, errors.New("bot.name is required"))
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	switch c.Provider.Kind {
	case ProviderWhatsApp, ProviderBrowser:
	default:
		errs = append(errs, fmt.Errorf("provider.kind %q: want %q or %q", c.Provider.Kind, ProviderWhatsApp, ProviderBrowser))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q: want json or text", c.Logging.Format))
	}
	if c.Poller.Interval < 0 || c.Poller.Backoff < 0 {
		errs = append(errs, errors.New("poller intervals must not be negative"))
	}
	if c.Session.File == "" {
		errs = append(errs, errors.New("session.file is required"))
	}
	return errors.Join(errs...)
}

// Masked returns a copy with secrets replaced, for display.
func (c *Config) Masked() *Config {
	out := *c
	out.Bot.Admins = append([]string(nil), c.Bot.Admins...)
	out.AI.GeminiAPIKey = MaskSecret(c.AI.GeminiAPIKey)
	out.AI.XAIAPIKey = MaskSecret(c.AI.XAIAPIKey)
	out.Gateway.AuthToken = MaskSecret(c.Gateway.AuthToken)
	out.Session.Passphrase = MaskSecret(c.Session.Passphrase)
	return &out
}

// MaskSecret keeps the last four characters of long secrets.
func MaskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
