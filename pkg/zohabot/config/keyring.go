package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// KeyringService is the service name used in the OS keyring.
const KeyringService = "zohabot"

// Keyring entries.
const (
	KeyGemini = "gemini_api_key"
	KeyXAI    = "xai_api_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(KeyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring, or "" when absent.
func GetKeyring(key string) string {
	val, err := keyring.Get(KeyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(KeyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	const probe = "__zohabot_probe__"
	if err := keyring.Set(KeyringService, probe, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(KeyringService, probe)
	return true
}

// ResolveAPIKeys fills API keys that the file and environment left empty
// from the OS keyring.
func ResolveAPIKeys(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AI.GeminiAPIKey == "" {
		if v := GetKeyring(KeyGemini); v != "" {
			cfg.AI.GeminiAPIKey = v
			logger.Debug("Gemini API key loaded from OS keyring")
		}
	}
	if cfg.AI.XAIAPIKey == "" {
		if v := GetKeyring(KeyXAI); v != "" {
			cfg.AI.XAIAPIKey = v
			logger.Debug("xAI API key loaded from OS keyring")
		}
	}
	if cfg.AI.GeminiAPIKey == "" {
		logger.Warn("no Gemini API key found; AI replies are disabled. Set one with: zohabot config set-key")
	}
}

// ReadSecret prompts on stdout and reads a line without echo when stdin is
// a terminal.
func ReadSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	var buf [1024]byte
	n, err := os.Stdin.Read(buf[:])
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(string(buf[:n])), nil
}
