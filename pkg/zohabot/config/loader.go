package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvFiles are loaded before the environment is read. Existing variables
// are never overwritten.
var EnvFiles = []string{".env", ".env.local"}

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}`)

// Load builds the configuration: defaults, then the YAML file at path (if
// any, with ${VAR} expansion), then environment overrides. .env files are
// loaded first so they feed both expansion and overrides.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	cfg := DefaultConfig()
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// FindConfigFile returns the first config file present in the usual places.
func FindConfigFile() string {
	for _, p := range []string{"zohabot.yaml", "zohabot.yml", "config.yaml", "configs/zohabot.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Save writes cfg as YAML with owner-only permissions.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// WriteEnvFile merges values into the .env file at path.
func WriteEnvFile(path string, values map[string]string) error {
	env := map[string]string{}
	if existing, err := godotenv.Read(path); err == nil {
		env = existing
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	for k, v := range values {
		if v == "" {
			delete(env, k)
			continue
		}
		env[k] = v
	}
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}

// ---------- Internal ----------

func loadEnvFiles() {
	for _, f := range EnvFiles {
		_ = godotenv.Load(f)
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return fmt.Errorf("expanding environment variables: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing config YAML: %w", err)
	}
	checkFilePermissions(path)
	return nil
}

// expandEnvVars substitutes ${VAR} references. ${VAR:?message} fails when
// VAR is unset; a plain ${VAR} that is unset expands to "".
func expandEnvVars(input string) (string, error) {
	var firstErr error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		name, modifier, value := m[1], m[2], m[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		switch modifier {
		case "-":
			return value
		case "?":
			if firstErr == nil {
				if value == "" {
					value = "required environment variable not set"
				}
				firstErr = fmt.Errorf("%s: %s", name, value)
			}
		}
		return ""
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// applyEnv overlays environment variables on cfg.
func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	str("BOT_NAME", &cfg.Bot.Name)
	str("CREATOR", &cfg.Bot.Creator)
	if v, ok := os.LookupEnv("ADMIN_NUMBERS"); ok {
		cfg.Bot.Admins = splitList(v)
	}

	str("GEMINI_API_KEY", &cfg.AI.GeminiAPIKey)
	str("GEMINI_MODEL", &cfg.AI.GeminiModel)
	str("XAI_API_KEY", &cfg.AI.XAIAPIKey)
	str("XAI_MODEL", &cfg.AI.XAIModel)

	str("HOST", &cfg.Gateway.Host)
	str("AUTH_TOKEN", &cfg.Gateway.AuthToken)
	if v, ok := os.LookupEnv("PORT"); ok {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Gateway.Port = port
	}

	str("PROVIDER", &cfg.Provider.Kind)
	cfg.Provider.Kind = strings.ToLower(cfg.Provider.Kind)
	str("WHATSAPP_DB", &cfg.Provider.WhatsAppDB)
	str("PAIR_PHONE", &cfg.Provider.PairPhone)
	str("CHROME_PATH", &cfg.Provider.ChromePath)
	str("CDP_URL", &cfg.Provider.CDPURL)
	if v, ok := os.LookupEnv("HEADLESS"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("HEADLESS: %w", err)
		}
		cfg.Provider.Headless = b
	}

	str("SESSION_FILE", &cfg.Session.File)
	str("SESSION_PASSPHRASE", &cfg.Session.Passphrase)
	str("STATE_DB", &cfg.State.DB)

	str("PROFILE_PIC_PATH", &cfg.Assets.ProfilePicPath)
	str("PROFILE_PIC_URL", &cfg.Assets.ProfilePicURL)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	return nil
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// checkFilePermissions warns if the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
