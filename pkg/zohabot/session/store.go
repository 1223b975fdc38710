package session

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
)

const (
	// DefaultFile is the default session blob path.
	DefaultFile = "cookies.bin"

	// Argon2id parameters.
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32 // AES-256

	saltLen = 16
)

// sealMagic prefixes sealed blobs.
var sealMagic = []byte("ZSB1")

// StoreConfig configures a Store.
type StoreConfig struct {
	// Path is the blob file.
	Path string

	// Passphrase, when set, seals the blob with AES-256-GCM.
	Passphrase string

	// LoadTimeout bounds how long Load waits for the restored session to
	// report connected. Default 15s.
	LoadTimeout time.Duration

	// ProbeInterval is the delay between connection probes. Default 1s.
	ProbeInterval time.Duration
}

// Store persists the provider's session blob and restores it on startup.
type Store struct {
	cfg      StoreConfig
	provider provider.ConversationProvider
	logger   *slog.Logger
}

// NewStore creates a Store for the given provider.
func NewStore(cfg StoreConfig, p provider.ConversationProvider, logger *slog.Logger) *Store {
	if cfg.Path == "" {
		cfg.Path = DefaultFile
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 15 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:      cfg,
		provider: p,
		logger:   logger.With("component", "session-store"),
	}
}

// Path returns the blob file path.
func (s *Store) Path() string { return s.cfg.Path }

// Exists reports whether a blob file is present.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.cfg.Path)
	return err == nil && !info.IsDir()
}

// Load restores the stored blob into the provider and waits for it to report
// connected. It never fails: a missing, corrupt or rejected blob, or a
// session that does not come up in time, all report false.
func (s *Store) Load(ctx context.Context) bool {
	blob, err := s.ReadBlob()
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			s.logger.Info("no stored session")
		} else {
			s.logger.Warn("stored session unusable", "error", err)
		}
		return false
	}

	if err := s.provider.RestoreSession(ctx, blob); err != nil {
		s.logger.Warn("session restore failed", "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.LoadTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		if s.provider.IsConnected(ctx) {
			s.logger.Info("session loaded")
			return true
		}
		select {
		case <-ctx.Done():
			s.logger.Info("session expired or invalid")
			return false
		case <-ticker.C:
		}
	}
}

// Save exports the provider session and overwrites the blob file.
func (s *Store) Save(ctx context.Context) error {
	blob, err := s.provider.ExportSession(ctx)
	if err != nil {
		return fmt.Errorf("export session: %w", err)
	}
	if err := s.WriteBlob(blob); err != nil {
		return err
	}
	s.logger.Debug("session saved", "path", s.cfg.Path, "bytes", len(blob))
	return nil
}

// ReadBlob reads and, if sealed, opens the blob file.
func (s *Store) ReadBlob() ([]byte, error) {
	data, err := os.ReadFile(s.cfg.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("read session blob: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrSessionCorrupt)
	}

	if !bytes.HasPrefix(data, sealMagic) {
		return data, nil
	}
	if s.cfg.Passphrase == "" {
		return nil, fmt.Errorf("%w: blob is sealed but no passphrase is configured", ErrSessionCorrupt)
	}
	plain, err := openBlob(s.cfg.Passphrase, data[len(sealMagic):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	return plain, nil
}

// WriteBlob seals the blob when a passphrase is configured and replaces the
// file atomically with owner-only permissions.
func (s *Store) WriteBlob(blob []byte) error {
	data := blob
	if s.cfg.Passphrase != "" {
		sealed, err := sealBlob(s.cfg.Passphrase, blob)
		if err != nil {
			return fmt.Errorf("seal session blob: %w", err)
		}
		data = append(append([]byte(nil), sealMagic...), sealed...)
	}

	dir := filepath.Dir(s.cfg.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}
	if err := os.Rename(tmpName, s.cfg.Path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// deriveKey uses Argon2id to derive a 32-byte AES key from a passphrase and salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// sealBlob returns salt || nonce || AES-256-GCM ciphertext.
func sealBlob(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 0, saltLen+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

func openBlob(passphrase string, data []byte) ([]byte, error) {
	if len(data) < saltLen {
		return nil, errors.New("sealed blob too short")
	}
	salt, rest := data[:saltLen], data[saltLen:]

	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, errors.New("sealed blob too short")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("decryption failed (wrong passphrase?)")
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
