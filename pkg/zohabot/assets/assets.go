// Package assets bootstraps the bot's local files, currently the profile
// picture sent with the menu.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultProfilePicURL is fetched when no picture exists on disk.
const DefaultProfilePicURL = "https://i.postimg.cc/26t81Z4B/IMG-20250207-155905.jpg"

// MaxImageSize caps a downloaded picture. WhatsApp rejects larger images.
const MaxImageSize = 5 * 1024 * 1024

// AllowedImageTypes are the MIME types accepted for the profile picture.
var AllowedImageTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
}

// ErrInvalidImage is returned when the downloaded body is not an image we accept.
var ErrInvalidImage = errors.New("invalid image")

// Fetcher downloads the profile picture.
type Fetcher struct {
	client  *http.Client
	maxSize int64
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher. A nil client uses a 30s-timeout client.
func NewFetcher(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:  client,
		maxSize: MaxImageSize,
		logger:  logger.With("component", "assets"),
	}
}

// EnsureProfilePic downloads url into path unless path already exists.
// It reports whether a picture is present afterwards. Failures are logged
// and never fatal: the menu falls back to a text placeholder.
func (f *Fetcher) EnsureProfilePic(ctx context.Context, path, url string) bool {
	if path == "" {
		return false
	}
	if _, err := os.Stat(path); err == nil {
		return true
	}
	if url == "" {
		return false
	}

	if err := f.Download(ctx, path, url); err != nil {
		f.logger.Warn("could not download profile picture", "url", url, "error", err)
		return false
	}
	f.logger.Info("downloaded profile picture", "path", path)
	return true
}

// Download fetches url, validates it as an image and writes it to path.
func (f *Fetcher) Download(ctx context.Context, path, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := ValidateImage(data, f.maxSize); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create assets dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}

// ValidateImage checks content type and size of an image body.
func ValidateImage(data []byte, maxSize int64) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty body", ErrInvalidImage)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return fmt.Errorf("%w: size exceeds %d bytes", ErrInvalidImage, maxSize)
	}
	mime := strings.TrimSpace(strings.Split(http.DetectContentType(data), ";")[0])
	for _, allowed := range AllowedImageTypes {
		if mime == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: MIME type %s is not allowed", ErrInvalidImage, mime)
}
