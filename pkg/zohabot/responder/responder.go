// Package responder turns user questions into language-model answers. A
// Service never fails: missing configuration and backend errors are turned
// into reply text.
package responder

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// ErrNotConfigured is returned by Backend constructors when no API key is set.
var ErrNotConfigured = errors.New("language model backend not configured")

// NotConfiguredReply is returned when the service has no backend.
const NotConfiguredReply = "❌ Gemini AI is not configured. Please add GEMINI_API_KEY."

// maxErrorLen caps the error text included in a failure reply.
const maxErrorLen = 100

// Backend generates a completion for a single prompt.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Service wraps a Backend with the configuration and error fallbacks.
type Service struct {
	backend Backend
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Service. backend may be nil; every reply is then
// NotConfiguredReply. timeout bounds each backend call (default 60s).
func New(backend Backend, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	name := "none"
	if backend != nil {
		name = backend.Name()
	}
	return &Service{
		backend: backend,
		timeout: timeout,
		logger:  logger.With("component", "responder", "backend", name),
	}
}

// Configured reports whether a backend is set.
func (s *Service) Configured() bool { return s != nil && s.backend != nil }

// BackendName returns the backend's name, or "" when unconfigured.
func (s *Service) BackendName() string {
	if !s.Configured() {
		return ""
	}
	return s.backend.Name()
}

// Respond answers query. It always returns text.
func (s *Service) Respond(ctx context.Context, query string) string {
	if !s.Configured() {
		return NotConfiguredReply
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	text, err := s.backend.Generate(ctx, query)
	if err != nil {
		s.logger.Warn("backend call failed", "error", err, "elapsed", time.Since(start))
		return ErrorReply(err)
	}
	s.logger.Debug("backend replied", "elapsed", time.Since(start), "length", len(text))
	return text
}

// ErrorReply formats a backend failure for the user.
func ErrorReply(err error) string {
	msg := err.Error()
	if r := []rune(msg); len(r) > maxErrorLen {
		msg = string(r[:maxErrorLen])
	}
	return "⚠️ AI Error: " + msg
}

// newHTTPClient returns the client used by the REST backends. Each call is
// bounded by the Service timeout through its context.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
