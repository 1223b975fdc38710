// Package gateway provides the operator HTTP surface: the status page, the
// pairing endpoint, status JSON and restart.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jholhewres/zohabot/pkg/zohabot/bot"
	"github.com/jholhewres/zohabot/pkg/zohabot/session"
)

// Controller is the bot as seen by the gateway. *bot.Bot implements it.
type Controller interface {
	Status() bot.Status
	Pair(ctx context.Context) (session.Challenge, error)
	Challenge() (session.Challenge, bool)
	Restart(ctx context.Context) error
}

// Config configures the gateway.
type Config struct {
	// Address to listen on, e.g. ":8000".
	Address string

	// AuthToken, when set, is required as "Authorization: Bearer <token>" or
	// "?token=<token>" on every route except /health.
	AuthToken string

	// ActionsPerMinute limits /pair and /restart per client address.
	// Default 6.
	ActionsPerMinute int

	// ActionBurst is the burst size for the action limiter. Default 3.
	ActionBurst int

	// PairTimeout bounds a /pair request. Default 45s.
	PairTimeout time.Duration

	// ProfilePicPath is served at /assets/profile.jpg for the status page.
	ProfilePicPath string
}

// Gateway is the HTTP server.
type Gateway struct {
	bot     Controller
	config  Config
	limiter *Limiter
	server  *http.Server
	logger  *slog.Logger
}

// New creates a Gateway.
func New(ctrl Controller, cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8000"
	}
	if cfg.ActionsPerMinute <= 0 {
		cfg.ActionsPerMinute = 6
	}
	if cfg.ActionBurst <= 0 {
		cfg.ActionBurst = 3
	}
	if cfg.PairTimeout <= 0 {
		cfg.PairTimeout = 45 * time.Second
	}
	return &Gateway{
		bot:     ctrl,
		config:  cfg,
		limiter: NewLimiter(cfg.ActionsPerMinute, cfg.ActionBurst),
		logger:  logger.With("component", "gateway"),
	}
}

// Handler returns the routed handler with all middleware applied.
func (g *Gateway) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(g.requestIDMiddleware, g.securityHeadersMiddleware, g.authMiddleware)

	r.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/", g.handleHome).Methods(http.MethodGet)
	r.HandleFunc("/status", g.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/assets/profile.jpg", g.handleProfilePic).Methods(http.MethodGet)

	actions := r.NewRoute().Subrouter()
	actions.Use(g.rateLimitMiddleware)
	actions.HandleFunc("/pair", g.handlePair).Methods(http.MethodGet)
	actions.HandleFunc("/restart", g.handleRestart).Methods(http.MethodGet, http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		g.writeError(w, "not found", http.StatusNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	g.server = &http.Server{
		Addr:              g.config.Address,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if g.config.AuthToken == "" {
		host, _, _ := net.SplitHostPort(g.config.Address)
		ip := net.ParseIP(host)
		if host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			g.logger.Warn("gateway has no auth token and is bound to a non-loopback address; anyone on the network can pair or restart the bot",
				"address", g.config.Address)
		}
	}

	errc := make(chan error, 1)
	go func() {
		g.logger.Info("gateway started", "address", g.config.Address)
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("gateway: %w", err)
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	g.logger.Info("gateway stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return <-errc
}
