package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
)

// Challenge is one pairing attempt presented to the operator.
type Challenge struct {
	ID       string    `json:"id"`
	QRImage  []byte    `json:"-"`
	QRCode   string    `json:"-"`
	Code     string    `json:"code"`
	LinkCode string    `json:"link_code,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// QRDataURL returns the QR image as a data: URL suitable for an <img> tag.
func (c Challenge) QRDataURL() string {
	if len(c.QRImage) == 0 {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(c.QRImage)
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// Timeout is how long a challenge waits for the provider to connect.
	// Default 60s.
	Timeout time.Duration

	// PollInterval is the delay between connection probes. Default 1s.
	PollInterval time.Duration

	// ProbeTimeout bounds a single connection probe. Default 5s.
	ProbeTimeout time.Duration
}

// Coordinator drives a session from Disconnected to Connected by issuing
// pairing challenges. Each Begin replaces the previous challenge; its waiter
// stops with ErrSuperseded.
type Coordinator struct {
	cfg      CoordinatorConfig
	provider provider.ConversationProvider
	session  *Session
	store    *Store
	logger   *slog.Logger

	// newCode is replaceable in tests.
	newCode func() (string, error)

	// beginMu serializes Begin so challenges are issued in order.
	beginMu sync.Mutex

	mu      sync.Mutex
	base    context.Context
	stop    context.CancelFunc
	current *waiter
	last    *waiter
	wg      sync.WaitGroup
}

type waiter struct {
	challenge Challenge
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

// NewCoordinator creates a Coordinator. store may be nil, in which case
// nothing is saved after a successful pairing.
func NewCoordinator(cfg CoordinatorConfig, p provider.ConversationProvider, sess *Session, store *Store, logger *slog.Logger) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:      cfg,
		provider: p,
		session:  sess,
		store:    store,
		logger:   logger.With("component", "pairing", "generation", sess.Generation()),
		newCode:  PairingCode,
		base:     base,
		stop:     stop,
	}
}

// PairingCode returns a uniformly random 6-digit code in [100000, 999999].
func PairingCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Begin issues a new challenge and starts waiting for the provider to
// connect in the background. The wait outlives ctx; it ends on success,
// timeout, a newer Begin, or Close.
func (c *Coordinator) Begin(ctx context.Context) (Challenge, error) {
	c.beginMu.Lock()
	defer c.beginMu.Unlock()

	if c.base.Err() != nil {
		return Challenge{}, ErrCoordinatorClosed
	}

	c.supersede()
	c.session.SetState(AwaitingPairing)

	qr, err := c.provider.BeginPairing(ctx)
	if err != nil {
		c.session.SetState(Disconnected)
		return Challenge{}, fmt.Errorf("begin pairing: %w", err)
	}
	code, err := c.newCode()
	if err != nil {
		c.session.SetState(Disconnected)
		return Challenge{}, err
	}

	ch := Challenge{
		ID:       uuid.NewString(),
		QRImage:  qr.Image,
		QRCode:   qr.Payload,
		Code:     code,
		LinkCode: qr.LinkCode,
		IssuedAt: time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.base.Err() != nil {
		c.session.SetState(Disconnected)
		return Challenge{}, ErrCoordinatorClosed
	}
	wctx, cancel := context.WithTimeout(c.base, c.cfg.Timeout)
	w := &waiter{challenge: ch, cancel: cancel, done: make(chan struct{})}
	c.current = w
	c.last = w
	c.wg.Add(1)
	go c.wait(wctx, w)

	c.logger.Info("pairing challenge issued", "challenge", ch.ID, "code", ch.Code)
	return ch, nil
}

// supersede stops the outstanding waiter, if any.
func (c *Coordinator) supersede() {
	c.mu.Lock()
	w := c.current
	c.current = nil
	c.mu.Unlock()
	if w == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (c *Coordinator) wait(ctx context.Context, w *waiter) {
	defer c.wg.Done()
	defer close(w.done)
	defer w.cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.err = c.finish(ctx, w)
			return
		case <-ticker.C:
		}

		pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
		ok := c.provider.IsConnected(pctx)
		cancel()
		if !ok {
			continue
		}

		c.session.SetState(Connected)
		c.clear(w)
		c.logger.Info("pairing completed", "challenge", w.challenge.ID)
		if c.store != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := c.store.Save(sctx); err != nil {
				c.logger.Warn("session save after pairing failed", "error", err)
			}
			cancel()
		}
		return
	}
}

// finish handles a waiter whose context ended without a connection.
func (c *Coordinator) finish(ctx context.Context, w *waiter) error {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrSuperseded
	}
	if c.clear(w) {
		// CompareAndSwap keeps a Connected set by the poller in the meantime.
		c.session.state.CompareAndSwap(int32(AwaitingPairing), int32(Disconnected))
	}
	c.logger.Warn("pairing challenge expired", "challenge", w.challenge.ID, "error", ErrPairingTimeout)
	return ErrPairingTimeout
}

// clear drops w if it is still the current waiter.
func (c *Coordinator) clear(w *waiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != w {
		return false
	}
	c.current = nil
	return true
}

// Current returns the outstanding challenge.
func (c *Coordinator) Current() (Challenge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Challenge{}, false
	}
	return c.current.challenge, true
}

// Await blocks until the challenge with the given id is resolved. It returns
// nil on success, ErrPairingTimeout, ErrSuperseded, or ctx's error.
func (c *Coordinator) Await(ctx context.Context, id string) error {
	c.mu.Lock()
	w := c.last
	c.mu.Unlock()
	if w == nil || w.challenge.ID != id {
		return ErrSuperseded
	}
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close discards any outstanding challenge and stops its waiter.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.stop()
	c.current = nil
	c.mu.Unlock()
	c.wg.Wait()
}
