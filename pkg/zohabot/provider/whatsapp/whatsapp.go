// Package whatsapp implements provider.ConversationProvider on top of
// whatsmeow, a native Go WhatsApp Web API library.
//
// whatsmeow is event driven while the pipeline polls, so the provider keeps
// an index of the latest message per chat, fed by message events, and serves
// ListConversations and LatestMessage from it.
//
// The linked device lives in whatsmeow's SQLite store. The exported session
// blob is the device JID, which RestoreSession looks up in that store.
package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the device store.

	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
)

// Config configures the WhatsApp provider.
type Config struct {
	// DatabasePath is the whatsmeow device store.
	DatabasePath string `yaml:"database_path"`

	// DeviceName is shown in the phone's linked devices list.
	DeviceName string `yaml:"device_name"`

	// PairPhone, when set, also requests a phone-number link code during
	// pairing (international format, digits only).
	PairPhone string `yaml:"pair_phone"`

	// QRTimeout bounds one QR login attempt. Default 2m.
	QRTimeout time.Duration `yaml:"qr_timeout"`

	// MaxChats caps the conversation index. Default 200.
	MaxChats int `yaml:"max_chats"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatabasePath: "./data/whatsapp.db",
		DeviceName:   "Zoha AI",
		QRTimeout:    2 * time.Minute,
		MaxChats:     200,
	}
}

// Provider is the whatsmeow-backed ConversationProvider.
type Provider struct {
	cfg       Config
	db        *sql.DB
	container *sqlstore.Container
	index     *index
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	client   *whatsmeow.Client
	qrCancel context.CancelFunc
	closed   bool
}

var _ provider.ConversationProvider = (*Provider)(nil)

// Open opens the device store. It does not connect: RestoreSession or
// BeginPairing does.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	def := DefaultConfig()
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = def.DatabasePath
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = def.DeviceName
	}
	if cfg.QRTimeout <= 0 {
		cfg.QRTimeout = def.QRTimeout
	}
	if cfg.MaxChats <= 0 {
		cfg.MaxChats = def.MaxChats
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o700); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", cfg.DatabasePath))
	if err != nil {
		return nil, fmt.Errorf("opening device store: %w", err)
	}
	container := sqlstore.NewWithDB(db, "sqlite3", waLog.Noop)
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("upgrading device store: %w", err)
	}

	store.SetOSInfo(cfg.DeviceName, [3]uint32{1, 0, 0})

	pctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		cfg:       cfg,
		db:        db,
		container: container,
		index:     newIndex(cfg.MaxChats),
		logger:    logger.With("component", "whatsapp"),
		ctx:       pctx,
		cancel:    cancel,
	}, nil
}

// Name returns "whatsapp".
func (p *Provider) Name() string { return "whatsapp" }

// IsConnected reports whether the client is connected and logged in.
func (p *Provider) IsConnected(_ context.Context) bool {
	c := p.currentClient()
	return c != nil && c.IsConnected() && c.IsLoggedIn()
}

// ListConversations returns the indexed chats, most recent first.
func (p *Provider) ListConversations(_ context.Context, limit int) ([]provider.Conversation, error) {
	if err := p.requireConnected(); err != nil {
		return nil, err
	}
	return p.index.list(limit), nil
}

// LatestMessage returns the newest indexed message of conv.
func (p *Provider) LatestMessage(_ context.Context, conv provider.Conversation) (provider.Snapshot, error) {
	if err := p.requireConnected(); err != nil {
		return provider.Snapshot{}, err
	}
	snap, ok := p.index.latest(conv.ID)
	if !ok {
		return provider.Snapshot{}, provider.ErrNoMessage
	}
	return snap, nil
}

// BeginPairing discards the current client, creates a fresh device and
// returns the first QR code of a new login.
func (p *Provider) BeginPairing(ctx context.Context) (provider.QR, error) {
	if p.isClosed() {
		return provider.QR{}, provider.ErrClosed
	}
	p.resetClient()

	client := p.newClient(p.container.NewDevice())
	qrCtx, qrCancel := context.WithTimeout(p.ctx, p.cfg.QRTimeout)

	// GetQRChannel must be called before Connect.
	qrChan, err := client.GetQRChannel(qrCtx)
	if err != nil {
		qrCancel()
		return provider.QR{}, fmt.Errorf("getting QR channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		qrCancel()
		return provider.QR{}, fmt.Errorf("connecting for QR: %w", err)
	}
	p.setClient(client, qrCancel)

	var code string
	select {
	case <-ctx.Done():
		p.resetClient()
		return provider.QR{}, ctx.Err()
	case evt, ok := <-qrChan:
		if !ok {
			p.resetClient()
			return provider.QR{}, errors.New("QR channel closed unexpectedly")
		}
		switch evt.Event {
		case "code":
			code = evt.Code
		case "success":
			return provider.QR{}, errors.New("device already paired")
		default:
			p.resetClient()
			if evt.Error != nil {
				return provider.QR{}, fmt.Errorf("QR login: %w", evt.Error)
			}
			return provider.QR{}, fmt.Errorf("QR login: %s", evt.Event)
		}
	}
	go p.drainQR(qrChan)

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return provider.QR{}, fmt.Errorf("encoding QR: %w", err)
	}
	qr := provider.QR{Image: png, Payload: code}

	if p.cfg.PairPhone != "" {
		link, err := client.PairPhone(ctx, p.cfg.PairPhone, true, whatsmeow.PairClientChrome, "Chrome ("+runtime.GOOS+")")
		if err != nil {
			p.logger.Warn("phone link code unavailable", "error", err)
		} else {
			qr.LinkCode = link
		}
	}

	p.logger.Info("QR code ready")
	return qr, nil
}

// drainQR consumes the rest of a login's QR events. whatsmeow rotates the
// code every ~20s; the pairing challenge keeps the first one, so rotations
// are only logged.
func (p *Provider) drainQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch {
		case evt.Event == "code":
			p.logger.Debug("QR code rotated")
		case evt.Event == "success":
			p.logger.Info("login successful")
		case evt.Error != nil:
			p.logger.Warn("QR login failed", "event", evt.Event, "error", evt.Error)
		default:
			p.logger.Info("QR login ended", "event", evt.Event)
		}
	}
}

// ExportSession returns the linked device JID.
func (p *Provider) ExportSession(_ context.Context) ([]byte, error) {
	c := p.currentClient()
	if c == nil || c.Store.ID == nil {
		return nil, provider.ErrNotConnected
	}
	return []byte(c.Store.ID.String()), nil
}

// RestoreSession reconnects the device named by blob.
func (p *Provider) RestoreSession(ctx context.Context, blob []byte) error {
	if p.isClosed() {
		return provider.ErrClosed
	}
	jid, err := types.ParseJID(string(blob))
	if err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	device, err := p.container.GetDevice(ctx, jid)
	if err != nil {
		return fmt.Errorf("loading device: %w", err)
	}
	if device == nil {
		return fmt.Errorf("device %s not found in store", jid)
	}

	p.resetClient()
	client := p.newClient(device)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	p.setClient(client, nil)
	p.logger.Info("session restored", "jid", jid.String())
	return nil
}

// Close disconnects and closes the device store.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.resetClient()
	p.cancel()
	return p.db.Close()
}

// ---------- Internal ----------

func (p *Provider) newClient(device *store.Device) *whatsmeow.Client {
	client := whatsmeow.NewClient(device, waLog.Noop)
	client.EnableAutoReconnect = true
	client.AddEventHandler(p.handleEvent)
	return client
}

func (p *Provider) setClient(c *whatsmeow.Client, qrCancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = c
	p.qrCancel = qrCancel
}

func (p *Provider) currentClient() *whatsmeow.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// resetClient disconnects the current client and forgets the index.
func (p *Provider) resetClient() {
	p.mu.Lock()
	c, cancel := p.client, p.qrCancel
	p.client, p.qrCancel = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		c.Disconnect()
	}
	p.index.reset()
}

func (p *Provider) requireConnected() error {
	if p.isClosed() {
		return provider.ErrClosed
	}
	if !p.IsConnected(p.ctx) {
		return provider.ErrNotConnected
	}
	return nil
}

func (p *Provider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
