package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/zohabot/pkg/zohabot/dispatch"
	"github.com/jholhewres/zohabot/pkg/zohabot/poller"
	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
	"github.com/jholhewres/zohabot/pkg/zohabot/relay"
	"github.com/jholhewres/zohabot/pkg/zohabot/responder"
	"github.com/jholhewres/zohabot/pkg/zohabot/router"
	"github.com/jholhewres/zohabot/pkg/zohabot/session"
)

// Instance is one session generation: a provider behind its worker and
// everything that talks to it. Instances are never reused; Restart builds a
// new one.
type Instance struct {
	Session    *session.Session
	Worker     *provider.Worker
	Store      *session.Store
	Pairing    *session.Coordinator
	Poller     *poller.Poller
	Dispatcher *dispatch.Dispatcher
	Router     *router.Router
	Relay      *relay.Relay

	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Generation returns the instance's generation number.
func (i *Instance) Generation() uint64 { return i.Session.Generation() }

// newInstance opens a provider and starts the poller and a background
// session restore. Caller holds b.mu.
func (b *Bot) newInstance(ctx context.Context, generation uint64) (*Instance, error) {
	p, err := b.deps.Factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("open provider: %w", err)
	}

	logger := b.logger.With("generation", generation)
	sess := session.New(generation)
	worker := provider.NewWorker(p, logger)
	store := session.NewStore(session.StoreConfig{
		Path:        b.cfg.SessionFile,
		Passphrase:  b.cfg.SessionPassphrase,
		LoadTimeout: b.cfg.LoadWait,
	}, worker, logger)
	disp := dispatch.New(dispatch.Config{Settle: b.cfg.Settle}, worker, logger)

	gemini := b.deps.Gemini
	if gemini == nil {
		gemini = responder.New(nil, 0, logger)
	}
	var grok router.Responder
	if b.deps.Grok.Configured() {
		grok = b.deps.Grok
	}

	inst := &Instance{
		Session:    sess,
		Worker:     worker,
		Store:      store,
		Pairing:    session.NewCoordinator(b.cfg.Pairing, worker, sess, store, logger),
		Dispatcher: disp,
		Router: router.New(router.Config{
			BotName:        b.cfg.BotName,
			Creator:        b.cfg.Creator,
			ProfilePicPath: b.cfg.ProfilePicPath,
			MenuPause:      b.cfg.MenuPause,
		}, disp, gemini, grok, b.routerStatus, logger),
		Relay:  relay.New(b.cfg.Admins, b.forwarded, disp, logger),
		logger: logger,
	}
	inst.Poller = poller.New(b.cfg.Poller, worker, b.dedup, inst.Relay, inst.Router, sess, logger)

	runCtx, cancel := context.WithCancel(context.Background())
	inst.cancel = cancel

	inst.wg.Add(2)
	go func() {
		defer inst.wg.Done()
		if store.Load(runCtx) {
			sess.ObserveProbe(true)
			return
		}
		if runCtx.Err() == nil {
			logger.Info("waiting for pairing")
		}
	}()
	go func() {
		defer inst.wg.Done()
		inst.Poller.Run(runCtx)
	}()

	return inst, nil
}

// stop cancels the instance's goroutines, saves a connected session and
// closes the provider.
func (i *Instance) stop(saveTimeout time.Duration) {
	i.cancel()
	i.Pairing.Close()
	i.wg.Wait()

	if i.Session.Connected() && saveTimeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := i.Store.Save(ctx); err != nil {
			i.logger.Warn("session save on shutdown failed", "error", err)
		} else {
			i.logger.Info("session saved")
		}
		cancel()
	}

	i.Session.SetState(session.Disconnected)
	if err := i.Worker.Close(); err != nil {
		i.logger.Warn("provider close failed", "error", err)
	}
}
