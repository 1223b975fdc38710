package commands

import (
	"context"
	"log/slog"

	"github.com/jholhewres/zohabot/pkg/zohabot/bot"
	"github.com/jholhewres/zohabot/pkg/zohabot/config"
	"github.com/jholhewres/zohabot/pkg/zohabot/poller"
	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
	"github.com/jholhewres/zohabot/pkg/zohabot/provider/browser"
	"github.com/jholhewres/zohabot/pkg/zohabot/provider/whatsapp"
	"github.com/jholhewres/zohabot/pkg/zohabot/responder"
	"github.com/jholhewres/zohabot/pkg/zohabot/session"
	"github.com/jholhewres/zohabot/pkg/zohabot/store"
)

// botConfig maps the loaded configuration onto the bot.
func botConfig(cfg *config.Config) bot.Config {
	return bot.Config{
		BotName:           cfg.Bot.Name,
		Creator:           cfg.Bot.Creator,
		Admins:            cfg.Bot.Admins,
		ProfilePicPath:    cfg.Assets.ProfilePicPath,
		SessionFile:       cfg.Session.File,
		SessionPassphrase: cfg.Session.Passphrase,
		Poller: poller.Config{
			Interval: cfg.Poller.Interval,
			Backoff:  cfg.Poller.Backoff,
			Window:   cfg.Poller.Window,
		},
		Pairing:  session.CoordinatorConfig{Timeout: cfg.Session.PairingTimeout},
		LoadWait: cfg.Session.LoadTimeout,
	}
}

// providerFactory opens a fresh provider of the configured kind for every
// session generation.
func providerFactory(cfg *config.Config, logger *slog.Logger) bot.ProviderFactory {
	if cfg.Provider.Kind == config.ProviderBrowser {
		bcfg := browser.Config{
			ChromePath: cfg.Provider.ChromePath,
			Headless:   cfg.Provider.Headless,
			URL:        cfg.Provider.WebURL,
			CDPURL:     cfg.Provider.CDPURL,
		}
		return func(context.Context) (provider.ConversationProvider, error) {
			return browser.New(bcfg, logger), nil
		}
	}

	wcfg := whatsapp.Config{
		DatabasePath: cfg.Provider.WhatsAppDB,
		DeviceName:   cfg.Bot.Name,
		PairPhone:    cfg.Provider.PairPhone,
	}
	return func(ctx context.Context) (provider.ConversationProvider, error) {
		p, err := whatsapp.Open(ctx, wcfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// newResponders builds the Gemini service used for mentions, private chats
// and `.gemini`, and the optional xAI service behind `.grok`.
func newResponders(cfg *config.Config, logger *slog.Logger) (gemini, grok *responder.Service) {
	var backend responder.Backend
	if g, err := responder.NewGemini(responder.GeminiConfig{
		APIKey: cfg.AI.GeminiAPIKey,
		Model:  cfg.AI.GeminiModel,
	}); err == nil {
		backend = g
	}
	gemini = responder.New(backend, cfg.AI.Timeout, logger)

	if x, err := responder.NewXAI(responder.XAIConfig{
		APIKey: cfg.AI.XAIAPIKey,
		Model:  cfg.AI.XAIModel,
	}); err == nil {
		grok = responder.New(x, cfg.AI.Timeout, logger)
	}
	return gemini, grok
}

// openState opens the durable state store. An empty path keeps state in
// memory.
func openState(cfg *config.Config) (*store.Store, error) {
	if cfg.State.DB == "" {
		return nil, nil
	}
	return store.Open(store.Config{
		Path:      cfg.State.DB,
		MarkerTTL: cfg.State.MarkerTTL,
		MediaTTL:  cfg.State.MediaTTL,
	})
}
