// Package router classifies incoming text messages and answers them:
// dot-prefixed commands, mentions of the bot's name, and private chats.
package router

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/jholhewres/zohabot/pkg/zohabot/dispatch"
	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
)

// Prefix marks a command.
const Prefix = "."

// Kind is a command in the closed command set.
type Kind string

const (
	CmdGemini  Kind = "gemini"
	CmdGrok    Kind = "grok"
	CmdMenu    Kind = "menu"
	CmdHelp    Kind = "help"
	CmdStatus  Kind = "status"
	CmdPing    Kind = "ping"
	CmdUnknown Kind = "unknown"
)

// Command is a parsed command.
type Command struct {
	Kind Kind
	// Word is the lowercased command word as typed, without the prefix.
	Word string
	// Arg is the trimmed remainder, case preserved.
	Arg string
}

// ParseCommand parses text starting with Prefix. It returns false for
// anything else.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, Prefix) {
		return Command{}, false
	}
	body := text[len(Prefix):]

	word, arg := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		word, arg = body[:i], strings.TrimSpace(body[i:])
	}
	word = strings.ToLower(word)

	cmd := Command{Kind: CmdUnknown, Word: word, Arg: arg}
	switch Kind(word) {
	case CmdGemini, CmdGrok, CmdMenu, CmdHelp, CmdStatus, CmdPing:
		cmd.Kind = Kind(word)
	}
	return cmd, true
}

// IsPrivate reports whether a conversation looks like a one-to-one chat:
// not a known group, and a display name with neither "@" nor "group".
func IsPrivate(conv provider.Conversation) bool {
	if conv.IsGroup {
		return false
	}
	name := strings.ToLower(conv.Name)
	return !strings.Contains(name, "@") && !strings.Contains(name, "group")
}

// Route is how a message was handled.
type Route int

const (
	RouteIgnored Route = iota
	RouteCommand
	RouteMention
	RoutePrivate
)

func (r Route) String() string {
	switch r {
	case RouteCommand:
		return "command"
	case RouteMention:
		return "mention"
	case RoutePrivate:
		return "private"
	default:
		return "ignored"
	}
}

// Sender sends replies. *dispatch.Dispatcher implements it.
type Sender interface {
	SendText(ctx context.Context, target, text string) dispatch.Result
	SendImage(ctx context.Context, target, path string) dispatch.Result
}

// Responder answers a query. *responder.Service implements it.
type Responder interface {
	Respond(ctx context.Context, query string) string
}

// Config configures a Router.
type Config struct {
	BotName        string
	Creator        string
	ProfilePicPath string

	// MenuPause is the delay between the menu text and the profile picture.
	// Default 1s; negative disables it.
	MenuPause time.Duration
}

// Router routes text messages.
type Router struct {
	cfg    Config
	sender Sender
	gemini Responder
	grok   Responder
	status func() Status
	logger *slog.Logger
}

// New creates a Router. grok may be nil, in which case `.grok` is answered
// by gemini. status supplies the `.status` snapshot.
func New(cfg Config, sender Sender, gemini, grok Responder, status func() Status, logger *slog.Logger) *Router {
	if cfg.MenuPause == 0 {
		cfg.MenuPause = time.Second
	}
	if grok == nil {
		grok = gemini
	}
	if status == nil {
		status = func() Status { return Status{} }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:    cfg,
		sender: sender,
		gemini: gemini,
		grok:   grok,
		status: status,
		logger: logger.With("component", "router"),
	}
}

// Handle routes one text message received in conv.
func (r *Router) Handle(ctx context.Context, conv provider.Conversation, text string) Route {
	r.logger.Info("message received", "conversation", conv.Name, "text", truncate(text, 50))

	if cmd, ok := ParseCommand(text); ok {
		r.handleCommand(ctx, conv, cmd)
		return RouteCommand
	}

	if r.cfg.BotName != "" && strings.Contains(strings.ToLower(text), strings.ToLower(r.cfg.BotName)) {
		r.reply(ctx, conv, r.gemini.Respond(ctx, text))
		return RouteMention
	}

	if IsPrivate(conv) {
		r.reply(ctx, conv, r.gemini.Respond(ctx, text))
		return RoutePrivate
	}
	return RouteIgnored
}

func (r *Router) handleCommand(ctx context.Context, conv provider.Conversation, cmd Command) {
	r.logger.Debug("command", "conversation", conv.Name, "command", cmd.Word)

	switch cmd.Kind {
	case CmdGemini:
		if cmd.Arg == "" {
			r.reply(ctx, conv, GeminiUsage)
			return
		}
		r.reply(ctx, conv, GeminiReply(r.gemini.Respond(ctx, cmd.Arg)))

	case CmdGrok:
		if cmd.Arg == "" {
			r.reply(ctx, conv, GrokUsage)
			return
		}
		r.reply(ctx, conv, GrokReply(r.grok.Respond(ctx, cmd.Arg)))

	case CmdMenu:
		r.sendMenu(ctx, conv)

	case CmdHelp:
		r.reply(ctx, conv, HelpText(r.cfg.BotName))

	case CmdStatus:
		r.reply(ctx, conv, StatusText(r.cfg.BotName, r.status()))

	case CmdPing:
		r.reply(ctx, conv, PongText)

	default:
		r.reply(ctx, conv, UnknownCommandText)
	}
}

func (r *Router) sendMenu(ctx context.Context, conv provider.Conversation) {
	r.reply(ctx, conv, MenuText(r.cfg.BotName, r.cfg.Creator))

	if r.cfg.MenuPause > 0 {
		t := time.NewTimer(r.cfg.MenuPause)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	if _, err := os.Stat(r.cfg.ProfilePicPath); r.cfg.ProfilePicPath == "" || err != nil {
		r.logger.Warn("profile picture not found", "path", r.cfg.ProfilePicPath)
		r.reply(ctx, conv, ProfilePicPlaceholder)
		return
	}
	r.logger.Info("sending profile picture", "conversation", conv.Name)
	res := r.sender.SendImage(ctx, conv.ID, r.cfg.ProfilePicPath)
	if res.Outcome != dispatch.Delivered {
		r.logger.Warn("profile picture not delivered", "outcome", res.Outcome, "error", res.Err)
	}
}

func (r *Router) reply(ctx context.Context, conv provider.Conversation, text string) {
	if res := r.sender.SendText(ctx, conv.ID, text); !res.OK() {
		r.logger.Warn("reply dropped", "conversation", conv.Name, "error", res.Err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
