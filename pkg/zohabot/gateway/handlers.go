package gateway

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"os"
	"time"

	"github.com/jholhewres/zohabot/pkg/zohabot/router"
)

// errorResponse is the error format for auth, rate-limit and routing errors.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, code int) {
	var resp errorResponse
	resp.Error.Message = msg
	resp.Error.Code = code
	g.writeJSON(w, code, resp)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// pairResponse is the /pair body.
type pairResponse struct {
	Success     bool   `json:"success"`
	PairingCode string `json:"pairing_code,omitempty"`
	QRCode      string `json:"qr_code,omitempty"`
	LinkCode    string `json:"link_code,omitempty"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}

// statusResponse is the /status body.
type statusResponse struct {
	Connected    bool   `json:"connected"`
	BotName      string `json:"bot_name"`
	Creator      string `json:"creator"`
	SessionSaved bool   `json:"session_saved"`
	ProfilePic   bool   `json:"profile_pic"`
	Uptime       string `json:"uptime"`
	State        string `json:"state"`
	Generation   uint64 `json:"generation"`
	Provider     string `json:"provider,omitempty"`
	Backend      string `json:"backend,omitempty"`
}

// actionResponse is the /restart body.
type actionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleHealth implements GET /health.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePair implements GET /pair.
func (g *Gateway) handlePair(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), g.config.PairTimeout)
	defer cancel()

	ch, err := g.bot.Pair(ctx)
	if err != nil {
		g.logger.Error("QR generation failed", "error", err)
		g.writeJSON(w, http.StatusOK, pairResponse{Success: false, Error: "Failed to generate QR"})
		return
	}
	g.logger.Info("pairing code issued", "code", ch.Code)
	g.writeJSON(w, http.StatusOK, pairResponse{
		Success:     true,
		PairingCode: ch.Code,
		QRCode:      ch.QRDataURL(),
		LinkCode:    ch.LinkCode,
		Message:     "Scan QR or enter code in WhatsApp",
	})
}

// handleStatus implements GET /status.
func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := g.bot.Status()
	g.writeJSON(w, http.StatusOK, statusResponse{
		Connected:    st.Connected,
		BotName:      st.BotName,
		Creator:      st.Creator,
		SessionSaved: st.SessionSaved,
		ProfilePic:   st.ProfilePic,
		Uptime:       router.FormatUptime(st.Uptime),
		State:        st.State,
		Generation:   st.Generation,
		Provider:     st.Provider,
		Backend:      st.Backend,
	})
}

// handleRestart implements GET /restart.
func (g *Gateway) handleRestart(w http.ResponseWriter, r *http.Request) {
	// The restart outlives a client that hangs up mid-request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), time.Minute)
	defer cancel()

	if err := g.bot.Restart(ctx); err != nil {
		g.logger.Error("restart failed", "error", err)
		g.writeJSON(w, http.StatusInternalServerError, actionResponse{Success: false, Error: err.Error()})
		return
	}
	g.writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "Bot restarted"})
}

// handleProfilePic serves the profile picture for the status page preview.
func (g *Gateway) handleProfilePic(w http.ResponseWriter, r *http.Request) {
	if g.config.ProfilePicPath == "" {
		g.writeError(w, "not found", http.StatusNotFound)
		return
	}
	if _, err := os.Stat(g.config.ProfilePicPath); err != nil {
		g.writeError(w, "not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, g.config.ProfilePicPath)
}

// pageData feeds the status page template.
type pageData struct {
	BotName     string
	Creator     string
	Connected   bool
	State       string
	ProfilePic  bool
	PairingCode string
	LinkCode    string
	QRCode      template.URL
	Token       string
}

// handleHome implements GET /.
func (g *Gateway) handleHome(w http.ResponseWriter, r *http.Request) {
	st := g.bot.Status()
	data := pageData{
		BotName:    st.BotName,
		Creator:    st.Creator,
		Connected:  st.Connected,
		State:      st.State,
		ProfilePic: st.ProfilePic,
		Token:      r.URL.Query().Get("token"),
	}
	if ch, ok := g.bot.Challenge(); ok && !st.Connected {
		data.PairingCode = ch.Code
		data.LinkCode = ch.LinkCode
		// Data URLs are built from our own PNG bytes.
		data.QRCode = template.URL(ch.QRDataURL())
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homePage.Execute(w, data); err != nil {
		g.logger.Error("render status page", "error", err)
	}
}
