package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// compareTokens hashes both inputs before the constant-time compare so the
// token length does not leak.
func compareTokens(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

// authMiddleware requires the configured token on everything but /health.
// The token may come from the Authorization header or the token query
// parameter, so the links on the status page keep working in a browser.
func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.config.AuthToken == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.URL.Query().Get("token")
		if auth := r.Header.Get("Authorization"); auth != "" {
			if !strings.HasPrefix(auth, "Bearer ") {
				g.writeError(w, "invalid Authorization format", http.StatusUnauthorized)
				return
			}
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if token == "" {
			g.writeError(w, "missing token", http.StatusUnauthorized)
			return
		}
		if !compareTokens(token, g.config.AuthToken) {
			g.writeError(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeadersMiddleware adds standard security headers to all responses.
func (g *Gateway) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware tags each request with an id and logs it.
func (g *Gateway) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		g.logger.Debug("request", "id", id, "method", r.Method, "path", r.URL.Path, "remote", clientKey(r))
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware limits state-changing routes per client address.
func (g *Gateway) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(g.config.ActionsPerMinute))
		if !g.limiter.Allow(key) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			g.logger.Warn("rate limit exceeded", "client", key, "path", r.URL.Path)
			g.writeError(w, "rate limit exceeded, try again shortly", http.StatusTooManyRequests)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(g.limiter.Tokens(key))))
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter allows perMinute requests per key with the given burst.
func NewLimiter(perMinute, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Allow reports whether a request for key may proceed.
func (l *Limiter) Allow(key string) bool { return l.get(key).Allow() }

// Tokens returns the tokens currently available to key.
func (l *Limiter) Tokens(key string) float64 { return l.get(key).Tokens() }
