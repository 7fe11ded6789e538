// proof-of-human/handlers/middleware.go
package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// NewStructuredLogger logs one line per request through slog.
func NewStructuredLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("Request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"remote", r.RemoteAddr,
			)
		})
	}
}

// IngestLimiter throttles webhook deliveries per remote address with a token
// bucket. Stale buckets are pruned in the background.
type IngestLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time

	every  time.Duration
	burst  int
	expire time.Duration
}

// NewIngestLimiter creates a limiter admitting one request per `every` with
// the given burst, and starts its pruning loop.
func NewIngestLimiter(every time.Duration, burst int, prune, expire time.Duration) *IngestLimiter {
	il := &IngestLimiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		every:    every,
		burst:    burst,
		expire:   expire,
	}
	go il.cleanup(prune)
	return il
}

func (il *IngestLimiter) get(key string) *rate.Limiter {
	il.mu.Lock()
	defer il.mu.Unlock()
	limiter, ok := il.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(il.every), il.burst)
		il.limiters[key] = limiter
	}
	il.lastSeen[key] = time.Now()
	return limiter
}

func (il *IngestLimiter) cleanup(interval time.Duration) {
	for range time.Tick(interval) {
		il.mu.Lock()
		cutoff := time.Now().Add(-il.expire)
		for key, seen := range il.lastSeen {
			if seen.Before(cutoff) {
				delete(il.limiters, key)
				delete(il.lastSeen, key)
			}
		}
		il.mu.Unlock()
	}
}

// Middleware rejects over-rate requests with 429.
func (il *IngestLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !il.get(remoteHost(r)).Allow() {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// remoteHost strips the port from RemoteAddr; RealIP middleware has already
// resolved forwarding headers by the time this runs.
func remoteHost(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx > 0 && !strings.HasSuffix(addr, "]") {
		// Leave bare IPv6 literals alone.
		if !strings.Contains(addr[:idx], ":") || strings.HasPrefix(addr, "[") {
			return addr[:idx]
		}
	}
	return addr
}

// RequireAdminToken guards the admin area with a bearer token checked
// against the configured bcrypt hash.
func RequireAdminToken(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hash := app.AdminTokenHash()
			if len(hash) == 0 {
				http.Error(w, "Forbidden: admin area disabled", http.StatusForbidden)
				return
			}

			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkWebhookSecret compares the platform's echoed secret header in
// constant time. An empty configured secret disables the check.
func checkWebhookSecret(r *http.Request, secret string) bool {
	if secret == "" {
		return true
	}
	got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}
