// Package ratelimit throttles clients to a fixed number of requests per
// minute.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const window = time.Minute

// Limiter counts requests per client in fixed one-minute windows.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	limit   int
	idle    time.Duration
	now     func() time.Time

	rejected atomic.Int64

	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientWindow struct {
	start    time.Time
	lastSeen time.Time
	requests int
}

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
	// IdleTimeout is how long a silent client is remembered.
	IdleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		CleanupInterval:   5 * time.Minute,
		IdleTimeout:       10 * time.Minute,
	}
}

// NewLimiter starts a limiter and its cleanup goroutine. Call Stop when done.
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = def.RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}

	rl := &Limiter{
		clients:     make(map[string]*clientWindow),
		limit:       config.RequestsPerMinute,
		idle:        config.IdleTimeout,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup(config.CleanupInterval)
	return rl
}

// Allow records a request from client and reports whether it is within the
// limit for the current window.
func (rl *Limiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cw, ok := rl.clients[client]
	if !ok || now.Sub(cw.start) >= window {
		rl.clients[client] = &clientWindow{start: now, lastSeen: now, requests: 1}
		return true
	}

	cw.lastSeen = now
	if cw.requests >= rl.limit {
		rl.rejected.Add(1)
		return false
	}
	cw.requests++
	return true
}

// Exhausted reports whether client has used up its current window. It
// records nothing.
func (rl *Limiter) Exhausted(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cw, ok := rl.clients[client]
	if !ok || rl.now().Sub(cw.start) >= window {
		return false
	}
	return cw.requests >= rl.limit
}

// RetryAfter is the number of seconds until client's window resets.
func (rl *Limiter) RetryAfter(client string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cw, ok := rl.clients[client]
	if !ok {
		return 0
	}
	left := window - rl.now().Sub(cw.start)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

func (rl *Limiter) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Sweep()
		case <-rl.stopCleanup:
			return
		}
	}
}

// Sweep forgets clients idle for longer than the idle timeout and returns
// how many were dropped.
func (rl *Limiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	n := 0
	for client, cw := range rl.clients {
		if cw.lastSeen.Before(cutoff) {
			delete(rl.clients, client)
			n++
		}
	}
	return n
}

func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Rejected counts requests refused since start.
func (rl *Limiter) Rejected() int64 {
	return rl.rejected.Load()
}

func (rl *Limiter) Stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// Mutating reports whether r can change server state.
func Mutating(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// Middleware limits mutating requests per client as identified by
// extractIP. onLimit writes the rejection; Retry-After is already set.
func (rl *Limiter) Middleware(extractIP func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !Mutating(r) {
				next.ServeHTTP(w, r)
				return
			}

			client := extractIP(r)
			if !rl.Allow(client) {
				w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter(client)))
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
