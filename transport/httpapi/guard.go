package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientLimiterStore é um token bucket (x/time/rate) por cliente, com limpeza
// periódica de clientes inativos. Protege o processo antes de qualquer ida ao Redis.
type ClientLimiterStore struct {
	mu           sync.Mutex
	entries      map[string]*limiterEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type LimiterOption func(*ClientLimiterStore)

func WithIdleTTL(d time.Duration) LimiterOption {
	return func(s *ClientLimiterStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) LimiterOption {
	return func(s *ClientLimiterStore) { s.cleanupEvery = d }
}

// NewClientLimiterStore cria o store a partir de um teto por minuto.
func NewClientLimiterStore(perMinute float64, burst int, opts ...LimiterOption) *ClientLimiterStore {
	if burst <= 0 {
		burst = 1
	}
	s := &ClientLimiterStore{
		entries:      make(map[string]*limiterEntry),
		rps:          rate.Limit(perMinute / 60),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ClientLimiterStore) RPS() float64 { return float64(s.rps) }
func (s *ClientLimiterStore) Burst() int   { return s.burst }

func (s *ClientLimiterStore) Get(key string) *rate.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(s.rps, s.burst)
	s.entries[key] = &limiterEntry{lim: lim, lastSeen: now}
	return lim
}

func (s *ClientLimiterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *ClientLimiterStore) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor limpa clientes inativos periodicamente até ctx encerrar.
func (s *ClientLimiterStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

type KeyFunc func(r *http.Request) string

// ClientKey identifica o cliente: header dedicado, primeiro IP do X-Forwarded-For
// (se confiável) ou RemoteAddr.
func ClientKey(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// ClientRateLimit rejeita com 429 quem estourar o bucket do seu cliente.
func ClientRateLimit(store *ClientLimiterStore, keyFn KeyFunc) func(next http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if keyFn == nil {
		keyFn = ClientKey("", false)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lim := store.Get(keyFn(r))
			if !lim.Allow() {
				retry := time.Second
				if store.rps > 0 {
					retry = time.Duration(float64(time.Second) / float64(store.rps))
				}
				clientRejectionsCounter.WithLabelValues("rate").Inc()
				w.Header().Set("Retry-After", formatInt(retryAfterSeconds(retry)))
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "client_rate_limited", Message: "too many requests from this client"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ConcurrencyLimit limita requisições simultâneas. max <= 0 desliga.
// acquireTimeout <= 0 espera até o contexto da requisição encerrar.
func ConcurrencyLimit(max int, acquireTimeout time.Duration) func(next http.Handler) http.Handler {
	if max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	sem := make(chan struct{}, max)

	acquire := func(ctx context.Context) bool {
		if acquireTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, acquireTimeout)
			defer cancel()
		}
		select {
		case sem <- struct{}{}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !acquire(r.Context()) {
				clientRejectionsCounter.WithLabelValues("concurrency").Inc()
				writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "overloaded", Message: "too many concurrent requests"})
				return
			}
			defer func() { <-sem }()

			next.ServeHTTP(w, r)
		})
	}
}
