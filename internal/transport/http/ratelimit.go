package httptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"example.com/workoutstats/internal/auth"
	"example.com/workoutstats/internal/observability"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyFunc names the bucket a request draws from. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// RateLimiter throttles each client with its own token bucket.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	key      KeyFunc
	idleTTL  time.Duration
	now      func() time.Time
	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewRateLimiter constructs a limiter allowing rps requests per second with
// the given burst for every key returned by key.
func NewRateLimiter(rps float64, burst int, key KeyFunc) *RateLimiter {
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		key:      key,
		idleTTL:  3 * time.Minute,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Middleware rejects requests over budget with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.key(r)
		if key != "" && !l.limiterFor(key).Allow() {
			observability.RecordRateLimited()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"type":   "rate_limited",
				"detail": "too many requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = l.now()
	return v.limiter
}

// Run evicts idle visitors every minute until ctx is cancelled.
func (l *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *RateLimiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.idleTTL)
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
		}
	}
}

// BySubject keys authenticated callers by tenant and subject. Requests
// without claims are left to the address limiter.
func BySubject(r *http.Request) string {
	if claims, ok := auth.FromContext(r.Context()); ok {
		return "sub:" + claims.TenantID + "/" + claims.Subject
	}
	return ""
}

// ByClientIP keys requests by the peer address. X-Forwarded-For is consulted
// only when the peer is one of the trusted proxies; the client is then the
// right-most hop that is not itself a trusted proxy.
func ByClientIP(trusted []netip.Prefix) KeyFunc {
	isTrusted := func(addr netip.Addr) bool {
		for _, prefix := range trusted {
			if prefix.Contains(addr) {
				return true
			}
		}
		return false
	}
	return func(r *http.Request) string {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		peer, err := netip.ParseAddr(host)
		if err != nil || !isTrusted(peer.Unmap()) {
			return "ip:" + host
		}

		client := peer
		hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			client = hop.Unmap()
			if !isTrusted(client) {
				break
			}
		}
		return "ip:" + client.String()
	}
}

// ParseTrustedProxies accepts CIDR prefixes or bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, value := range values {
		if prefix, err := netip.ParsePrefix(value); err == nil {
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(value)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", value, err)
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out, nil
}
