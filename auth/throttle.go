package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle limits attempts per client address.
type Throttle struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry
	limit   rate.Limit
	burst   int
	idle    time.Duration
	trusted []netip.Prefix
}

// NewThrottle allows perMinute attempts per client with the given burst.
func NewThrottle(perMinute float64, burst int) *Throttle {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 5
	}
	return &Throttle{
		entries: make(map[string]*throttleEntry),
		limit:   rate.Limit(perMinute / 60),
		burst:   burst,
		idle:    30 * time.Minute,
	}
}

// Allow consumes one attempt for key.
func (t *Throttle) Allow(key string) bool {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.entries[key] = entry
	}
	entry.lastSeen = now
	t.evictIdleLocked(now)
	return entry.limiter.AllowN(now, 1)
}

func (t *Throttle) evictIdleLocked(now time.Time) {
	for key, entry := range t.entries {
		if now.Sub(entry.lastSeen) > t.idle {
			delete(t.entries, key)
		}
	}
}

// TrustProxies lets forwarded client addresses count when the connection
// comes from one of cidrs. Connections from anywhere else are keyed on the
// peer address whatever headers they send.
func (t *Throttle) TrustProxies(cidrs []string) error {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return fmt.Errorf("parse trusted proxy %q: %w", cidr, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	t.mu.Lock()
	t.trusted = prefixes
	t.mu.Unlock()
	return nil
}

type peerKey struct{}

// CapturePeer records the transport peer address before any middleware
// rewrites RemoteAddr from forwarding headers. Install it ahead of
// middleware.RealIP.
func CapturePeer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), peerKey{}, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientKey is the peer host, or the forwarded client host when the peer is
// a trusted proxy.
func (t *Throttle) clientKey(r *http.Request) string {
	peer, ok := r.Context().Value(peerKey{}).(string)
	if !ok {
		return hostOf(r.RemoteAddr)
	}
	host := hostOf(peer)
	if t.trustsPeer(host) {
		return hostOf(r.RemoteAddr)
	}
	return host
}

func (t *Throttle) trustsPeer(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, prefix := range t.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
