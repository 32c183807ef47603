package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter hands each client address its own token bucket. Clients
// quiet for longer than idle are dropped, at most once per idle period.
type clientLimiter struct {
	mu        sync.Mutex
	every     rate.Limit
	burst     int
	idle      time.Duration
	clients   map[string]*client
	lastSweep time.Time
}

type client struct {
	bucket *rate.Limiter
	seen   time.Time
}

func newClientLimiter(every rate.Limit, burst int, idle time.Duration) *clientLimiter {
	return &clientLimiter{
		every:   every,
		burst:   burst,
		idle:    idle,
		clients: map[string]*client{},
	}
}

func (l *clientLimiter) allow(addr string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}
	c, ok := l.clients[addr]
	if !ok {
		c = &client{bucket: rate.NewLimiter(l.every, l.burst)}
		l.clients[addr] = c
	}
	c.seen = now
	return c.bucket.AllowN(now, 1)
}

func (l *clientLimiter) sweep(now time.Time) {
	for addr, c := range l.clients {
		if now.Sub(c.seen) > l.idle {
			delete(l.clients, addr)
		}
	}
	l.lastSweep = now
}

func (l *clientLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// remoteHost uses the socket address only. The daemon is reached directly,
// so forwarding headers are not trusted.
func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
