package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fulmenhq/gofulmen/errors"
)

const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter throttles inbound requests per client address.
type ClientRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	now     func() time.Time
	sweptAt time.Time
}

// NewClientRateLimiter allows perSecond requests per client with the given burst.
func NewClientRateLimiter(perSecond float64, burst int) *ClientRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ClientRateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
}

// RateLimit returns middleware applying l. A nil limiter passes everything through.
func RateLimit(l *ClientRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			delay := l.wait(clientKey(r))
			if delay == 0 {
				next.ServeHTTP(w, r)
				return
			}

			seconds := int(math.Ceil(delay.Seconds()))
			envelope := errors.NewErrorEnvelope("RATE_LIMITED", "Too many requests").
				WithCorrelationID(GetRequestID(r.Context())).
				WithDetails(map[string]interface{}{"retry_after_seconds": seconds})
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeErrorResponse(w, envelope, http.StatusTooManyRequests)
		})
	}
}

// wait returns how long the client must wait for a token. A positive wait
// consumes nothing.
func (l *ClientRateLimiter) wait(key string) time.Duration {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.sweptAt) > limiterIdleTTL {
		for k, client := range l.clients {
			if now.Sub(client.lastSeen) > limiterIdleTTL {
				delete(l.clients, k)
			}
		}
		l.sweptAt = now
	}

	client, ok := l.clients[key]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = client
	}
	client.lastSeen = now

	reservation := client.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return time.Second
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
	}
	return delay
}

// clientKey uses RemoteAddr, which chi's RealIP middleware has already rewritten.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
