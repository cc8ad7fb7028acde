// ratelimit.go — ограничение частоты запросов по IP клиента (token bucket).
package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	apierrors "github.com/Pullock4981/diu-transport-client/internal/api/errors"
)

// RateLimiter хранит limiter на каждый IP. Неактивные IP вытесняются
// из LRU по TTL.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewRateLimiter создаёт limiter: perSecond запросов в секунду, burst — запас.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](10000, nil, 10*time.Minute),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow расходует токен для ключа.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters.Get(key)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(key, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Middleware отвечает 429, если лимит для IP исчерпан.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			apierrors.RateLimited(w, 5, "Слишком много запросов, повторите позже")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP — первый адрес X-Forwarded-For либо host из RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
