package backend

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/relabs-tech/popstats/core/logger"
)

// maxLimiters bounds the number of tracked clients. When exceeded, all
// limiters are reset.
const maxLimiters = 10000

// rateLimiter allows max requests per window and client IP. Tokens refill
// continuously, so a client may burst up to max requests.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	window   time.Duration
	max      int
	rate     rate.Limit
}

func newRateLimiter(window time.Duration, max int) *rateLimiter {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		window:   window,
		max:      max,
		rate:     rate.Every(window / time.Duration(max)),
	}
}

func (rl *rateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxLimiters {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rl.rate, rl.max)
		rl.limiters[key] = limiter
	}
	return limiter
}

// clientIP returns the first X-Forwarded-For address or the remote address
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *rateLimiter) middleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			h.ServeHTTP(w, r)
			return
		}
		key := clientIP(r)
		limiter := rl.limiter(key)
		allowed := limiter.Allow()

		remaining := int(math.Max(0, math.Floor(limiter.Tokens())))
		reset := int(math.Ceil(float64(rl.max-remaining) * float64(rl.window/time.Duration(rl.max)) / float64(time.Second)))
		w.Header().Set("RateLimit-Limit", strconv.Itoa(rl.max))
		w.Header().Set("RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("RateLimit-Reset", strconv.Itoa(reset))

		if !allowed {
			logger.FromContext(r.Context()).Warnf("rate limit exceeded for %s on %s", key, r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(float64(rl.window/time.Duration(rl.max))/float64(time.Second)))))
			respondFail(w, r, http.StatusTooManyRequests, "Too many requests from this IP, please try again later.")
			return
		}
		h.ServeHTTP(w, r)
	})
}
