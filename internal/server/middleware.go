package server

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bigtube/internal/logging"
)

type rateLimiter interface {
	Allow(key string) bool
}

func with(rl rateLimiter, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rl != nil && !rl.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		h(w, r)
	}
}

// statusRecorder captures status and size for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	sr.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

func logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		// dashboard polling is too noisy to log
		if r.URL.Path == "/dashboard/rows" {
			return
		}
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		logging.LogHTTPRequest(r.Method, r.URL.Path, clientIP(r), time.Since(start), status, rec.bytes)
	})
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logging.With(r.Context()).Error("panic in handler",
					"event", "http_panic",
					"path", r.URL.Path,
					"panic", v)
				writeError(w, http.StatusInternalServerError, "internal_error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	// Respect common proxy headers, then fall back to RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		return strings.TrimSpace(xr)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// bucketIdle is how long a client may stay silent before its limiter is dropped.
const bucketIdle = time.Hour

// ipRateLimiter keeps one token bucket per client IP.
type ipRateLimiter struct {
	limit   rate.Limit
	burst   int
	buckets map[string]*bucket
	mu      sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	lim  *rate.Limiter
	last time.Time
}

// newIPRateLimiter allows capacity requests per window, refilled evenly.
func newIPRateLimiter(capacity int, per time.Duration) *ipRateLimiter {
	if capacity < 1 {
		capacity = 1
	}
	return newRateLimiter(rate.Every(per/time.Duration(capacity)), capacity)
}

func newRateLimiter(limit rate.Limit, burst int) *ipRateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &ipRateLimiter{
		limit:   limit,
		burst:   burst,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go rl.janitor()
	return rl
}

func (rl *ipRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b := rl.buckets[key]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.last = time.Now()
	return b.lim.Allow()
}

func (rl *ipRateLimiter) janitor() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *ipRateLimiter) cleanup() {
	cutoff := time.Now().Add(-bucketIdle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.buckets {
		if b.last.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (rl *ipRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
