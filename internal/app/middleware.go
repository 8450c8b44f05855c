package app

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"fachschaft/api/internal/util"
)

type requestIDKey struct{}

type actorKey struct{}

func actorFrom(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorKey{}).(Actor)
	return actor
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withMiddleware wraps next, outermost first: request id with access log and
// metrics, panic recovery, headers, rate limiting, identity resolution.
func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return s.withRequestLog(s.withRecover(s.withHeaders(s.withRateLimit(s.withIdentity(next)))))
}

func (s *HTTPServer) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := util.RequestIDFromHeader(r.Header.Get("X-Request-ID"))
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)

		if s.metrics != nil {
			s.metrics.InFlight.Inc()
			defer s.metrics.InFlight.Dec()
		}

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		route := routeClass(r.URL.Path)
		if s.metrics != nil {
			s.metrics.Requests.WithLabelValues(r.Method, route, strconv.Itoa(writer.status)).Inc()
			s.metrics.Duration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		}
		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("request")
	})
}

func (s *HTTPServer) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().
					Str("request_id", requestIDFrom(r.Context())).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", "DENY")
		header.Set("Referrer-Policy", "no-referrer")
		setCORSHeaders(header, s.corsOrigin)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && isMutating(r.Method) && !s.limiter.allow(clientIP(r)) {
			if s.metrics != nil {
				s.metrics.RateLimited.Inc()
			}
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withIdentity resolves the caller once per request and writes renewed
// session cookies before the handler runs.
func (s *HTTPServer) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipIdentity(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		actor, resolution := s.service.ResolveActor(r.Context(), r)
		for _, cookie := range resolution.Cookies {
			http.SetCookie(w, cookie)
		}
		if s.metrics != nil {
			s.metrics.AuthResolutions.WithLabelValues(string(resolution.Source)).Inc()
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func skipIdentity(path string) bool {
	switch path {
	case "/api/health", "/api/ready", "/metrics", "/api/auth/login", "/api/auth/callback":
		return true
	}
	return false
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	if corsOrigin != "*" {
		header.Set("Access-Control-Allow-Credentials", "true")
		header.Add("Vary", "Origin")
	}
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

// rateLimiter keeps one token bucket per client address.
type rateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perSecond, burst int) *rateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perSecond
	}
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     5 * time.Minute,
		now:      time.Now,
	}
}

func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.idle {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// routeClass collapses ids and names so metric labels stay bounded.
func routeClass(path string) string {
	parts := splitPath(path)
	for i, part := range parts {
		if _, err := uuid.Parse(part); err == nil {
			parts[i] = "{id}"
			continue
		}
		if i == 0 {
			continue
		}
		switch prev := parts[i-1]; {
		case prev == "templates", prev == "calendar", prev == "by-username", prev == "by-matrix-id", prev == "protocol":
			parts[i] = "{name}"
		case prev == "roles" && i == 2:
			parts[i] = "{name}"
		case prev == "history":
			parts[i] = "{hash}"
		}
	}
	return "/" + strings.Join(parts, "/")
}
