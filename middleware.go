// Copyright 2024 by Oliver Sauer
// Use of this source code is governed by a MIT-style license that can be found in the LICENSE file.

package mediadrop

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/osauer/mediadrop/internal/responsewriter"
)

// MiddlewareFunc is a function type that wraps an http.Handler and returns a new http.HandlerFunc.
// This is the standard pattern for HTTP middleware in Go.
type MiddlewareFunc func(http.Handler) http.HandlerFunc

// MiddlewareStack is a collection of middleware functions that can be applied to an http.Handler.
// Middleware in the stack is applied in order, with the first middleware being the outermost.
type MiddlewareStack []MiddlewareFunc

// chainMiddleware helper to apply multiple middlewares to a handler
func chainMiddleware(final http.Handler, stack MiddlewareStack) http.Handler {
	handler := final
	// reverse order to run first MiddlewareFunc passed first
	for i := len(stack) - 1; i >= 0; i-- {
		handler = stack[i](handler)
	}
	return handler
}

// DefaultMiddleware returns the stack every server runs with: metrics collection,
// trace ids, request logging and panic recovery.
func DefaultMiddleware(srv *Server) MiddlewareStack {
	return MiddlewareStack{
		MetricsMiddleware(srv),
		TraceMiddleware,
		RequestLoggerMiddleware,
		RecoveryMiddleware,
	}
}

type contextKey string

const (
	traceIDKey    contextKey = "traceID"
	traceIDHeader            = "X-Trace-Id"
)

// traceIDFrom returns the trace id stored by TraceMiddleware, or "".
func traceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// MetricsMiddleware returns a middleware function that collects request metrics.
// It tracks total request count and response times for performance monitoring.
func MetricsMiddleware(srv *Server) MiddlewareFunc {
	return func(next http.Handler) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			srv.totalRequests.Add(1)
			start := time.Now()
			next.ServeHTTP(w, r)
			srv.totalResponseTime.Add(time.Since(start).Microseconds())
		}
	}
}

// TraceMiddleware tags each request with a random trace id, exposed in the request
// context and the X-Trace-Id response header.
func TraceMiddleware(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traceID := uuid.NewString()
		w.Header().Set(traceIDHeader, traceID)
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// RequestLoggerMiddleware returns a middleware function that logs detailed request information.
// Logs IP address, method, URL, trace ID, status code, bytes and request duration.
func RequestLoggerMiddleware(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := responsewriter.NewRecorder(w)
		ip, _, _ := net.SplitHostPort(r.RemoteAddr)

		start := time.Now()
		next.ServeHTTP(rec, r)
		logger.Info("Request completed",
			"from", ip,
			"method", r.Method,
			"url", r.URL.String(),
			"trace_id", traceIDFrom(r.Context()),
			"status", rec.Status(),
			"bytes", rec.BytesWritten(),
			"duration", time.Since(start))
	}
}

// RecoveryMiddleware returns a middleware function that recovers from panics in request handlers.
// Catches panics, logs the error, and returns a 500 Internal Server Error response.
func RecoveryMiddleware(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := responsewriter.NewRecorder(w)
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				logger.Error("Panic recovered", "url", r.URL.String(),
					"trace_id", traceIDFrom(r.Context()), "error", err)
				if !rec.WroteHeader() {
					writeText(rec, http.StatusInternalServerError, "internal server error")
				}
			}
		}()
		next.ServeHTTP(rec, r)
	}
}

type rateLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

const (
	limiterIdleTTL    = 3 * time.Minute
	limiterPruneAbove = 1024
)

// RateLimitMiddleware returns a middleware function that enforces rate limiting per client IP address.
// Uses token bucket algorithm with configurable rate limit and burst capacity.
// Returns 429 Too Many Requests when rate limit is exceeded.
func RateLimitMiddleware(srv *Server) MiddlewareFunc {
	return func(next http.Handler) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			limiter := srv.limiterFor(ip, time.Now())

			if !limiter.Allow() {
				// Add retry-after header for better client behavior
				w.Header().Set("Retry-After", "1")
				writeText(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", float64(srv.Options.RateLimit)))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", limiter.Tokens()))
			next.ServeHTTP(w, r)
		}
	}
}

// limiterFor returns the limiter of a client, creating it on first sight. Idle limiters are
// pruned inline once the table grows, so no janitor goroutine is needed.
func (srv *Server) limiterFor(ip string, now time.Time) *rate.Limiter {
	srv.limitersMu.Lock()
	defer srv.limitersMu.Unlock()

	entry, ok := srv.clientLimiters[ip]
	if !ok {
		if len(srv.clientLimiters) >= limiterPruneAbove {
			for key, e := range srv.clientLimiters {
				if now.Sub(e.lastAccess) > limiterIdleTTL {
					delete(srv.clientLimiters, key)
				}
			}
		}
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(srv.Options.RateLimit, srv.Options.Burst)}
		srv.clientLimiters[ip] = entry
	}
	entry.lastAccess = now
	return entry.limiter
}

// Header represents an HTTP header key-value pair used in middleware configuration.
type Header struct {
	key   string
	value string
}

// securityHeaders provide headers for HeadersMiddleware
var securityHeaders = []Header{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=(), usb=()"},
	{"Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; media-src 'self'; connect-src 'self'; object-src 'none'; frame-ancestors 'none'; base-uri 'self'"},
	{"Cross-Origin-Opener-Policy", "same-origin"},
}

// HeadersMiddleware adds security headers to every response. Media and page responses
// stay same-origin friendly so the landing page can still play listed files.
func HeadersMiddleware(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, h := range securityHeaders {
			w.Header().Set(h.key, h.value)
		}
		next.ServeHTTP(w, r)
	}
}
