// Copyright 2024 by Oliver Sauer
// Use of this source code is governed by a MIT-style license that can be found in the LICENSE file.

package mediadrop

import (
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
)

// CORSOptions lets pages on other origins read the listing API and embed media.
// The server is read-only, so the allowed methods are fixed.
type CORSOptions struct {
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	AllowedHeaders []string `json:"allowed_headers,omitempty"`
	MaxAgeSeconds  int      `json:"max_age_seconds,omitempty"`
}

const (
	corsAllowedMethods = "GET, HEAD, OPTIONS"
	defaultCORSMaxAge  = 600
)

func normalizeCORSOptions(opts *CORSOptions) *CORSOptions {
	if opts == nil {
		return nil
	}
	normalized := &CORSOptions{
		AllowedOrigins: sanitizeTokens(opts.AllowedOrigins),
		AllowedHeaders: sanitizeTokens(opts.AllowedHeaders),
		MaxAgeSeconds:  opts.MaxAgeSeconds,
	}
	if len(normalized.AllowedHeaders) == 0 {
		normalized.AllowedHeaders = []string{"Content-Type"}
	}
	if normalized.MaxAgeSeconds <= 0 {
		normalized.MaxAgeSeconds = defaultCORSMaxAge
	}
	sort.Strings(normalized.AllowedOrigins)
	sort.Strings(normalized.AllowedHeaders)
	return normalized
}

// sanitizeTokens trims, drops empty and de-duplicates values.
func sanitizeTokens(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, raw := range values {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		if _, exists := seen[token]; exists {
			continue
		}
		seen[token] = struct{}{}
		result = append(result, token)
	}
	return result
}

// resolveAllowedOrigin returns the Access-Control-Allow-Origin value for origin.
func (c *CORSOptions) resolveAllowedOrigin(origin string) (string, bool) {
	if c == nil || len(c.AllowedOrigins) == 0 {
		return "", false
	}
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "", false
	}
	lowerOrigin := strings.ToLower(origin)
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" {
			return "*", true
		}
		if matchOrigin(allowed, lowerOrigin) {
			return origin, true
		}
	}
	return "", false
}

// matchOrigin supports exact origins, glob patterns and a trailing ":*" for any port.
func matchOrigin(allowed string, originLower string) bool {
	lowerAllowed := strings.ToLower(strings.TrimSpace(allowed))
	if lowerAllowed == "" {
		return false
	}
	if lowerAllowed == originLower {
		return true
	}
	if strings.HasSuffix(lowerAllowed, ":*") {
		return strings.HasPrefix(originLower, strings.TrimSuffix(lowerAllowed, "*"))
	}
	if strings.Contains(lowerAllowed, "*") {
		if ok, err := path.Match(lowerAllowed, originLower); err == nil && ok {
			return true
		}
	}
	return false
}

// CORSMiddleware answers preflight requests and tags responses for allowed origins.
// Requests without an Origin header pass through untouched.
func CORSMiddleware(opts *CORSOptions) MiddlewareFunc {
	opts = normalizeCORSOptions(opts)
	return func(next http.Handler) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Add("Vary", "Origin")
			allowOrigin, ok := opts.resolveAllowedOrigin(origin)
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if !ok {
				if preflight {
					writeText(w, http.StatusForbidden, "origin not allowed")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			if preflight {
				w.Header().Set("Access-Control-Allow-Methods", corsAllowedMethods)
				w.Header().Set("Access-Control-Allow-Headers", strings.Join(opts.AllowedHeaders, ", "))
				w.Header().Set("Access-Control-Max-Age", strconv.Itoa(opts.MaxAgeSeconds))
				w.WriteHeader(http.StatusNoContent)
				return
			}
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, "+traceIDHeader)
			next.ServeHTTP(w, r)
		}
	}
}
