// Copyright 2024 by Oliver Sauer
// Use of this source code is governed by a MIT-style license that can be found in the LICENSE file.

package mediadrop

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
)

// Route paths
const (
	routeAPIFiles    = "/api/files"
	routeLiveListing = "/api/files/live"
	routeFiles       = "/files"
	routeFilesPrefix = "/files/"
)

// Errors returned by route handlers and mapped to client responses by ServeHTTP.
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("access denied")
	ErrBadPath   = errors.New("bad request path")
)

// routeFunc handles a single route. A returned error is translated into the response.
type routeFunc func(w http.ResponseWriter, r *http.Request) error

// ServeHTTP dispatches on the escaped URL path only. Query strings and methods are
// ignored; the first matching route wins. An encoded slash never matches a fixed route.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := srv.route(r.URL.EscapedPath())(w, r); err != nil {
		srv.writeError(w, r, err)
	}
}

func (srv *Server) route(path string) routeFunc {
	switch {
	case path == "/" || path == "/Index.html" || path == "/index.html":
		return srv.serveIndex
	case path == routeAPIFiles:
		return srv.serveListingJSON
	case path == routeFiles || path == routeFilesPrefix:
		return srv.serveListingHTML
	case strings.HasPrefix(path, routeFilesPrefix):
		return srv.serveMediaFile
	case path == routeLiveListing && srv.Options.LiveListing:
		return srv.serveLiveListing
	default:
		return srv.serveRootFile
	}
}

// writeError maps handler errors onto plain-text responses. Unknown errors are logged
// in full and answered with a generic message.
func (srv *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeText(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrBadPath):
		writeText(w, http.StatusBadRequest, "bad request")
	case errors.Is(err, ErrForbidden):
		logger.Warn("Rejected path outside root", "url", r.URL.String(), "error", err)
		writeText(w, http.StatusForbidden, "access denied")
	default:
		logger.Error("Request failed", "method", r.Method, "url", r.URL.String(),
			"trace_id", traceIDFrom(r.Context()), "error", err)
		writeText(w, http.StatusInternalServerError, "internal server error")
	}
}

func (srv *Server) serveIndex(w http.ResponseWriter, r *http.Request) error {
	return serveFile(w, filepath.Join(srv.root, srv.Options.IndexFile), contentTypeHTML)
}

func (srv *Server) serveListingJSON(w http.ResponseWriter, r *http.Request) error {
	entries := srv.lister.List(r.Context())
	body, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding listing: %w", err)
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(body)
	return ignoreClientGone(err)
}

func (srv *Server) serveListingHTML(w http.ResponseWriter, r *http.Request) error {
	return renderListing(w, srv.lister.List(r.Context()))
}

func (srv *Server) serveMediaFile(w http.ResponseWriter, r *http.Request) error {
	rel, err := unescapeRel(strings.TrimPrefix(r.URL.EscapedPath(), routeFilesPrefix))
	if err != nil {
		return err
	}
	if rel == "" {
		return srv.serveListingHTML(w, r)
	}
	abs, err := srv.resolve(srv.mediaDir, rel)
	if err != nil {
		return err
	}
	return serveFile(w, abs, "")
}

func (srv *Server) serveRootFile(w http.ResponseWriter, r *http.Request) error {
	rel, err := unescapeRel(strings.TrimPrefix(r.URL.EscapedPath(), "/"))
	if err != nil {
		return err
	}
	abs, err := srv.resolve(srv.root, rel)
	if err != nil {
		return err
	}
	return serveFile(w, abs, "")
}

// unescapeRel percent-decodes the path remainder after its route prefix.
func unescapeRel(raw string) (string, error) {
	rel, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadPath, err)
	}
	return rel, nil
}

// resolve joins rel onto base and checks that the result stays inside the server root.
// The check is textual on the cleaned path unless strict containment is enabled, in which
// case symlinks of an existing target are resolved and checked again.
func (srv *Server) resolve(base, rel string) (string, error) {
	abs := filepath.Join(base, filepath.FromSlash(rel))
	if !within(srv.root, abs) {
		return "", fmt.Errorf("%w: %s", ErrForbidden, rel)
	}
	if srv.Options.StrictContainment {
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			// a missing target is reported by the file server as not found
			return abs, nil
		}
		realRoot, err := filepath.EvalSymlinks(srv.root)
		if err != nil {
			return "", fmt.Errorf("resolving root: %w", err)
		}
		if !within(realRoot, resolved) {
			return "", fmt.Errorf("%w: %s resolves to %s", ErrForbidden, rel, resolved)
		}
	}
	return abs, nil
}

// within reports whether path equals root or lies below it. Both must be cleaned absolute paths.
func within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}
