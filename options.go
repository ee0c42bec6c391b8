// Copyright 2024 by Oliver Sauer
// Use of this source code is governed by a MIT-style license that can be found in the LICENSE file.

package mediadrop

import (
	"encoding/json"
	"log/slog"
	"os"
	"strconv"

	"golang.org/x/time/rate"
)

// Environment management variable names
const (
	paramPort       = "PORT"
	paramRootDir    = "MEDIADROP_ROOT"
	paramHealthAddr = "HEALTH_ADDR"
	paramFileName   = "options.json"
)

const defaultPort = 3000

// ServerOptions is a representation of the Server settings
type ServerOptions struct {
	Port              int          `json:"port,omitempty"`
	RootDir           string       `json:"root_dir,omitempty"`
	MediaDir          string       `json:"media_dir,omitempty"`
	IndexFile         string       `json:"index_file,omitempty"`
	HealthAddr        string       `json:"health_addr,omitempty"`
	RunHealthServer   bool         `json:"run_health_server,omitempty"`
	RateLimit         rate.Limit   `json:"rate_limit,omitempty"`
	Burst             int          `json:"burst,omitempty"`
	SecureHeaders     bool         `json:"secure_headers,omitempty"`
	LiveListing       bool         `json:"live_listing,omitempty"`
	StrictContainment bool         `json:"strict_containment,omitempty"`
	CORS              *CORSOptions `json:"cors,omitempty"`
}

// defaultServerOptions returns a fresh copy so callers can mutate their options safely.
func defaultServerOptions() *ServerOptions {
	return &ServerOptions{
		Port:              defaultPort,
		RootDir:           ".",
		MediaDir:          "files",
		IndexFile:         "Index.html",
		HealthAddr:        ":9080",
		RunHealthServer:   false,
		RateLimit:         0,
		Burst:             20,
		SecureHeaders:     false,
		LiveListing:       true,
		StrictContainment: false,
	}
}

// Wrappers for debug levels to be used in the server. We're using slog for logging,
// but want to hide this detail from the client
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// NewServerOptions creates a new configuration for the server with a priority order. Environment variables override options file.
// 1. Environment variables
// 2. ServerOptions file (JSON)
// 3. Default values
func NewServerOptions() *ServerOptions {
	return applyEnvVars(applyConfigFile(defaultServerOptions(), paramFileName))
}

// ServerOptionFunc configures a [Server] using the functional options pattern.
//
// Example:
//
//	srv, err := NewServer(
//		WithPort(8080),
//		WithHealthServer(),
//	)
type ServerOptionFunc func(srv *Server)

// parsePort accepts a decimal TCP port in 1..65535.
func parsePort(s string) (int, bool) {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return 0, false
	}
	return p, true
}

// helper to read environment variables and apply them to the options
func applyEnvVars(config *ServerOptions) *ServerOptions {
	if raw, ok := os.LookupEnv(paramPort); ok {
		if port, valid := parsePort(raw); valid {
			config.Port = port
			logger.Info("Port set from environment variable", "variable", paramPort, "port", port)
		} else {
			config.Port = defaultPort
			logger.Warn("Invalid port in environment variable, using default", "variable", paramPort,
				"value", raw, "port", defaultPort)
		}
	}
	if root := os.Getenv(paramRootDir); root != "" {
		config.RootDir = root
		logger.Info("Root directory set from environment variable", "variable", paramRootDir, "dir", root)
	}
	if healthAddr := os.Getenv(paramHealthAddr); healthAddr != "" {
		config.HealthAddr = healthAddr
		logger.Info("Health endpoint address set from environment variable", "variable", paramHealthAddr, "addr", healthAddr)
	}
	return config
}

// fileOptions is the options file layout. Options that default to true are pointers so
// an explicit false in the file can be told apart from an absent key.
type fileOptions struct {
	*ServerOptions
	LiveListing *bool `json:"live_listing,omitempty"`
}

// helper to read an options file and apply it to the options
func applyConfigFile(config *ServerOptions, fileName string) *ServerOptions {
	file, err := os.Open(fileName)
	if err != nil {
		logger.Debug("No options file found.", "error", err)
		return config
	}

	// make sure file is closed after reading
	defer func(file *os.File) {
		err := file.Close()
		if err != nil {
			logger.Error("Failed to close file", "error", err, "file-name", file.Name())
		}
	}(file)

	fileConfig := &fileOptions{ServerOptions: &ServerOptions{}}
	if err := json.NewDecoder(file).Decode(fileConfig); err != nil {
		logger.Warn("Loading options file failed; Using environment and defaults", "file", fileName, "error", err)
		return config
	}
	logger.Info("Server configuration loaded from file", "file", fileName)
	mergeConfig(config, fileConfig.ServerOptions)
	if fileConfig.LiveListing != nil {
		config.LiveListing = *fileConfig.LiveListing
	}
	return config
}

// mergeConfig overrides default options with values of override if set
func mergeConfig(base *ServerOptions, override *ServerOptions) {
	if override.Port != 0 {
		if _, ok := parsePort(strconv.Itoa(override.Port)); ok {
			base.Port = override.Port
		} else {
			logger.Warn("Invalid port in options file, keeping default", "port", override.Port)
		}
	}
	if override.RootDir != "" {
		base.RootDir = override.RootDir
	}
	if override.MediaDir != "" {
		base.MediaDir = override.MediaDir
	}
	if override.IndexFile != "" {
		base.IndexFile = override.IndexFile
	}
	if override.HealthAddr != "" {
		base.HealthAddr = override.HealthAddr
	}
	if override.RateLimit != 0 {
		base.RateLimit = override.RateLimit
	}
	if override.Burst != 0 {
		base.Burst = override.Burst
	}
	// booleans can only be switched on from the file
	base.RunHealthServer = base.RunHealthServer || override.RunHealthServer
	base.SecureHeaders = base.SecureHeaders || override.SecureHeaders
	base.StrictContainment = base.StrictContainment || override.StrictContainment
	if override.CORS != nil {
		base.CORS = override.CORS
	}
}

// WithPort sets the listening port. Invalid ports are ignored with a warning.
func WithPort(port int) ServerOptionFunc {
	return func(srv *Server) {
		if _, ok := parsePort(strconv.Itoa(port)); !ok {
			logger.Warn("Ignoring invalid port option", "port", port)
			return
		}
		srv.Options.Port = port
	}
}

// WithRootDir sets the directory everything is served from.
func WithRootDir(dir string) ServerOptionFunc {
	return func(srv *Server) {
		srv.Options.RootDir = dir
	}
}

// WithMediaDir sets the media directory, relative to the root directory.
func WithMediaDir(dir string) ServerOptionFunc {
	return func(srv *Server) {
		srv.Options.MediaDir = dir
	}
}

// WithLogger replaces the default with a custom logger.
func WithLogger(l *slog.Logger) ServerOptionFunc {
	return func(srv *Server) {
		SetDefaultLogger(l)
	}
}

// WithHealthServer enables the health server on a different port.
func WithHealthServer() ServerOptionFunc {
	return func(srv *Server) {
		srv.Options.RunHealthServer = true
	}
}

// WithRateLimit sets rate limiting parameters of the server. A limit of 0 disables rate limiting.
func WithRateLimit(limit rate.Limit, burst int) ServerOptionFunc {
	return func(srv *Server) {
		srv.Options.RateLimit = limit
		srv.Options.Burst = burst
	}
}

// WithSecureHeaders adds the security headers middleware.
func WithSecureHeaders() ServerOptionFunc {
	return func(srv *Server) {
		srv.Options.SecureHeaders = true
	}
}

// WithLiveListing toggles the websocket listing endpoint.
func WithLiveListing(enabled bool) ServerOptionFunc {
	return func(srv *Server) {
		srv.Options.LiveListing = enabled
	}
}

// WithStrictContainment resolves symlinks before the containment check.
func WithStrictContainment() ServerOptionFunc {
	return func(srv *Server) {
		srv.Options.StrictContainment = true
	}
}

// WithCORS allows cross-origin reads from the given origins. Patterns like
// "http://localhost:*" and "*" are accepted.
func WithCORS(opts *CORSOptions) ServerOptionFunc {
	return func(srv *Server) {
		srv.Options.CORS = opts
	}
}
