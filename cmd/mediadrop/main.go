// Copyright 2024 by Oliver Sauer
// Use of this source code is governed by a MIT-style license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/osauer/mediadrop"
)

func main() {
	var (
		verbose = flag.Bool("verbose", false, "Enable debug logging")
		jsonLog = flag.Bool("json", false, "Log as JSON instead of text")
		envFile = flag.String("env", ".env", "Environment file loaded before reading configuration")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	if *jsonLog {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	mediadrop.SetDefaultLogger(logger)

	// variables already set in the environment win over the file
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to load environment file", "file", *envFile, "error", err)
	}

	srv, err := mediadrop.NewServer()
	if err != nil {
		logger.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	ln, err := srv.Listen()
	if err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
	// announce only once the port is bound
	fmt.Printf("Server running at %s\n", srv.URL())
	fmt.Printf("Drop MP3 or MP4 files into %s and refresh the page.\n", srv.MediaDir())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Serve(ctx, ln); err != nil {
		logger.Error("Server failed", "error", err)
		stop()
		os.Exit(1)
	}
}
