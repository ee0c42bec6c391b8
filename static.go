// Copyright 2024 by Oliver Sauer
// Use of this source code is governed by a MIT-style license that can be found in the LICENSE file.

package mediadrop

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"syscall"
)

// serveFile streams the regular file at path with status 200. An empty contentType is
// derived from the file extension. Ranges are not supported: the whole file is sent.
func serveFile(w http.ResponseWriter, path, contentType string) error {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if contentType == "" {
		contentType = ContentTypeFor(path)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)

	// io.Copy hands off to the writer's ReadFrom, which lets net/http use sendfile
	if _, err := io.Copy(w, f); err != nil {
		// headers are gone; the only thing left is to log
		if err = ignoreClientGone(err); err != nil {
			logger.Warn("Streaming file interrupted", "file", path, "error", err)
		}
	}
	return nil
}

// writeText writes a plain-text response with the given status.
func writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", contentTypeText)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, message); err != nil {
		logger.Debug("Failed to write response", "status", status, "error", err)
	}
}

// ignoreClientGone drops errors caused by the client hanging up mid-response.
func ignoreClientGone(err error) error {
	if err == nil || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return nil
	}
	return err
}
