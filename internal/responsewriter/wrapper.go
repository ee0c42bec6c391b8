// Copyright 2024 by Oliver Sauer
// Use of this source code is governed by a MIT-style license that can be found in the LICENSE file.

// Package responsewriter provides utilities for wrapping http.ResponseWriter
// while preserving optional interfaces like Hijacker, Flusher, and ReaderFrom.
package responsewriter

import (
	"bufio"
	"io"
	"net"
	"net/http"
)

// Recorder captures the status code and body size of a response. It keeps the
// optional interfaces of the wrapped writer: websocket upgrades need Hijack and
// file streaming relies on ReadFrom to reach sendfile.
type Recorder struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
	wroteHeader  bool
}

// NewRecorder wraps w. The status defaults to 200 until WriteHeader is called.
func NewRecorder(w http.ResponseWriter) *Recorder {
	return &Recorder{ResponseWriter: w, status: http.StatusOK}
}

// Status returns the status code sent to the client.
func (rec *Recorder) Status() int {
	return rec.status
}

// BytesWritten returns the number of body bytes written.
func (rec *Recorder) BytesWritten() int64 {
	return rec.bytesWritten
}

// WroteHeader reports whether a status line has been sent.
func (rec *Recorder) WroteHeader() bool {
	return rec.wroteHeader
}

// Unwrap returns the original ResponseWriter for http.ResponseController.
func (rec *Recorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

func (rec *Recorder) WriteHeader(code int) {
	// superfluous calls would only make net/http log a warning
	if rec.wroteHeader {
		return
	}
	rec.status = code
	rec.wroteHeader = true
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *Recorder) Write(b []byte) (int, error) {
	rec.wroteHeader = true
	n, err := rec.ResponseWriter.Write(b)
	rec.bytesWritten += int64(n)
	return n, err
}

// ReadFrom implements io.ReaderFrom if the underlying ResponseWriter supports it
func (rec *Recorder) ReadFrom(r io.Reader) (int64, error) {
	rec.wroteHeader = true
	var n int64
	var err error
	if rf, ok := rec.ResponseWriter.(io.ReaderFrom); ok {
		n, err = rf.ReadFrom(r)
	} else {
		// plain Write loop, without recursing into ReadFrom
		n, err = io.Copy(struct{ io.Writer }{rec.ResponseWriter}, r)
	}
	rec.bytesWritten += n
	return n, err
}

// Hijack implements http.Hijacker interface if the underlying ResponseWriter supports it
func (rec *Recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, rw, err := hijacker.Hijack()
	if err == nil {
		rec.wroteHeader = true
		rec.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// Flush implements http.Flusher interface if the underlying ResponseWriter supports it
func (rec *Recorder) Flush() {
	if flusher, ok := rec.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

var (
	_ http.Hijacker = (*Recorder)(nil)
	_ http.Flusher  = (*Recorder)(nil)
	_ io.ReaderFrom = (*Recorder)(nil)
)
