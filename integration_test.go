package mediadrop

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Integration tests drive a real listener through the full middleware stack.

// startServer serves srv on a loopback listener and stops it when the test ends.
func startServer(t *testing.T, srv *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("expected clean shutdown, got %v", err)
			}
		case <-time.After(shutdownGracePeriod + time.Second):
			t.Error("server did not shut down")
		}
	})

	base := "http://" + ln.Addr().String()
	for i := 0; i < 50; i++ {
		if resp, err := http.Get(base + "/api/files"); err == nil {
			resp.Body.Close()
			return base
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server at %s did not answer", base)
	return ""
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading %s failed: %v", url, err)
	}
	return resp, body
}

func TestDropAndPlayIntegration(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, WithSecureHeaders())
	writeFile(t, filepath.Join(srv.Root(), "Index.html"), 64, time.Time{})
	now := time.Now()
	song := writeFile(t, filepath.Join(srv.MediaDir(), "song.mp3"), 500000, now)
	writeFile(t, filepath.Join(srv.MediaDir(), "clip.mp4"), 2000000, now.Add(-time.Hour))
	base := startServer(t, srv)

	resp, _ := get(t, base+"/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected landing page, got status %v", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected security headers on responses, got %q", got)
	}

	resp, body := get(t, base+"/api/files")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %v, got %v", http.StatusOK, resp.StatusCode)
	}
	var entries []MediaEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatalf("invalid listing %q: %v", body, err)
	}
	if len(entries) != 2 || entries[0].Name != "song.mp3" {
		t.Fatalf("expected song.mp3 first of two entries, got %+v", entries)
	}

	resp, body = get(t, base+entries[0].URL)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %v, got %v", http.StatusOK, resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "audio/mpeg" {
		t.Errorf("expected audio/mpeg, got %q", got)
	}
	if resp.ContentLength != 500000 || !bytes.Equal(body, song) {
		t.Errorf("expected the exact 500000 dropped bytes, got %d", len(body))
	}
	if resp.Header.Get(traceIDHeader) == "" {
		t.Error("expected a trace id on the response")
	}

	resp, _ = get(t, base+"/files/..%2F..%2Fetc%2Fpasswd")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected traversal to be forbidden, got %v", resp.StatusCode)
	}
}

func TestLiveListingIntegration(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	base := startServer(t, srv)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/api/files/live", nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg ListingMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read listing: %v", err)
	}
	if len(msg.Files) != 0 {
		t.Errorf("expected an empty listing, got %+v", msg.Files)
	}

	writeFile(t, filepath.Join(srv.MediaDir(), "dropped.mp4"), 32, time.Now())
	if err := conn.WriteMessage(websocket.TextMessage, nil); err != nil {
		t.Fatalf("failed to request refresh: %v", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read refreshed listing: %v", err)
	}
	if len(msg.Files) != 1 || msg.Files[0].Kind != KindVideo {
		t.Errorf("expected the dropped video, got %+v", msg.Files)
	}
}

func TestRateLimitingIntegration(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, WithRateLimit(rate.Limit(0.001), 2))
	handler := srv.Handler()

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
		req.RemoteAddr = "192.0.2.7:4000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Errorf("expected burst of two to pass, got %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Errorf("expected third request to be limited, got %v", statuses[2])
	}

	// other clients keep their own bucket
	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.RemoteAddr = "192.0.2.8:4000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status %v for another client, got %v", http.StatusOK, rec.Code)
	}
}

func TestHealthEndpointsIntegration(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, WithHealthServer())
	srv.initHealthServer()
	srv.isReady.Store(true)
	srv.isRunning.Store(true)

	for _, endpoint := range []string{"/healthz/", "/readyz/", "/livez/"} {
		rec := serve(t, srv.healthServer.Handler, http.MethodGet, endpoint)
		if rec.Code != http.StatusOK {
			t.Errorf("health endpoint %s returned status %v, expected %v", endpoint, rec.Code, http.StatusOK)
		}
	}
}
