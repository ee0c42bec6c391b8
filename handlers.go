package mediadrop

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

func (srv *Server) livezHandler(w http.ResponseWriter, r *http.Request) {
	srv.healthHandlerHelper(w, r, "alive", &srv.isRunning)
}

func (srv *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	srv.healthHandlerHelper(w, r, "ready", &srv.isReady)
}

// healthzHandler additionally checks that the media directory can be listed.
func (srv *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := srv.lister.scan(r.Context()); err != nil {
		logger.Warn("Health check failed", "dir", srv.mediaDir, "error_kind", errorKind(err), "error", err)
		writeText(w, http.StatusServiceUnavailable, "unhealthy")
		return
	}
	srv.healthHandlerHelper(w, r, "ok", &srv.isRunning)
}

func (srv *Server) healthHandlerHelper(w http.ResponseWriter, request *http.Request, probe string,
	status *atomic.Bool) {
	if status.Load() {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(probe)); err != nil {
			logger.Error(fmt.Sprintf("error writing endpoint status (%s)", probe), "error", err)
		}
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("unhealthy")); err != nil {
			logger.Error(fmt.Sprintf("error writing endpoint status (%s)", probe), "error", err)
		}
	}
}
