// Package server exposes the HTTP API handlers.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/onnwee/chatsync/conn"
	"github.com/onnwee/chatsync/session"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	sess *session.Session
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(sess *session.Session) *Handlers {
	return &Handlers{sess: sess}
}

// HandleHealthz responds to liveness probe requests. The process is alive as
// long as it can answer; connection health is a readiness concern.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests. The client is ready when
// the websocket connection is open; anything else, including the reconnect
// wait, reports not ready so orchestrators can tell a healthy process from a
// connected one.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"connection", func() error {
			if state := h.sess.State(); state != conn.StateOpen {
				return fmt.Errorf("connection %s", state)
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus returns the current session snapshot: connection state,
// presence sets, timeline size, and the history-exhausted flag.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.sess.Snapshot())
}
