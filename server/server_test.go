package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/chatsync/config"
	"github.com/onnwee/chatsync/session"
	"github.com/onnwee/chatsync/testutil"
)

func newTestHandler(t *testing.T) (http.Handler, *session.Session, *testutil.MockChatServer) {
	t.Helper()
	backend := testutil.NewMockChatServer(t)
	backend.MockOnlineUsers([]string{"alice", "bob"}, []string{"carol"})
	backend.MockLatestChatDate("", nil)
	sess := session.New(&config.Config{
		ServerURL:      backend.URL,
		WSURL:          backend.WSURL(),
		Room:           "general",
		Username:       "alice",
		Token:          "tok",
		ReconnectDelay: 20 * time.Millisecond,
		HTTPTimeout:    2 * time.Second,
	})
	return NewMux(sess), sess, backend
}

func TestHealthz(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", rec.Body.String())
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID header")
	}
}

func TestReadyzNotReadyWhileDisconnected(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before the session connects", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["failed_check"] != "connection" {
		t.Errorf("failed_check = %q", body["failed_check"])
	}
}

func TestStatusReportsSessionSnapshot(t *testing.T) {
	handler, sess, _ := newTestHandler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for !sess.HistoryExhausted() {
		if time.Now().After(deadline) {
			t.Fatal("session never finished initial load")
		}
		time.Sleep(5 * time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var st session.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Room != "general" || st.Username != "alice" {
		t.Errorf("identity = %q %q", st.Room, st.Username)
	}
	if !st.HistoryExhausted {
		t.Error("history_exhausted should be true with an empty backend")
	}
}

func TestStatusRejectsNonGet(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Setenv("ENV", "dev")
	handler, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodOptions, "/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Allow-Origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
