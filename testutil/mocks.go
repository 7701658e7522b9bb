package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// MockChatServer creates a test server that mocks the chat backend: the
// REST endpoints plus the /ws websocket endpoint.
type MockChatServer struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	clients  []*websocket.Conn
	frames   []map[string]any
}

// NewMockChatServer creates a new mock chat backend.
func NewMockChatServer(t *testing.T) *MockChatServer {
	t.Helper()
	m := &MockChatServer{
		handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			m.serveWS(w, r)
			return
		}
		m.mu.Lock()
		handler, ok := m.handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// SetHandler registers (or replaces) the handler for an endpoint. Safe to
// call while clients are talking to the server, so tests can swap responses
// mid-run.
func (m *MockChatServer) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// WSURL returns the websocket URL for the /ws endpoint.
func (m *MockChatServer) WSURL() string {
	return "ws" + strings.TrimPrefix(m.URL, "http") + "/ws"
}

func (m *MockChatServer) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.clients = append(m.clients, ws)
	m.mu.Unlock()
	for {
		var frame map[string]any
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		m.mu.Lock()
		m.frames = append(m.frames, frame)
		m.mu.Unlock()
	}
}

// ReceivedFrames returns a copy of all frames clients have sent so far.
func (m *MockChatServer) ReceivedFrames() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, len(m.frames))
	copy(out, m.frames)
	return out
}

// WaitForFrames blocks until at least n frames arrived or the timeout hits.
func (m *MockChatServer) WaitForFrames(t *testing.T, n int, timeout time.Duration) []map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		frames := m.ReceivedFrames()
		if len(frames) >= n {
			return frames
		}
		if time.Now().After(deadline) {
			t.Fatalf("received %d frames, want at least %d", len(frames), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Push broadcasts a frame to every connected websocket client.
func (m *MockChatServer) Push(t *testing.T, frame any) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ws := range m.clients {
		if err := ws.WriteJSON(frame); err != nil {
			t.Logf("push to client failed: %v", err)
		}
	}
}

// PushRaw broadcasts a raw text payload, useful for malformed frames.
func (m *MockChatServer) PushRaw(t *testing.T, payload string) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ws := range m.clients {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			t.Logf("push to client failed: %v", err)
		}
	}
}

// DropClients closes every connected websocket, simulating a server restart.
func (m *MockChatServer) DropClients() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ws := range m.clients {
		ws.Close()
	}
	m.clients = nil
}

// MockOnlineUsers adds a handler for the /online-users endpoint.
func (m *MockChatServer) MockOnlineUsers(online, offline []string) {
	m.SetHandler("/online-users", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"onlineUsers":  online,
			"offlineUsers": offline,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	})
}

// MockChatHistory adds a handler for /chat-history serving per-day messages.
// Keys are YYYY-MM-DD dates; unknown days get an empty message list.
func (m *MockChatServer) MockChatHistory(byDay map[string][]map[string]string) {
	m.SetHandler("/chat-history", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"messages": byDay[r.URL.Query().Get("date")],
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	})
}

// MockLatestChatDate adds a handler for /latest-chat-date. An empty date
// produces the backend's no-data sentinel response.
func (m *MockChatServer) MockLatestChatDate(date string, messages []map[string]string) {
	m.SetHandler("/latest-chat-date", func(w http.ResponseWriter, r *http.Request) {
		var response map[string]any
		if date == "" {
			response = map[string]any{"latestChatDate": "", "totalMessages": ""}
		} else {
			response = map[string]any{"latestChatDate": date, "totalMessages": messages}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	})
}
