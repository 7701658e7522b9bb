package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChatHistoryParsesMessages(t *testing.T) {
	var gotAuth, gotDate, gotRoom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat-history" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotDate = r.URL.Query().Get("date")
		gotRoom = r.URL.Query().Get("room")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{
				{"room": "general", "sender": "alice", "content": "hi", "time": "2024-01-02T09:00:00Z"},
				{"room": "general", "sender": "bob", "content": "bad ts", "time": "not-a-time"},
				{"room": "general", "sender": "bob", "content": "hey", "time": "2024-01-02T09:05:00Z"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-123", 5*time.Second)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	msgs, err := c.ChatHistory(context.Background(), "general", day)
	if err != nil {
		t.Fatalf("ChatHistory: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotDate != "2024-01-02" || gotRoom != "general" {
		t.Errorf("query = date=%q room=%q", gotDate, gotRoom)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (bad timestamp dropped)", len(msgs))
	}
	if msgs[0].Sender != "alice" || msgs[1].Sender != "bob" {
		t.Errorf("unexpected senders %q %q", msgs[0].Sender, msgs[1].Sender)
	}
}

func TestLatestChatDate(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantOK  bool
		wantDay string
		wantN   int
	}{
		{
			name:    "with data",
			body:    `{"latestChatDate":"2024-01-02","totalMessages":[{"room":"general","sender":"alice","content":"hi","time":"2024-01-02T09:00:00Z"}]}`,
			wantOK:  true,
			wantDay: "2024-01-02",
			wantN:   1,
		},
		{
			name:   "empty string sentinel means no data",
			body:   `{"latestChatDate":"","totalMessages":""}`,
			wantOK: false,
		},
		{
			name:    "empty-string totalMessages with a date",
			body:    `{"latestChatDate":"2024-01-02","totalMessages":""}`,
			wantOK:  true,
			wantDay: "2024-01-02",
			wantN:   0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "tok", 0)
			day, msgs, ok, err := c.LatestChatDate(context.Background(), "general")
			if err != nil {
				t.Fatalf("LatestChatDate: %v", err)
			}
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if got := day.Format("2006-01-02"); got != tc.wantDay {
				t.Errorf("day = %s, want %s", got, tc.wantDay)
			}
			if len(msgs) != tc.wantN {
				t.Errorf("got %d messages, want %d", len(msgs), tc.wantN)
			}
		})
	}
}

func TestOnlineUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/online-users" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"onlineUsers":["alice","bob"],"offlineUsers":["carol"]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", 0)
	online, offline, err := c.OnlineUsers(context.Background())
	if err != nil {
		t.Fatalf("OnlineUsers: %v", err)
	}
	if len(online) != 2 || len(offline) != 1 {
		t.Errorf("got online=%v offline=%v", online, offline)
	}
}

func TestAPIErrorOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", 0)
	_, _, err := c.OnlineUsers(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
}
