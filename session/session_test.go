package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/chatsync/config"
	"github.com/onnwee/chatsync/conn"
	"github.com/onnwee/chatsync/testutil"
)

func testConfig(srv *testutil.MockChatServer) *config.Config {
	return &config.Config{
		ServerURL:      srv.URL,
		WSURL:          srv.WSURL(),
		Room:           "general",
		Username:       "alice",
		Token:          "tok-123",
		ReconnectDelay: 20 * time.Millisecond,
		HTTPTimeout:    2 * time.Second,
	}
}

// waitFor polls cond until it holds or the timeout hits.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunFailsWithoutToken(t *testing.T) {
	cfg := &config.Config{Username: "alice"}
	s := New(cfg)
	if err := s.Run(context.Background()); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("Run() = %v, want ErrMissingToken", err)
	}
}

func TestSessionLoadsHistoryAndRoutesFrames(t *testing.T) {
	srv := testutil.NewMockChatServer(t)
	srv.MockOnlineUsers([]string{"alice", "bob"}, []string{"carol"})
	srv.MockLatestChatDate("2024-01-02", []map[string]string{
		{"room": "general", "sender": "bob", "content": "earlier", "time": "2024-01-02T08:00:00Z"},
	})

	s := New(testConfig(srv))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// auth frame arrives first, then history and presence seed in.
	frames := srv.WaitForFrames(t, 1, 2*time.Second)
	if frames[0]["type"] != "auth" || frames[0]["token"] != "tok-123" {
		t.Fatalf("first frame = %v, want auth", frames[0])
	}
	waitFor(t, "initial history", func() bool { return s.Timeline.Len() == 1 })
	waitFor(t, "presence seed", func() bool {
		online, _ := s.Presence.Snapshot()
		return len(online) == 1 && online[0] == "bob"
	})

	// live message frame lands in the timeline
	srv.Push(t, map[string]string{
		"type": "message", "room": "general", "sender": "bob",
		"content": "live one", "time": "2024-01-02T09:00:00Z",
	})
	waitFor(t, "live message", func() bool { return s.Timeline.Len() == 2 })

	// malformed and unknown frames are dropped without any state change
	srv.PushRaw(t, `{{{`)
	srv.PushRaw(t, `{"type":"typing","username":"bob"}`)

	// status frame moves bob offline
	srv.Push(t, map[string]string{"type": "userStatus", "username": "bob", "status": "offline"})
	waitFor(t, "presence update", func() bool {
		_, offline := s.Presence.Snapshot()
		return len(offline) == 2
	})
	if s.Timeline.Len() != 2 {
		t.Errorf("timeline grew to %d entries from dropped frames", s.Timeline.Len())
	}
}

func TestSendMessageWaitsForServerEcho(t *testing.T) {
	srv := testutil.NewMockChatServer(t)
	srv.MockOnlineUsers([]string{"alice"}, nil)
	srv.MockLatestChatDate("", nil)

	s := New(testConfig(srv))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	srv.WaitForFrames(t, 1, 2*time.Second) // auth
	waitFor(t, "open state", func() bool { return s.State() == conn.StateOpen })

	if err := s.SendMessage("hello room"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	frames := srv.WaitForFrames(t, 2, 2*time.Second)
	sent := frames[1]
	if sent["type"] != "message" || sent["sender"] != "alice" || sent["content"] != "hello room" {
		t.Fatalf("sent frame = %v", sent)
	}

	// Nothing is appended locally until the server echoes the message back.
	if s.Timeline.Len() != 0 {
		t.Fatalf("timeline has %d entries before the echo", s.Timeline.Len())
	}
	srv.Push(t, map[string]any{
		"type": "message", "room": "general", "sender": "alice",
		"content": "hello room", "time": sent["time"],
	})
	waitFor(t, "echoed message", func() bool { return s.Timeline.Len() == 1 })

	// A duplicate echo is ignored.
	srv.Push(t, map[string]any{
		"type": "message", "room": "general", "sender": "alice",
		"content": "hello room", "time": sent["time"],
	})
	srv.Push(t, map[string]string{
		"type": "message", "room": "general", "sender": "bob",
		"content": "follow-up", "time": "2024-01-02T10:00:00Z",
	})
	waitFor(t, "follow-up message", func() bool { return s.Timeline.Len() == 2 })
}

func TestSessionReseedsPresenceAfterReconnect(t *testing.T) {
	srv := testutil.NewMockChatServer(t)
	srv.MockOnlineUsers([]string{"alice", "bob"}, nil)
	srv.MockLatestChatDate("", nil)

	s := New(testConfig(srv))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, "first presence seed", func() bool {
		online, _ := s.Presence.Snapshot()
		return len(online) == 1
	})

	// While the connection is down bob logs off; the client must pick that
	// up from the fresh snapshot, not from missed status frames.
	srv.MockOnlineUsers([]string{"alice"}, []string{"bob"})
	srv.DropClients()

	waitFor(t, "re-seeded presence", func() bool {
		_, offline := s.Presence.Snapshot()
		return len(offline) == 1 && offline[0] == "bob"
	})
	waitFor(t, "reopened connection", func() bool { return s.State() == conn.StateOpen })
}

func TestLogoutSendsFrameAndStops(t *testing.T) {
	srv := testutil.NewMockChatServer(t)
	srv.MockOnlineUsers([]string{"alice"}, nil)
	srv.MockLatestChatDate("", nil)

	s := New(testConfig(srv))
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	waitFor(t, "open state", func() bool { return s.State() == conn.StateOpen })
	s.Logout()

	frames := srv.WaitForFrames(t, 2, 2*time.Second)
	last := frames[len(frames)-1]
	if last["type"] != "logout" || last["username"] != "alice" {
		t.Errorf("last frame = %v, want logout", last)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after Logout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after Logout")
	}
	online, offline := s.Presence.Snapshot()
	if len(online)+len(offline) != 0 {
		t.Errorf("presence not cleared: %v %v", online, offline)
	}
}

func TestSnapshotReportsSessionState(t *testing.T) {
	srv := testutil.NewMockChatServer(t)
	srv.MockOnlineUsers([]string{"alice", "bob"}, []string{"carol"})
	srv.MockLatestChatDate("", nil)

	s := New(testConfig(srv))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, "exhausted history", func() bool { return s.HistoryExhausted() })
	waitFor(t, "presence seed", func() bool {
		online, _ := s.Presence.Snapshot()
		return len(online) == 1
	})

	st := s.Snapshot()
	if st.Room != "general" || st.Username != "alice" {
		t.Errorf("snapshot identity = %q %q", st.Room, st.Username)
	}
	if !st.HistoryExhausted {
		t.Error("snapshot should report exhausted history")
	}
	if len(st.OnlineUsers) != 1 || st.OnlineUsers[0] != "bob" {
		t.Errorf("snapshot online = %v", st.OnlineUsers)
	}
}

func TestClassifySyncError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassUnknown},
		{"unauthorized", errors.New("websocket: bad handshake: 401 unauthorized"), ErrorClassFatal},
		{"forbidden", errors.New("server returned 403"), ErrorClassFatal},
		{"server error", errors.New("503 service unavailable"), ErrorClassRetryable},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrorClassRetryable},
		{"eof", errors.New("unexpected EOF"), ErrorClassRetryable},
		{"rate limited", errors.New("429 too many requests"), ErrorClassRetryable},
		{"mystery", errors.New("something odd happened"), ErrorClassRetryable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySyncError(tc.err); got != tc.want {
				t.Errorf("ClassifySyncError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
