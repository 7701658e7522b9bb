// Package session composes the connection manager, presence tracker,
// timeline store, history paginator, and scroll anchor into one live chat
// session. It owns the frame routing: every websocket frame lands here and
// is fanned out to the component that owns that slice of state.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/onnwee/chatsync/config"
	"github.com/onnwee/chatsync/conn"
	"github.com/onnwee/chatsync/history"
	"github.com/onnwee/chatsync/presence"
	"github.com/onnwee/chatsync/protocol"
	"github.com/onnwee/chatsync/scroll"
	"github.com/onnwee/chatsync/telemetry"
	"github.com/onnwee/chatsync/timeline"
)

// ErrMissingToken is returned by Run when no session token is configured.
// This is fatal: the session never dials without credentials.
var ErrMissingToken = errors.New("session: missing token")

// EventKind tags notifications pushed to the Events channel.
type EventKind int

const (
	// EventTimeline fires when the timeline gains entries.
	EventTimeline EventKind = iota
	// EventPresence fires when the online/offline sets change.
	EventPresence
	// EventState fires on connection state transitions.
	EventState
)

// Event is a lightweight change notification for a UI layer. It carries no
// state; consumers read the session's components for current data.
type Event struct {
	Kind     EventKind
	Mutation timeline.MutationKind // set for EventTimeline
	State    conn.State            // set for EventState
}

// HeightFunc estimates the rendered height of a timeline entry so the scroll
// anchor can be adjusted for content the user hasn't seen. The default
// assigns every entry unit height, which preserves anchoring behaviour for
// consumers that track offsets in entry units.
type HeightFunc func(timeline.Entry) float64

// Session is a live, self-healing connection to one chat room.
type Session struct {
	cfg *config.Config

	Presence *presence.Tracker
	Timeline *timeline.Store
	Scroll   *scroll.Controller

	client    *history.Client
	paginator *history.Paginator
	manager   *conn.Manager

	heightOf HeightFunc
	events   chan Event

	mu      sync.Mutex
	lastErr error
}

// Option customizes a Session.
type Option func(*Session)

// WithHeightFunc installs a renderer-supplied entry height estimator.
func WithHeightFunc(f HeightFunc) Option {
	return func(s *Session) {
		if f != nil {
			s.heightOf = f
		}
	}
}

// New wires a session from config. Run must be called to go live.
func New(cfg *config.Config, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg,
		Presence: presence.NewTracker(cfg.Username),
		Timeline: timeline.NewStore(),
		Scroll:   scroll.NewController(0),
		client:   history.NewClient(cfg.ServerURL, cfg.Token, cfg.HTTPTimeout),
		heightOf: func(timeline.Entry) float64 { return 1 },
		events:   make(chan Event, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.paginator = history.NewPaginator(s.client, s.Timeline, cfg.Room)
	s.manager = conn.NewManager(cfg.WSURL, cfg.Token, cfg.ReconnectDelay, conn.Events{
		OnOpen:        s.handleOpen,
		OnFrame:       s.handleFrame,
		OnStateChange: s.handleStateChange,
	})
	s.Timeline.Observe(s.handleMutation)
	return s
}

// Events returns the notification channel. Notifications are dropped, not
// queued, when the consumer falls behind.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the current connection state.
func (s *Session) State() conn.State { return s.manager.State() }

// HistoryExhausted reports whether older-history backfill hit the beginning.
func (s *Session) HistoryExhausted() bool { return s.paginator.Exhausted() }

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// consumer is behind; it will re-read state on the next event
	}
}

// Run connects and blocks until ctx is cancelled or Logout is called.
// A missing token fails immediately without dialing.
func (s *Session) Run(ctx context.Context) error {
	if s.cfg.Token == "" {
		return ErrMissingToken
	}
	return s.manager.Run(ctx)
}

// handleOpen runs on every successful connect, including reconnects. The
// presence snapshot is re-seeded each time because status frames were missed
// while the connection was down; the initial history load is retried on
// every open but no-ops once a page has landed, because the timeline
// survives reconnects and live messages dedup against the echo.
func (s *Session) handleOpen() {
	corr := uuid.NewString()
	ctx := telemetry.WithCorrelation(context.Background(), corr)
	log := telemetry.LoggerWithCorr(ctx)

	go func() {
		online, offline, err := s.client.OnlineUsers(ctx)
		if err != nil {
			log.Warn("presence seed failed", slog.Any("err", err))
			return
		}
		s.Presence.Seed(online, offline)
		on, _ := s.Presence.Counts()
		telemetry.SetOnlineUsers(on)
		s.emit(Event{Kind: EventPresence})
		log.Info("presence seeded", slog.Int("online", on))
	}()

	go func() {
		if err := s.paginator.LoadInitial(ctx); err != nil {
			s.noteError(err)
			log.Warn("initial history load failed", slog.Any("err", err))
		}
	}()
}

func (s *Session) handleFrame(t protocol.FrameType, payload []byte) {
	switch t {
	case protocol.FrameMessage:
		frame, err := protocol.DecodeMessage(payload)
		if err != nil {
			telemetry.Inc(telemetry.FramesDropped)
			return
		}
		sentAt, err := time.Parse(time.RFC3339, frame.Time)
		if err != nil {
			telemetry.Inc(telemetry.FramesDropped)
			slog.Debug("dropping message with bad timestamp", slog.String("time", frame.Time))
			return
		}
		if frame.Room != "" && frame.Room != s.cfg.Room {
			return
		}
		added := s.Timeline.AppendLive(timeline.Message{
			Room:    frame.Room,
			Sender:  frame.Sender,
			Content: frame.Content,
			SentAt:  sentAt,
		})
		if added {
			telemetry.Inc(telemetry.MessagesReceived)
			telemetry.SetTimelineEntries(s.Timeline.Len())
		}

	case protocol.FrameUserStatus:
		frame, err := protocol.DecodeUserStatus(payload)
		if err != nil {
			telemetry.Inc(telemetry.FramesDropped)
			return
		}
		s.Presence.Apply(frame.Username, frame.Status)
		telemetry.Inc(telemetry.StatusUpdates)
		on, _ := s.Presence.Counts()
		telemetry.SetOnlineUsers(on)
		s.emit(Event{Kind: EventPresence})

	default:
		// auth and logout frames are client→server only; a server echoing
		// them is harmless noise
	}
}

// noteError records the most recent failure for the status endpoint.
func (s *Session) noteError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Session) handleStateChange(ch conn.StateChange) {
	if ch.Cause != nil {
		s.noteError(ch.Cause)
		slog.Info("connection transition",
			slog.String("to", ch.To.String()),
			slog.String("class", ClassifySyncError(ch.Cause).String()),
			slog.Any("err", ch.Cause))
	}
	s.emit(Event{Kind: EventState, State: ch.To})
}

// handleMutation translates timeline changes into scroll adjustments.
func (s *Session) handleMutation(m timeline.Mutation) {
	var height float64
	for _, e := range m.Entries {
		height += s.heightOf(e)
	}
	initial := s.Timeline.Len() == m.Added
	switch m.Kind {
	case timeline.MutationAppend:
		if initial {
			s.Scroll.OnInitialLoad(height)
		} else {
			s.Scroll.OnAppend(height)
		}
	case timeline.MutationPrepend:
		if initial {
			s.Scroll.OnInitialLoad(height)
		} else {
			s.Scroll.OnPrepend(height)
		}
	case timeline.MutationReset:
		s.Scroll.OnInitialLoad(0)
	}
	s.emit(Event{Kind: EventTimeline, Mutation: m.Kind})
}

// SendMessage sends content to the session's room. The message is not
// appended locally; it shows up when the server echoes it back, so the
// timeline reflects exactly what other participants see.
func (s *Session) SendMessage(content string) error {
	if content == "" {
		return nil
	}
	return s.manager.SendMessage(s.cfg.Room, s.cfg.Username, content)
}

// LoadOlder requests one more day of history. Safe to call repeatedly; extra
// calls while a fetch is in flight are dropped.
func (s *Session) LoadOlder(ctx context.Context) error {
	err := s.paginator.LoadOlder(ctx)
	s.noteError(err)
	return err
}

// Logout announces the logout to the server, closes the connection for good,
// and clears presence. The timeline is kept so a UI can keep rendering it.
func (s *Session) Logout() {
	s.manager.Close(s.cfg.Username)
	s.Presence.Clear()
	telemetry.SetOnlineUsers(0)
	s.emit(Event{Kind: EventPresence})
}

// Status is a point-in-time snapshot for the observability endpoint.
type Status struct {
	Room             string   `json:"room"`
	Username         string   `json:"username"`
	ConnectionState  string   `json:"connection_state"`
	OnlineUsers      []string `json:"online_users"`
	OfflineUsers     []string `json:"offline_users"`
	TimelineEntries  int      `json:"timeline_entries"`
	HistoryExhausted bool     `json:"history_exhausted"`
	LastError        string   `json:"last_error,omitempty"`
}

// Snapshot assembles the current session status.
func (s *Session) Snapshot() Status {
	online, offline := s.Presence.Snapshot()
	s.mu.Lock()
	lastErr := ""
	if s.lastErr != nil {
		lastErr = s.lastErr.Error()
	}
	s.mu.Unlock()
	return Status{
		Room:             s.cfg.Room,
		Username:         s.cfg.Username,
		ConnectionState:  s.manager.State().String(),
		OnlineUsers:      online,
		OfflineUsers:     offline,
		TimelineEntries:  s.Timeline.Len(),
		HistoryExhausted: s.paginator.Exhausted(),
		LastError:        lastErr,
	}
}
