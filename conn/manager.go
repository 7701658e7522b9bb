package conn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/onnwee/chatsync/protocol"
	"github.com/onnwee/chatsync/telemetry"
)

const (
	// DefaultReconnectDelay is the fixed pause between reconnect attempts.
	DefaultReconnectDelay = 2 * time.Second

	writeWait    = 10 * time.Second
	maxFrameSize = 1 << 20
)

// ErrNotConnected is returned by SendMessage when the connection is not open.
var ErrNotConnected = errors.New("conn: not connected")

// Events carries the callbacks the manager invokes from its run loop.
// All callbacks are optional and are called from the manager's goroutine.
type Events struct {
	// OnOpen fires after each successful connect, including reconnects.
	OnOpen func()
	// OnFrame fires for every well-formed frame with a known type.
	OnFrame func(t protocol.FrameType, payload []byte)
	// OnStateChange fires on every lifecycle transition.
	OnStateChange func(ch StateChange)
}

// Manager owns one logical connection to the chat backend. Run keeps it
// alive forever: every drop schedules exactly one reconnect after a fixed
// delay, so attempts never stack.
type Manager struct {
	url    string
	token  string
	delay  time.Duration
	dialer *websocket.Dialer
	events Events

	mu            sync.Mutex
	writeMu       sync.Mutex
	ws            *websocket.Conn
	state         State
	closed        bool
	cancelAttempt context.CancelFunc
}

// NewManager builds a manager for the given websocket URL and bearer token.
// A non-positive delay falls back to DefaultReconnectDelay.
func NewManager(url, token string, delay time.Duration, events Events) *Manager {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Manager{
		url:    url,
		token:  token,
		delay:  delay,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		events: events,
		state:  StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(to State, cause error) {
	m.mu.Lock()
	from := m.state
	// Closed is terminal. Once Close has run, no in-flight connect attempt
	// may move the state anywhere else.
	if (m.closed || from == StateClosed) && to != StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.mu.Unlock()
	if from == to {
		return
	}
	telemetry.SetConnectionState(int(to))
	slog.Debug("connection state change", slog.String("from", from.String()), slog.String("to", to.String()))
	if m.events.OnStateChange != nil {
		m.events.OnStateChange(StateChange{From: from, To: to, Cause: cause})
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Run connects and keeps reconnecting until ctx is cancelled or Close is
// called. It returns ctx.Err() on cancellation and nil after Close.
func (m *Manager) Run(ctx context.Context) error {
	for {
		if m.isClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			m.setState(StateDisconnected, err)
			return err
		}

		err := m.runOnce(ctx)
		if m.isClosed() {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			m.setState(StateDisconnected, ctxErr)
			return ctxErr
		}

		m.setState(StateReconnectWait, err)
		telemetry.Inc(telemetry.Reconnects)
		slog.Info("connection lost, reconnecting",
			slog.Duration("delay", m.delay),
			slog.Any("err", err))
		select {
		case <-ctx.Done():
			m.setState(StateDisconnected, ctx.Err())
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
}

func (m *Manager) runOnce(ctx context.Context) error {
	// Close cancels the attempt context so a dial that is still in flight
	// aborts instead of producing a live socket after teardown.
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.cancelAttempt = cancel
	m.mu.Unlock()

	m.setState(StateConnecting, nil)
	telemetry.Inc(telemetry.ConnectsStarted)

	ws, resp, err := m.dialer.DialContext(attemptCtx, m.url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return err
	}
	ws.SetReadLimit(maxFrameSize)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ws.Close()
		return nil
	}
	m.ws = ws
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.ws == ws {
			m.ws = nil
		}
		m.mu.Unlock()
		ws.Close()
	}()

	m.setState(StateAuthenticating, nil)
	m.writeMu.Lock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	err = ws.WriteJSON(protocol.NewAuth(m.token))
	m.writeMu.Unlock()
	if err != nil {
		return err
	}

	// The server sends no auth acknowledgement; the connection counts as
	// open once the auth frame is on the wire. A rejected token surfaces
	// as a server-side close on the next read.
	m.setState(StateOpen, nil)
	if m.events.OnOpen != nil {
		m.events.OnOpen()
	}

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		telemetry.Inc(telemetry.FramesReceived)
		t, perr := protocol.PeekType(payload)
		if perr != nil {
			telemetry.Inc(telemetry.FramesDropped)
			slog.Debug("dropping frame", slog.Any("err", perr))
			continue
		}
		if m.events.OnFrame != nil {
			m.events.OnFrame(t, payload)
		}
	}
}

// SendMessage writes a chat message frame. It fails fast with
// ErrNotConnected while the connection is down; callers decide whether to
// surface that to the user.
func (m *Manager) SendMessage(room, sender, content string) error {
	m.mu.Lock()
	ws := m.ws
	open := m.state == StateOpen
	m.mu.Unlock()
	if !open || ws == nil {
		return ErrNotConnected
	}

	frame := protocol.MessageFrame{
		Type:    protocol.FrameMessage,
		Room:    room,
		Sender:  sender,
		Content: content,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(frame); err != nil {
		return err
	}
	telemetry.Inc(telemetry.MessagesSent)
	return nil
}

// Close tears the connection down for good: a best-effort logout frame is
// written for username, the socket is closed, and Run returns. The manager
// cannot be reused afterwards.
func (m *Manager) Close(username string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	ws := m.ws
	open := m.state == StateOpen
	cancel := m.cancelAttempt
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		if open && username != "" {
			m.writeMu.Lock()
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(protocol.NewLogout(username)); err != nil {
				slog.Debug("logout frame write failed", slog.Any("err", err))
			}
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			m.writeMu.Unlock()
		}
		ws.Close()
	}
	m.setState(StateClosed, nil)
}
