// Package protocol defines the JSON frame types exchanged with the chat
// server over the websocket connection. Every frame is a single JSON object
// carrying a "type" discriminator; unknown or malformed frames are reported
// via ErrMalformedFrame so callers can drop them without tearing down the
// connection.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType discriminates websocket frames.
type FrameType string

const (
	// FrameAuth is sent client→server immediately after the transport opens.
	FrameAuth FrameType = "auth"
	// FrameMessage carries a chat message in either direction.
	FrameMessage FrameType = "message"
	// FrameUserStatus is pushed server→client when a user goes online/offline.
	FrameUserStatus FrameType = "userStatus"
	// FrameLogout is sent client→server on explicit logout.
	FrameLogout FrameType = "logout"
)

// User status values carried by userStatus frames.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ErrMalformedFrame indicates a frame that could not be parsed or carried an
// unknown type. The connection layer drops such frames rather than failing.
var ErrMalformedFrame = errors.New("malformed frame")

// AuthFrame authenticates a freshly opened socket with a bearer token.
type AuthFrame struct {
	Type  FrameType `json:"type"`
	Token string    `json:"token"`
}

// MessageFrame is a chat message on the wire. Time is RFC3339.
type MessageFrame struct {
	Type    FrameType `json:"type"`
	Room    string    `json:"room"`
	Sender  string    `json:"sender"`
	Content string    `json:"content"`
	Time    string    `json:"time"`
}

// UserStatusFrame announces a presence change. Status is "online" or "offline".
type UserStatusFrame struct {
	Type     FrameType `json:"type"`
	Username string    `json:"username"`
	Status   string    `json:"status"`
}

// LogoutFrame announces an explicit logout before the client closes.
type LogoutFrame struct {
	Type     FrameType `json:"type"`
	Username string    `json:"username"`
}

// NewAuth builds the auth frame sent on transport open.
func NewAuth(token string) AuthFrame {
	return AuthFrame{Type: FrameAuth, Token: token}
}

// NewLogout builds the best-effort logout frame sent on explicit disconnect.
func NewLogout(username string) LogoutFrame {
	return LogoutFrame{Type: FrameLogout, Username: username}
}

// PeekType extracts the frame type from a raw frame without decoding the
// full payload. Returns ErrMalformedFrame for invalid JSON, a missing type
// field, or a type this client does not know.
func PeekType(data []byte) (FrameType, error) {
	var envelope struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch envelope.Type {
	case FrameAuth, FrameMessage, FrameUserStatus, FrameLogout:
		return envelope.Type, nil
	case "":
		return "", fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, envelope.Type)
	}
}

// DecodeMessage parses a message frame payload.
func DecodeMessage(data []byte) (MessageFrame, error) {
	var frame MessageFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return MessageFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return frame, nil
}

// DecodeUserStatus parses a userStatus frame payload. A status other than
// online/offline is malformed.
func DecodeUserStatus(data []byte) (UserStatusFrame, error) {
	var frame UserStatusFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return UserStatusFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if frame.Status != StatusOnline && frame.Status != StatusOffline {
		return UserStatusFrame{}, fmt.Errorf("%w: bad status %q", ErrMalformedFrame, frame.Status)
	}
	return frame, nil
}
