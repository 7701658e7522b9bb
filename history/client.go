// Package history fetches persisted chat data over the backend REST API and
// drives day-by-day backfill pagination into the timeline.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/onnwee/chatsync/telemetry"
	"github.com/onnwee/chatsync/timeline"
	"go.opentelemetry.io/otel/attribute"
)

// APIError is returned when the backend responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("history: %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Client is a bearer-token REST client for the chat backend.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient builds a client with a sane default timeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{BaseURL: baseURL, Token: token, HTTPClient: &http.Client{Timeout: timeout}}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// wireMessage mirrors a persisted message as the backend serializes it.
type wireMessage struct {
	Room    string `json:"room"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Time    string `json:"time"`
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "history-client", "GET "+endpoint,
		attribute.String("endpoint", endpoint))
	defer span.End()

	u := c.BaseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")

	telemetry.Inc(telemetry.HistoryFetches)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		telemetry.Inc(telemetry.HistoryFetchFails)
		telemetry.RecordError(span, err)
		return fmt.Errorf("history: request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		telemetry.Inc(telemetry.HistoryFetchFails)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		apiErr := &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: string(body)}
		telemetry.RecordError(span, apiErr)
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		telemetry.Inc(telemetry.HistoryFetchFails)
		telemetry.RecordError(span, err)
		return fmt.Errorf("history: decode %s response: %w", endpoint, err)
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

// ChatHistory returns the messages persisted for room on the given day,
// oldest first. Messages with unparseable timestamps are dropped.
func (c *Client) ChatHistory(ctx context.Context, room string, day time.Time) ([]timeline.Message, error) {
	q := url.Values{}
	q.Set("date", day.UTC().Format("2006-01-02"))
	q.Set("room", room)
	var payload struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := c.getJSON(ctx, "/chat-history", q, &payload); err != nil {
		return nil, err
	}
	return decodeMessages(ctx, payload.Messages), nil
}

// LatestChatDate returns the most recent day that has any persisted messages
// for room, plus an accumulated batch of recent messages ending on that day.
// ok is false when the backend has no data at all for the room.
func (c *Client) LatestChatDate(ctx context.Context, room string) (day time.Time, msgs []timeline.Message, ok bool, err error) {
	q := url.Values{}
	q.Set("room", room)
	var payload struct {
		LatestChatDate string          `json:"latestChatDate"`
		TotalMessages  json.RawMessage `json:"totalMessages"`
	}
	if err = c.getJSON(ctx, "/latest-chat-date", q, &payload); err != nil {
		return time.Time{}, nil, false, err
	}
	// Empty string is the backend's no-data sentinel.
	if payload.LatestChatDate == "" {
		return time.Time{}, nil, false, nil
	}
	day, err = time.Parse("2006-01-02", payload.LatestChatDate)
	if err != nil {
		return time.Time{}, nil, false, fmt.Errorf("history: parse latestChatDate %q: %w", payload.LatestChatDate, err)
	}
	var wire []wireMessage
	if len(payload.TotalMessages) > 0 {
		// The no-data shape serializes totalMessages as "" rather than [].
		if jsonErr := json.Unmarshal(payload.TotalMessages, &wire); jsonErr != nil {
			wire = nil
		}
	}
	return day.UTC(), decodeMessages(ctx, wire), true, nil
}

// OnlineUsers returns the current online and offline user sets.
func (c *Client) OnlineUsers(ctx context.Context) (online, offline []string, err error) {
	var payload struct {
		OnlineUsers  []string `json:"onlineUsers"`
		OfflineUsers []string `json:"offlineUsers"`
	}
	if err := c.getJSON(ctx, "/online-users", nil, &payload); err != nil {
		return nil, nil, err
	}
	return payload.OnlineUsers, payload.OfflineUsers, nil
}

func decodeMessages(ctx context.Context, wire []wireMessage) []timeline.Message {
	out := make([]timeline.Message, 0, len(wire))
	for _, w := range wire {
		ts, err := time.Parse(time.RFC3339, w.Time)
		if err != nil {
			telemetry.LoggerWithCorr(ctx).Debug("dropping message with bad timestamp", slog.String("time", w.Time), slog.Any("err", err))
			continue
		}
		out = append(out, timeline.Message{Room: w.Room, Sender: w.Sender, Content: w.Content, SentAt: ts})
	}
	return out
}
