// Package config loads environment variables and provides a typed Config used across the client.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (the session token), use ValidateSessionReady.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	// Chat backend
	ServerURL string // REST base URL
	WSURL     string // websocket URL
	Room      string
	Username  string
	Token     string

	// Connection behaviour
	ReconnectDelay time.Duration
	HTTPTimeout    time.Duration

	// Local observability endpoint
	HTTPAddr string
}

// Load reads environment variables and applies defaults. It doesn't fail if the
// token is missing; use ValidateSessionReady() when you require a live session.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ServerURL = os.Getenv("CHAT_SERVER_URL")
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:8080"
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	cfg.WSURL = os.Getenv("CHAT_WS_URL")
	if cfg.WSURL == "" {
		// Derive ws://host/ws from the REST base when not set explicitly.
		cfg.WSURL = deriveWSURL(cfg.ServerURL)
	}

	cfg.Room = os.Getenv("CHAT_ROOM")
	if cfg.Room == "" {
		cfg.Room = "general"
	}

	cfg.Username = os.Getenv("CHAT_USERNAME")
	cfg.Token = os.Getenv("CHAT_TOKEN")

	if v := os.Getenv("RECONNECT_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RECONNECT_DELAY (go duration): %w", err)
		}
		cfg.ReconnectDelay = d
	} else {
		cfg.ReconnectDelay = 2 * time.Second
	}

	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid HTTP_TIMEOUT (go duration): %w", err)
		}
		cfg.HTTPTimeout = d
	} else {
		cfg.HTTPTimeout = 10 * time.Second
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8081"
	}

	return cfg, nil
}

// ValidateSessionReady checks required fields before opening a chat session.
func (c *Config) ValidateSessionReady() error {
	if c.Username == "" || c.Token == "" {
		return fmt.Errorf("missing chat env: require CHAT_USERNAME, CHAT_TOKEN")
	}
	return nil
}

func deriveWSURL(serverURL string) string {
	ws := serverURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/ws"
}
