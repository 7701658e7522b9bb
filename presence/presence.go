// Package presence maintains the online/offline user sets from the server's
// bulk presence endpoint and from pushed userStatus frames. A username lives
// in at most one of the two sets at any time; moves are O(1) map operations
// rather than slice rebuilds.
package presence

import (
	"sort"
	"sync"
)

// Tracker holds the disjoint online/offline sets for a session. The local
// user is tracked internally like anyone else but filtered out of Snapshot,
// matching how a chat UI lists "other" users.
//
// Safe for concurrent use: status frames arrive on the connection's read
// goroutine while the UI snapshots from its own.
type Tracker struct {
	localUser string

	mu      sync.RWMutex
	online  map[string]struct{}
	offline map[string]struct{}
}

// NewTracker creates an empty tracker. localUser is excluded from snapshots.
func NewTracker(localUser string) *Tracker {
	return &Tracker{
		localUser: localUser,
		online:    make(map[string]struct{}),
		offline:   make(map[string]struct{}),
	}
}

// Seed overwrites both sets from the bulk presence fetch performed at
// session start. Usernames appearing in both input lists are treated as
// online; the disjointness invariant holds regardless of server input.
func (t *Tracker) Seed(online, offline []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]struct{}, len(online))
	t.offline = make(map[string]struct{}, len(offline))
	for _, user := range offline {
		if user == "" {
			continue
		}
		t.offline[user] = struct{}{}
	}
	for _, user := range online {
		if user == "" {
			continue
		}
		delete(t.offline, user)
		t.online[user] = struct{}{}
	}
}

// Apply moves username into the set named by status ("online" or "offline")
// and out of the other. Repeated identical updates are no-ops. Unknown
// status values are ignored; the caller validates frames before applying.
func (t *Tracker) Apply(username, status string) {
	if username == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch status {
	case "online":
		delete(t.offline, username)
		t.online[username] = struct{}{}
	case "offline":
		delete(t.online, username)
		t.offline[username] = struct{}{}
	}
}

// Snapshot returns sorted copies of the online and offline sets with the
// local user removed, ready for display.
func (t *Tracker) Snapshot() (online, offline []string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	online = make([]string, 0, len(t.online))
	for user := range t.online {
		if user == t.localUser {
			continue
		}
		online = append(online, user)
	}
	offline = make([]string, 0, len(t.offline))
	for user := range t.offline {
		if user == t.localUser {
			continue
		}
		offline = append(offline, user)
	}
	sort.Strings(online)
	sort.Strings(offline)
	return online, offline
}

// Counts reports the set sizes including the local user. Used by the status
// endpoint and the online-users gauge.
func (t *Tracker) Counts() (online, offline int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.online), len(t.offline)
}

// IsOnline reports whether username is currently in the online set.
func (t *Tracker) IsOnline(username string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[username]
	return ok
}

// Clear empties both sets. Called on logout.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]struct{})
	t.offline = make(map[string]struct{})
}
