// Package timeline implements the ordered, deduplicated message timeline:
// live messages append at the tail, history backfill prepends at the head,
// and date separators are synthesized client-side at day boundaries. The
// server's history API is keyed by calendar date rather than a stream
// cursor, so separators are inserted at merge time, keeping the append and
// prepend paths symmetric.
package timeline

import (
	"sync"
	"time"
)

// Message is an immutable chat message.
type Message struct {
	Sender  string
	Content string
	SentAt  time.Time
	Room    string
}

// DateSeparator marks a day boundary between two message groups. It is a
// rendering aid only and never travels over the wire.
type DateSeparator struct {
	// BoundaryDate is midnight (UTC) of the day the following messages
	// belong to. It falls strictly between the neighboring messages'
	// timestamps, except when the newer neighbor was sent exactly at
	// midnight; then it coincides with that timestamp and still labels
	// the newer day.
	BoundaryDate time.Time
}

// Entry is one element of the timeline: either a message or a separator.
type Entry struct {
	Message   *Message
	Separator *DateSeparator
}

// IsSeparator reports whether the entry is a synthetic date separator.
func (e Entry) IsSeparator() bool { return e.Separator != nil }

// MutationKind identifies what a store mutation did, for observers that
// need to react differently to appends and prepends.
type MutationKind int

const (
	// MutationAppend is a live message added at the tail.
	MutationAppend MutationKind = iota
	// MutationPrepend is a backfill page merged at the head.
	MutationPrepend
	// MutationReset is the store being cleared.
	MutationReset
)

// Mutation describes a completed store change. Added counts new entries
// (messages plus any separator) and Entries holds them in timeline order,
// so scroll controllers can compute exact offset adjustments instead of
// guessing with timers.
type Mutation struct {
	Kind    MutationKind
	Added   int
	Entries []Entry
}

// dedupKey identifies a message across live delivery and history backfill.
// The transport supplies no message IDs, so sender+content+timestamp is
// the identity.
type dedupKey struct {
	sender  string
	content string
	sentAt  int64
}

func keyOf(m Message) dedupKey {
	return dedupKey{sender: m.Sender, content: m.Content, sentAt: m.SentAt.UnixNano()}
}

// Store is the message timeline for one room. Mutations happen through
// AppendLive and MergeBackfill only; the paginator's single-flight guard
// ensures at most one prepend is in progress at a time.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	seen    map[dedupKey]struct{}

	observer func(Mutation)
}

// NewStore creates an empty timeline.
func NewStore() *Store {
	return &Store{seen: make(map[dedupKey]struct{})}
}

// Observe registers a callback invoked after every mutation, outside the
// store's lock. Only one observer is supported; the session fans out.
func (s *Store) Observe(fn func(Mutation)) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

// AppendLive inserts a live message at the tail. Messages already present
// (the server echoes the sender's own messages) are ignored; the return
// value reports whether the message was actually added.
func (s *Store) AppendLive(msg Message) bool {
	s.mu.Lock()
	key := keyOf(msg)
	if _, dup := s.seen[key]; dup {
		s.mu.Unlock()
		return false
	}
	s.seen[key] = struct{}{}
	entry := Entry{Message: &msg}
	s.entries = append(s.entries, entry)
	observer := s.observer
	s.mu.Unlock()

	if observer != nil {
		observer(Mutation{Kind: MutationAppend, Added: 1, Entries: []Entry{entry}})
	}
	return true
}

// MergeBackfill prepends a page of history (already in chronological order)
// to the head of the timeline. Messages already present are dropped, so
// retrying the same page is idempotent. When insertSeparator is true and
// the store already has a head message, a DateSeparator for the day
// boundary between the page and the existing head is placed between them.
// Returns the number of new messages merged.
func (s *Store) MergeBackfill(page []Message, insertSeparator bool) int {
	s.mu.Lock()

	fresh := make([]Entry, 0, len(page)+1)
	for i := range page {
		key := keyOf(page[i])
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		msg := page[i]
		fresh = append(fresh, Entry{Message: &msg})
	}
	merged := len(fresh)
	if merged == 0 {
		s.mu.Unlock()
		return 0
	}

	added := merged
	if insertSeparator {
		if head, ok := s.headMessageLocked(); ok {
			boundary := head.SentAt.UTC().Truncate(24 * time.Hour)
			fresh = append(fresh, Entry{Separator: &DateSeparator{BoundaryDate: boundary}})
			added++
		}
	}

	s.entries = append(fresh, s.entries...)
	observer := s.observer
	s.mu.Unlock()

	if observer != nil {
		observer(Mutation{Kind: MutationPrepend, Added: added, Entries: fresh})
	}
	return merged
}

// headMessageLocked returns the first message entry, skipping separators.
func (s *Store) headMessageLocked() (Message, bool) {
	for _, entry := range s.entries {
		if entry.Message != nil {
			return *entry.Message, true
		}
	}
	return Message{}, false
}

// Oldest returns the earliest loaded message, used by the paginator to
// compute the next backfill date.
func (s *Store) Oldest() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headMessageLocked()
}

// Entries returns the timeline in display order (oldest first). The slice
// is a copy; entries themselves are immutable.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Messages returns only the message entries in display order.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, 0, len(s.entries))
	for _, entry := range s.entries {
		if entry.Message != nil {
			out = append(out, *entry.Message)
		}
	}
	return out
}

// IsEmpty reports whether the timeline has no entries.
func (s *Store) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries) == 0
}

// Len returns the number of timeline entries, separators included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear empties the timeline. Called on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.seen = make(map[dedupKey]struct{})
	observer := s.observer
	s.mu.Unlock()

	if observer != nil {
		observer(Mutation{Kind: MutationReset})
	}
}
