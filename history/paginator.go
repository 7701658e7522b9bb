package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/chatsync/telemetry"
	"github.com/onnwee/chatsync/timeline"
)

// Paginator backfills older chat days into a timeline store. Pagination walks
// backwards one calendar day per LoadOlder call; an empty day latches the
// exhausted flag and no further requests are issued.
type Paginator struct {
	client *Client
	store  *timeline.Store
	room   string

	// inflight enforces at most one fetch at a time; concurrent triggers
	// are dropped, not queued.
	inflight chan struct{}

	mu        sync.Mutex
	oldestDay time.Time // midnight UTC of the oldest loaded day; zero until first load
	loaded    bool
	exhausted bool
}

// NewPaginator wires a paginator over client and store for room.
func NewPaginator(client *Client, store *timeline.Store, room string) *Paginator {
	return &Paginator{
		client:   client,
		store:    store,
		room:     room,
		inflight: make(chan struct{}, 1),
	}
}

// Exhausted reports whether backfill has reached the beginning of history.
// Once set it never clears for the lifetime of the paginator.
func (p *Paginator) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exhausted
}

// OldestLoadedDay returns the midnight-UTC day of the oldest loaded page and
// whether any page has been loaded yet.
func (p *Paginator) OldestLoadedDay() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.oldestDay, p.loaded
}

// LoadInitial populates the store with the most recent persisted messages.
// It asks the backend for the latest day that has data and merges that day's
// batch without a separator, falling back to today's page when the endpoint
// reports a day but an empty batch; when the backend has nothing at all the
// exhausted flag is latched immediately. Idempotent: once a page is loaded
// (or exhaustion latched) further calls are no-ops, so the session can
// retry it on every reconnect until one attempt succeeds.
func (p *Paginator) LoadInitial(ctx context.Context) error {
	p.mu.Lock()
	if p.loaded || p.exhausted {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	select {
	case p.inflight <- struct{}{}:
	default:
		return nil
	}
	defer func() { <-p.inflight }()

	var (
		day  time.Time
		msgs []timeline.Message
		ok   bool
		err  error
	)
	telemetry.TimeFunc(telemetry.HistoryFetchDuration, func() {
		day, msgs, ok, err = p.client.LatestChatDate(ctx, p.room)
	})
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("initial history load failed", slog.String("room", p.room), slog.Any("err", err))
		return err
	}
	if !ok {
		slog.Info("no chat history for room", slog.String("room", p.room))
		p.mu.Lock()
		p.exhausted = true
		p.mu.Unlock()
		return nil
	}
	if len(msgs) == 0 {
		// The endpoint named a day but sent no batch; fetch that day directly.
		telemetry.TimeFunc(telemetry.HistoryFetchDuration, func() {
			msgs, err = p.client.ChatHistory(ctx, p.room, day)
		})
		if err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("initial history load failed", slog.String("room", p.room), slog.Any("err", err))
			return err
		}
		if len(msgs) == 0 {
			p.mu.Lock()
			p.exhausted = true
			p.mu.Unlock()
			return nil
		}
	}

	merged := p.store.MergeBackfill(msgs, false)
	telemetry.SetTimelineEntries(p.store.Len())

	p.mu.Lock()
	p.oldestDay = oldestDayOf(msgs, day)
	p.loaded = true
	p.mu.Unlock()

	slog.Info("initial history loaded",
		slog.String("room", p.room),
		slog.String("latest_day", day.Format("2006-01-02")),
		slog.Int("merged", merged))
	return nil
}

// LoadOlder fetches the day before the oldest loaded one and prepends it.
// It is a no-op when exhausted, when nothing has been loaded yet, or when
// another fetch is already in flight.
func (p *Paginator) LoadOlder(ctx context.Context) error {
	select {
	case p.inflight <- struct{}{}:
	default:
		slog.Debug("older-history fetch already in flight, dropping trigger", slog.String("room", p.room))
		return nil
	}
	defer func() { <-p.inflight }()

	// Read the target day only after holding the in-flight slot, so a
	// trigger racing a completing fetch sees the day that fetch merged.
	p.mu.Lock()
	if p.exhausted || !p.loaded {
		p.mu.Unlock()
		return nil
	}
	target := p.oldestDay.AddDate(0, 0, -1)
	p.mu.Unlock()

	var (
		msgs []timeline.Message
		err  error
	)
	telemetry.TimeFunc(telemetry.HistoryFetchDuration, func() {
		msgs, err = p.client.ChatHistory(ctx, p.room, target)
	})
	if err != nil {
		// A failed fetch does not mean history is exhausted; the same day
		// will be retried on the next trigger.
		telemetry.LoggerWithCorr(ctx).Warn("older history fetch failed",
			slog.String("room", p.room),
			slog.String("day", target.Format("2006-01-02")),
			slog.Any("err", err))
		return err
	}
	if len(msgs) == 0 {
		p.mu.Lock()
		p.exhausted = true
		p.mu.Unlock()
		slog.Info("history exhausted", slog.String("room", p.room), slog.String("empty_day", target.Format("2006-01-02")))
		return nil
	}

	merged := p.store.MergeBackfill(msgs, true)
	telemetry.SetTimelineEntries(p.store.Len())

	p.mu.Lock()
	p.oldestDay = target
	p.mu.Unlock()

	slog.Debug("older history merged",
		slog.String("room", p.room),
		slog.String("day", target.Format("2006-01-02")),
		slog.Int("merged", merged))
	return nil
}

// oldestDayOf returns the midnight-UTC day of the earliest message, falling
// back to the reported latest day when the batch is empty.
func oldestDayOf(msgs []timeline.Message, fallback time.Time) time.Time {
	day := fallback.UTC().Truncate(24 * time.Hour)
	for _, m := range msgs {
		d := m.SentAt.UTC().Truncate(24 * time.Hour)
		if d.Before(day) {
			day = d
		}
	}
	return day
}
