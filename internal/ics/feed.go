package ics

import (
	"context"
	"sync"
	"time"

	appLog "housecal/internal/log"
	"housecal/internal/model"
)

// DefaultTTL is how long parsed feeds are reused before fetching again.
const DefaultTTL = 30 * time.Second

// Feed serves the merged events of all subscribed calendars. Parsed events
// are kept for ttl so a burst of API calls fetches each feed once.
type Feed struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	events    []Event
	fetchedAt time.Time
}

func NewFeed(fetcher *Fetcher, sources []Source, loc *time.Location, ttl time.Duration) *Feed {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if loc == nil {
		loc = time.Local
	}
	return &Feed{fetcher: fetcher, sources: sources, loc: loc, ttl: ttl, now: time.Now}
}

// Sources returns the configured subscriptions.
func (f *Feed) Sources() []Source { return f.sources }

// Events returns the external events on days from..to. Sources that fail
// are skipped; the error reports them but the events of the others are
// still returned.
func (f *Feed) Events(ctx context.Context, from, to model.Date) ([]model.ExternalEvent, error) {
	events, err := f.load(ctx)
	return Expand(events, from, to, f.loc), err
}

// Invalidate drops the parsed cache.
func (f *Feed) Invalidate() {
	f.mu.Lock()
	f.fetchedAt = time.Time{}
	f.mu.Unlock()
}

func (f *Feed) load(ctx context.Context) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.fetchedAt.IsZero() && f.now().Sub(f.fetchedAt) < f.ttl {
		return f.events, nil
	}
	if len(f.sources) == 0 {
		return nil, nil
	}

	results, fetchErr := f.fetcher.FetchAll(ctx, f.sources)
	var events []Event
	for _, res := range results {
		parsed, err := Parse(res.Source, res.Body)
		if err != nil {
			appLog.Error("ics parse failed", err, "id", res.Source.ID, "url", redactURL(res.Source.URL))
			continue
		}
		events = append(events, parsed...)
	}

	f.events = events
	f.fetchedAt = f.now()
	appLog.Debug("ics feeds loaded", "sources", len(f.sources), "fetched", len(results), "events", len(events))
	return events, fetchErr
}
