package event

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cmdhub/cmdhub/internal/cmderrors"
)

// ScanFilter narrows a Scan to events matching every non-zero field
// (spec.md §6's "filtered scan by event type, source agent, and file
// path" contract).
type ScanFilter struct {
	AggregateID string
	Type        Type
	SourceAgent string
	Path        string
	From        time.Time
	To          time.Time
}

func (f ScanFilter) matches(e Event) bool {
	if f.AggregateID != "" && e.AggregateID != f.AggregateID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.SourceAgent != "" && e.AgentID() != f.SourceAgent {
		return false
	}
	if f.Path != "" && e.Path() != f.Path {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Store is the event log's persistence port. Append must be
// atomic-with-version-increment for a given aggregate: AppendExpectingSeq
// rejects a write whose expected next sequence doesn't match, so callers
// get the same optimistic-concurrency guarantee the aggregate itself
// enforces in memory (spec.md §5's "no two commands may both obtain
// version v+1" invariant, extended to the storage layer).
type Store interface {
	// AppendExpectingSeq appends ev iff ev.Sequence is exactly one past
	// the highest sequence currently stored for ev.AggregateID (or 1 if
	// none stored yet). Returns cmderrors.ConcurrencyConflict otherwise.
	AppendExpectingSeq(ctx context.Context, ev Event) error

	// Load returns every event for an aggregate in sequence order.
	Load(ctx context.Context, aggregateID string) ([]Event, error)

	// LoadRange returns events for an aggregate with from < ts <= to, in
	// sequence order. A zero from/to is unbounded on that side.
	LoadRange(ctx context.Context, aggregateID string, from, to time.Time) ([]Event, error)

	// Scan returns every event matching filter, across aggregates,
	// ordered by (aggregate id, sequence).
	Scan(ctx context.Context, filter ScanFilter) ([]Event, error)

	// LatestSequence returns the highest sequence stored for an
	// aggregate, or 0 if none.
	LatestSequence(ctx context.Context, aggregateID string) (int64, error)

	Close() error
}

// MemoryStore is an in-memory Store for tests and for short-lived
// aggregates that don't need durability.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]Event // aggregateID -> events in sequence order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]Event)}
}

func (s *MemoryStore) AppendExpectingSeq(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.events[ev.AggregateID]
	var latest int64
	if len(existing) > 0 {
		latest = existing[len(existing)-1].Sequence
	}
	if ev.Sequence != latest+1 {
		return &cmderrors.ConcurrencyConflict{Expected: uint64(ev.Sequence - 1), Actual: uint64(latest)}
	}
	s.events[ev.AggregateID] = append(existing, ev)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, aggregateID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events[aggregateID]))
	copy(out, s.events[aggregateID])
	return out, nil
}

func (s *MemoryStore) LoadRange(ctx context.Context, aggregateID string, from, to time.Time) ([]Event, error) {
	all, _ := s.Load(ctx, aggregateID)
	var out []Event
	for _, e := range all {
		if !from.IsZero() && !e.Timestamp.After(from) {
			continue
		}
		if !to.IsZero() && e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryStore) Scan(ctx context.Context, filter ScanFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var aggIDs []string
	for id := range s.events {
		aggIDs = append(aggIDs, id)
	}
	sort.Strings(aggIDs)

	var out []Event
	for _, id := range aggIDs {
		for _, e := range s.events[id] {
			if filter.matches(e) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestSequence(ctx context.Context, aggregateID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[aggregateID]
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].Sequence, nil
}

func (s *MemoryStore) Close() error { return nil }
