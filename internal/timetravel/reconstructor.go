// Package timetravel implements spec.md §4.7's reconstructor: snapshot
// -then-replay rebuilding of historical project state, memoized, plus
// file history, session replay, diffing, and concurrency-conflict
// analysis built on top of rebuild.
package timetravel

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cmdhub/cmdhub/internal/event"
	"github.com/cmdhub/cmdhub/internal/project"
)

// Snapshot is a stored (aggregate_id, snapshot_time) -> state pair, per
// spec.md §6's "Snapshots, if implemented, are keyed by (aggregate_id,
// snapshot_time)" persistence note. SnapshotStore is optional: a
// Reconstructor with none just replays from empty state every time.
type Snapshot struct {
	AggregateID string
	At          time.Time
	State       *project.State
}

type SnapshotStore interface {
	// Best returns the snapshot with the latest At <= target, or
	// (nil, false) if none exists.
	Best(aggregateID string, target time.Time) (Snapshot, bool)
}

const (
	memoTTL      = 30 * time.Minute
	memoCapacity = 100
)

type memoEntry struct {
	state     *project.State
	createdAt time.Time
	elem      *list.Element
}

// Reconstructor rebuilds project state at any timestamp from the event
// log, per spec.md §4.7.
type Reconstructor struct {
	store    event.Store
	snapshots SnapshotStore

	mu    sync.Mutex
	memo  map[string]*memoEntry
	order *list.List // LRU order of memo keys, front = most recently used
}

func New(store event.Store, snapshots SnapshotStore) *Reconstructor {
	return &Reconstructor{
		store:     store,
		snapshots: snapshots,
		memo:      make(map[string]*memoEntry),
		order:     list.New(),
	}
}

func memoKey(aggregateID string, target time.Time) string {
	return aggregateID + "|" + target.UTC().Format(time.RFC3339Nano)
}

// Rebuild reconstructs project state for aggregateID as of target,
// memoizing the result for memoTTL keyed by (aggregateID, target).
func (r *Reconstructor) Rebuild(ctx context.Context, aggregateID string, target time.Time) (*project.State, error) {
	key := memoKey(aggregateID, target)

	r.mu.Lock()
	if entry, ok := r.memo[key]; ok && time.Since(entry.createdAt) < memoTTL {
		r.order.MoveToFront(entry.elem)
		r.mu.Unlock()
		return entry.state.Clone(), nil
	}
	r.mu.Unlock()

	state := project.NewState()
	var snapshotAt time.Time
	if r.snapshots != nil {
		if snap, ok := r.snapshots.Best(aggregateID, target); ok {
			state = snap.State.Clone()
			snapshotAt = snap.At
		}
	}

	events, err := r.store.LoadRange(ctx, aggregateID, snapshotAt, target)
	if err != nil {
		return nil, fmt.Errorf("timetravel: load range: %w", err)
	}
	for _, e := range events {
		project.Apply(state, e)
	}

	r.memoize(key, state)
	return state.Clone(), nil
}

func (r *Reconstructor) memoize(key string, state *project.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.memo[key]; ok {
		existing.state = state
		existing.createdAt = time.Now()
		r.order.MoveToFront(existing.elem)
		return
	}

	elem := r.order.PushFront(key)
	r.memo[key] = &memoEntry{state: state, createdAt: time.Now(), elem: elem}

	for len(r.memo) > memoCapacity {
		oldest := r.order.Back()
		if oldest == nil {
			break
		}
		r.order.Remove(oldest)
		delete(r.memo, oldest.Value.(string))
	}
}

// FileHistoryEntry is one chronological record for GetFileHistory.
type FileHistoryEntry struct {
	Event   event.Event
	Content []byte
	Hash    string
	Agent   string
	OpKind  event.Type
}

// GetFileHistory returns the chronological list of events that touched
// path for aggregateID.
func (r *Reconstructor) GetFileHistory(ctx context.Context, aggregateID, path string) ([]FileHistoryEntry, error) {
	events, err := r.store.Scan(ctx, event.ScanFilter{AggregateID: aggregateID, Path: path})
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })

	out := make([]FileHistoryEntry, 0, len(events))
	for _, e := range events {
		content, _ := e.Data["content"].([]byte)
		if content == nil {
			if s, ok := e.Data["content"].(string); ok {
				content = []byte(s)
			}
		}
		hash, _ := e.Metadata["content_hash"].(string)
		out = append(out, FileHistoryEntry{Event: e, Content: content, Hash: hash, Agent: e.AgentID(), OpKind: e.Type})
	}
	return out, nil
}

// SessionReplay is the summary ReplaySession produces.
type SessionReplay struct {
	Start, End  *event.Event
	PreState    *project.State
	PostState   *project.State
	FilesTouched map[string]bool
	ValidationCount int
}

// ReplaySession reconstructs the pre- and post-session project state
// plus the set of files touched and validation count during the
// session, per spec.md §4.7.
func (r *Reconstructor) ReplaySession(ctx context.Context, aggregateID, sessionID string) (*SessionReplay, error) {
	starts, err := r.store.Scan(ctx, event.ScanFilter{AggregateID: aggregateID, Type: event.AgentSessionStarted})
	if err != nil {
		return nil, err
	}
	ends, err := r.store.Scan(ctx, event.ScanFilter{AggregateID: aggregateID, Type: event.AgentSessionEnded})
	if err != nil {
		return nil, err
	}

	var start, end *event.Event
	for i := range starts {
		if starts[i].SessionID() == sessionID {
			start = &starts[i]
			break
		}
	}
	for i := range ends {
		if ends[i].SessionID() == sessionID {
			end = &ends[i]
			break
		}
	}
	if start == nil {
		return nil, fmt.Errorf("timetravel: no AgentSessionStarted found for session %q", sessionID)
	}

	preState, err := r.Rebuild(ctx, aggregateID, start.Timestamp)
	if err != nil {
		return nil, err
	}

	endTime := time.Now()
	if end != nil {
		endTime = end.Timestamp
	}
	postState, err := r.Rebuild(ctx, aggregateID, endTime)
	if err != nil {
		return nil, err
	}

	allEvents, err := r.store.LoadRange(ctx, aggregateID, start.Timestamp, endTime)
	if err != nil {
		return nil, err
	}
	touched := make(map[string]bool)
	validations := 0
	for _, e := range allEvents {
		if e.SessionID() != sessionID {
			continue
		}
		if p := e.Path(); p != "" {
			touched[p] = true
		}
		if e.Type == event.ValidationRequestSubmitted {
			validations++
		}
	}

	return &SessionReplay{
		Start: start, End: end,
		PreState: preState, PostState: postState,
		FilesTouched: touched, ValidationCount: validations,
	}, nil
}

// Diff is the result of GenerateDiff: a unified line diff plus counts.
type Diff struct {
	Lines      []string
	SizeBefore int
	SizeAfter  int
	LinesAdded int
	LinesRemoved int
}

// GenerateDiff produces a unified line diff of path's content between t0
// and t1. The diff algorithm is a hand-rolled longest-common-subsequence
// line diff (see diff.go) since no diff library appears anywhere in the
// example pack.
func (r *Reconstructor) GenerateDiff(ctx context.Context, aggregateID, path string, t0, t1 time.Time) (*Diff, error) {
	before, err := r.Rebuild(ctx, aggregateID, t0)
	if err != nil {
		return nil, err
	}
	after, err := r.Rebuild(ctx, aggregateID, t1)
	if err != nil {
		return nil, err
	}

	var beforeContent, afterContent []byte
	if fv, ok := before.CurrentFile(path); ok {
		beforeContent = fv.Content
	}
	if fv, ok := after.CurrentFile(path); ok {
		afterContent = fv.Content
	}

	return unifiedLineDiff(beforeContent, afterContent), nil
}

// ConcurrencyConflictGroup is one group of events touching the same
// path by more than one agent within the analysis window.
type ConcurrencyConflictGroup struct {
	Path   string
	Events []event.Event
	Agents map[string]bool
}

// AnalyzeConcurrencyConflicts groups events touching the same path by
// multiple agents within window, per spec.md §4.7.
func (r *Reconstructor) AnalyzeConcurrencyConflicts(ctx context.Context, aggregateID string, window time.Duration) ([]ConcurrencyConflictGroup, error) {
	events, err := r.store.Load(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	var groups []ConcurrencyConflictGroup
	used := make([]bool, len(events))

	for i, e := range events {
		if used[i] || e.Path() == "" {
			continue
		}
		group := ConcurrencyConflictGroup{Path: e.Path(), Agents: map[string]bool{e.AgentID(): true}}
		group.Events = append(group.Events, e)
		used[i] = true

		for j := i + 1; j < len(events); j++ {
			if used[j] || events[j].Path() != e.Path() {
				continue
			}
			if events[j].Timestamp.Sub(e.Timestamp) > window {
				break
			}
			group.Events = append(group.Events, events[j])
			group.Agents[events[j].AgentID()] = true
			used[j] = true
		}

		if len(group.Agents) > 1 {
			groups = append(groups, group)
		}
	}
	return groups, nil
}
