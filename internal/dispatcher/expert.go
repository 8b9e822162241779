package dispatcher

import (
	"sync"

	"github.com/cmdhub/cmdhub/internal/model"
)

// Escalation is a request-descriptor handed to the external expert
// subsystem, per spec.md §4.5's expert escalation contract. The completion
// promise itself is not exported; the expert subsystem resolves an
// escalation by calling Dispatcher.ProvideExpertResponse(ID, result).
type Escalation struct {
	ID      string
	Request model.Request

	promise chan model.Result
}

// expertQueue is the bounded handoff between the dispatcher and the
// external expert/human subsystem. The consumer of Pending() lives
// outside the core, per spec.md §1.
type expertQueue struct {
	mu      sync.Mutex
	pending map[string]*Escalation
	ch      chan *Escalation
}

func newExpertQueue(capacity int) *expertQueue {
	if capacity <= 0 {
		capacity = 100
	}
	return &expertQueue{
		pending: make(map[string]*Escalation),
		ch:      make(chan *Escalation, capacity),
	}
}

// enqueue registers a new escalation and attempts a non-blocking send.
// It returns (nil, false) immediately if the queue is at capacity,
// signalling QUEUE_FULL in the dispatcher's state machine.
func (q *expertQueue) enqueue(id string, req model.Request) (*Escalation, bool) {
	pe := &Escalation{ID: id, Request: req, promise: make(chan model.Result, 1)}

	q.mu.Lock()
	q.pending[id] = pe
	q.mu.Unlock()

	select {
	case q.ch <- pe:
		return pe, true
	default:
		q.mu.Lock()
		delete(q.pending, id)
		q.mu.Unlock()
		return nil, false
	}
}

// cancel removes a pending registration (used on timeout).
func (q *expertQueue) cancel(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

// resolve is called by the external expert subsystem (via
// Dispatcher.ProvideExpertResponse) to unblock a waiter.
func (q *expertQueue) resolve(id string, result model.Result) bool {
	q.mu.Lock()
	pe, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.mu.Unlock()
	if !ok {
		return false
	}
	pe.promise <- result
	return true
}

// Pending exposes the consumer-facing channel for the external
// human/expert subsystem to drain, surfaced as
// Dispatcher.PendingEscalations.
func (q *expertQueue) Pending() <-chan *Escalation {
	return q.ch
}

func (q *expertQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
