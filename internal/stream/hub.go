// Package stream implements spec.md §4.10's event stream hub: fan-out of
// published messages to per-stream subscribers, each with a bounded
// ring buffer, backpressure-drop counting, and a per-send timeout —
// the FIFO-like abstraction the VFS mounts under `streams/`.
package stream

import (
	"context"
	"sync"
	"time"
)

const (
	defaultBufferSize   = 1000
	defaultSendTimeout  = time.Second
	backpressureLimit   = 5000
)

// Message is one published item: an opaque JSON-able payload plus the
// stream name it was published on.
type Message struct {
	Stream    string
	Payload   map[string]any
	Timestamp time.Time
}

// Stats reports cumulative counters for a single named stream.
type Stats struct {
	Published int64
	Delivered int64
	Dropped   int64
}

// Hub owns one named FIFO pipe per configured stream name and fans out
// every Publish to that pipe's subscribers.
type Hub struct {
	mu      sync.RWMutex
	pipes   map[string]*Pipe
	bufSize int
}

// Config tunes the hub's per-stream buffer size; zero uses spec
// defaults.
type Config struct {
	BufferSize int
}

func New(cfg Config) *Hub {
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	return &Hub{pipes: make(map[string]*Pipe), bufSize: bufSize}
}

// pipeFor returns (creating if necessary) the named pipe.
func (h *Hub) pipeFor(name string) *Pipe {
	h.mu.RLock()
	p, ok := h.pipes[name]
	h.mu.RUnlock()
	if ok {
		return p
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.pipes[name]; ok {
		return p
	}
	p = newPipe(name, h.bufSize)
	h.pipes[name] = p
	return p
}

// Publish appends msg to the named stream's backlog, dropping the oldest
// backlog message (counted in Stats.Dropped) whenever the backlog grows
// past backpressureLimit, and fans msg out to the stream's subscribers.
func (h *Hub) Publish(ctx context.Context, name string, payload map[string]any) {
	msg := Message{Stream: name, Payload: payload, Timestamp: time.Now()}
	h.pipeFor(name).publish(ctx, msg)
}

// Dequeue pops the oldest pending message for name, per the VFS
// `read(streams/<name>)` contract: returns (msg, true) or (zero, false)
// if the stream is empty.
func (h *Hub) Dequeue(name string) (Message, bool) {
	return h.pipeFor(name).dequeue()
}

// Subscribe registers a new subscriber on stream name, returning a
// channel the caller reads from and an unsubscribe func to call when
// done.
func (h *Hub) Subscribe(name string) (<-chan Message, func()) {
	return h.pipeFor(name).subscribe()
}

// Names returns the configured stream names currently known to the
// hub (i.e. every stream that has been published to or subscribed at
// least once).
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.pipes))
	for name := range h.pipes {
		names = append(names, name)
	}
	return names
}

// StatsFor returns the named stream's cumulative counters.
func (h *Hub) StatsFor(name string) Stats {
	return h.pipeFor(name).stats()
}
