package stream

import (
	"container/list"
	"context"
	"sync"
)

// Pipe is one named FIFO stream: a bounded backlog (for VFS Dequeue
// reads) plus zero or more live subscriber channels (for push-style
// fan-out), each with its own bounded buffer and backpressure drop
// counting.
type Pipe struct {
	name string

	mu      sync.Mutex
	backlog *list.List // queued Message, front = oldest
	subs    map[int]*subscriber
	nextSub int

	bufSize int
	st      Stats
}

type subscriber struct {
	ch chan Message
}

func newPipe(name string, bufSize int) *Pipe {
	return &Pipe{
		name:    name,
		backlog: list.New(),
		subs:    make(map[int]*subscriber),
		bufSize: bufSize,
	}
}

// publish appends msg to the backlog (for Dequeue-style readers) and
// fans it out to every live subscriber. A send to a subscriber whose
// buffer is full waits up to defaultSendTimeout; if it does not complete
// in time the message is dropped for that subscriber and counted.
func (p *Pipe) publish(ctx context.Context, msg Message) {
	p.mu.Lock()
	p.backlog.PushBack(msg)
	for p.backlog.Len() > backpressureLimit {
		p.backlog.Remove(p.backlog.Front())
		p.st.Dropped++
	}
	p.st.Published++
	subs := make([]*subscriber, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()

	for _, s := range subs {
		p.deliver(ctx, s, msg)
	}
}

func (p *Pipe) deliver(ctx context.Context, s *subscriber, msg Message) {
	sendCtx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	defer cancel()

	select {
	case s.ch <- msg:
		p.mu.Lock()
		p.st.Delivered++
		p.mu.Unlock()
	case <-sendCtx.Done():
		p.mu.Lock()
		p.st.Dropped++
		p.mu.Unlock()
	}
}

// dequeue pops the oldest backlog entry, per the VFS streams/ read
// contract (one message per read, empty read if nothing pending).
func (p *Pipe) dequeue() (Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	front := p.backlog.Front()
	if front == nil {
		return Message{}, false
	}
	p.backlog.Remove(front)
	return front.Value.(Message), true
}

// subscribe registers a new buffered subscriber channel and returns it
// plus an unsubscribe func.
func (p *Pipe) subscribe() (<-chan Message, func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	s := &subscriber{ch: make(chan Message, p.bufSize)}
	p.subs[id] = s
	p.mu.Unlock()

	unsubscribe := func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
		close(s.ch)
	}
	return s.ch, unsubscribe
}

func (p *Pipe) stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.st
}
