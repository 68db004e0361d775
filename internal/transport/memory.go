package transport

import (
	"sync"

	"github.com/SWAI-Ltd/ctxpipe/internal/pipe"
)

// Bus is an in-process shared medium: every payload sent by one member is
// delivered to every other member before the outermost send returns.
//
// Deliveries run breadth-first in the order they were sent. A send made from
// inside a member's Listen is queued rather than delivered on the spot, so a
// greeting reaches every member before any reply to it does. When two
// goroutines send at once, the one already draining the queue may deliver
// the other's payload.
type Bus[T any] struct {
	mu       sync.RWMutex
	members  []*pipe.Pipe[T]
	attached map[*pipe.Pipe[T]]pipe.ListenerID
	queue    []delivery[T]
	draining bool
}

type delivery[T any] struct {
	to *pipe.Pipe[T]
	pl pipe.Payload[T]
}

// NewBus creates an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{attached: make(map[*pipe.Pipe[T]]pipe.ListenerID)}
}

// Add makes p receive everything sent on the bus. It does not let p send.
func (b *Bus[T]) Add(p *pipe.Pipe[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.members {
		if m == p {
			return
		}
	}
	b.members = append(b.members, p)
}

// Attach adds p and wires its send side to the bus. The pipe's greeting
// goes out immediately. Attaching the same pipe twice is a no-op.
func (b *Bus[T]) Attach(p *pipe.Pipe[T]) {
	b.Add(p)
	b.mu.Lock()
	if _, ok := b.attached[p]; ok {
		b.mu.Unlock()
		return
	}
	b.attached[p] = 0
	b.mu.Unlock()

	id := p.OnSend(func(pl pipe.Payload[T]) { b.deliver(p, pl) })

	b.mu.Lock()
	b.attached[p] = id
	b.mu.Unlock()
}

// Detach stops p from sending and receiving on the bus.
func (b *Bus[T]) Detach(p *pipe.Pipe[T]) {
	b.mu.Lock()
	id, ok := b.attached[p]
	delete(b.attached, p)
	for i, m := range b.members {
		if m == p {
			b.members = append(b.members[:i:i], b.members[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	if ok {
		p.OffSend(id)
	}
}

// Len returns the number of members.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.members)
}

func (b *Bus[T]) deliver(from *pipe.Pipe[T], pl pipe.Payload[T]) {
	b.mu.Lock()
	for _, m := range b.members {
		if m != from {
			b.queue = append(b.queue, delivery[T]{m, pl})
		}
	}
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	b.mu.Unlock()

	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		next := b.queue[0]
		b.queue[0] = delivery[T]{}
		b.queue = b.queue[1:]
		b.mu.Unlock()

		next.to.Listen(next.pl)
	}
}
