// Package pipe implements a store-and-forward relay between isolated
// execution contexts.
//
// Each context owns one Pipe identified by a role string. Payloads are
// flooded to every neighbour by the transport, suppressed by uuid once seen,
// and parked until their target has been observed sending something. The
// pipe never touches a transport itself: it is fed through Listen and it
// emits through the callbacks registered with OnSend.
package pipe

import (
	"log/slog"
	"sync"
	"time"
)

// ListenerID identifies a registered callback for later removal.
type ListenerID uint64

type entry[F any] struct {
	id ListenerID
	fn F
}

type registry[F any] []entry[F]

func (r registry[F]) without(id ListenerID) registry[F] {
	out := r[:0:0]
	for _, e := range r {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

func (r registry[F]) funcs() []F {
	fns := make([]F, len(r))
	for i, e := range r {
		fns[i] = e.fn
	}
	return fns
}

// Option configures a Pipe.
type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
	nonce  func() string
}

// WithLogger sets the logger used for relay diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides the timestamp source used in payload uuids.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithNonce overrides the random component used in payload uuids.
func WithNonce(nonce func() string) Option {
	return func(o *options) { o.nonce = nonce }
}

// Pipe is the relay state for one endpoint identity.
//
// The mutex guards the ledger, queue and registries. It is never held while
// a callback runs, so a send listener may synchronously feed another pipe
// (or this one) without deadlocking.
type Pipe[T any] struct {
	id   string
	opts options
	log  *slog.Logger

	mu      sync.Mutex
	ledger  map[string]*Payload[T] // uuid -> payload
	seen    map[string]struct{}    // from identities present in the ledger
	waiting []*Payload[T]
	nextID  ListenerID

	messageListeners registry[func(T)]
	payloadListeners registry[func(Payload[T])]
	sendListeners    registry[func(Payload[T])]
}

// New creates a pipe for the endpoint identity id.
func New[T any](id string, opts ...Option) *Pipe[T] {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
		nonce:  randomNonce,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Pipe[T]{
		id:     id,
		opts:   o,
		log:    o.logger.With("pipe", id),
		ledger: make(map[string]*Payload[T]),
		seen:   make(map[string]struct{}),
	}
}

// ID returns the identity this pipe relays for.
func (p *Pipe[T]) ID() string { return p.id }

// PostMessage originates a new payload addressed to target ("" broadcasts)
// and attempts to send it straight away.
func (p *Pipe[T]) PostMessage(message T, target string) Payload[T] {
	pl := p.newPayload(target)
	pl.Message = message
	_, parked := p.admit(pl)
	p.dispatch(pl, parked)
	return *pl
}

// Listen processes a payload delivered by a transport, whether it is
// addressed to this endpoint or only passing through. Application messages
// addressed to this endpoint, or broadcast, reach the message listeners;
// anything not addressed exclusively here is forwarded.
func (p *Pipe[T]) Listen(payload Payload[T]) {
	pl := &payload
	ok, parked := p.admit(pl)
	if !ok {
		return
	}

	current := pl.Target == p.id
	if (current || pl.Target == "") && !pl.Internal {
		p.mu.Lock()
		fns := p.messageListeners.funcs()
		p.mu.Unlock()
		for _, fn := range fns {
			fn(pl.Message)
		}
	}

	if pl.Internal {
		p.handleInternal(pl)
	}

	if !current {
		p.dispatch(pl, parked)
	}

	p.flush()
}

// OnSend registers an outbound transport callback and immediately hands it a
// greeting so neighbours learn this endpoint is online.
func (p *Pipe[T]) OnSend(cb func(Payload[T])) ListenerID {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.sendListeners = append(p.sendListeners, entry[func(Payload[T])]{id, cb})
	p.mu.Unlock()

	greeting := p.newGreeting()
	p.admit(greeting)
	p.log.Debug("greeting", "uuid", greeting.UUID)
	cb(greeting.withHop(p.id))
	return id
}

// OffSend removes a send listener. Unknown ids are ignored.
func (p *Pipe[T]) OffSend(id ListenerID) {
	p.mu.Lock()
	p.sendListeners = p.sendListeners.without(id)
	p.mu.Unlock()
}

// OnMessage registers cb for application messages addressed to this endpoint.
func (p *Pipe[T]) OnMessage(cb func(T)) ListenerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.messageListeners = append(p.messageListeners, entry[func(T)]{p.nextID, cb})
	return p.nextID
}

// OffMessage removes a message listener. Unknown ids are ignored.
func (p *Pipe[T]) OffMessage(id ListenerID) {
	p.mu.Lock()
	p.messageListeners = p.messageListeners.without(id)
	p.mu.Unlock()
}

// OnPayload registers cb for every payload this pipe processes.
func (p *Pipe[T]) OnPayload(cb func(Payload[T])) ListenerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.payloadListeners = append(p.payloadListeners, entry[func(Payload[T])]{p.nextID, cb})
	return p.nextID
}

// OffPayload removes a payload listener. Unknown ids are ignored.
func (p *Pipe[T]) OffPayload(id ListenerID) {
	p.mu.Lock()
	p.payloadListeners = p.payloadListeners.without(id)
	p.mu.Unlock()
}

// Online reports whether a payload from id has been observed. The broadcast
// target "" and the pipe's own identity are always online.
func (p *Pipe[T]) Online(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isOnline(id)
}

// Waiting returns a snapshot of the payloads parked for offline targets.
func (p *Pipe[T]) Waiting() []Payload[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Payload[T], len(p.waiting))
	for i, pl := range p.waiting {
		out[i] = *pl
	}
	return out
}

// Len returns the number of payloads in the ledger.
func (p *Pipe[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ledger)
}

func (p *Pipe[T]) isOnline(id string) bool {
	if id == "" || id == p.id {
		return true
	}
	_, ok := p.seen[id]
	return ok
}

// admit records pl in the ledger and notifies payload listeners. It reports
// ok=false, with no side effects, when the uuid was already seen, and
// parked=true when pl joined the waiting queue. Both are decided under one
// lock, so a concurrent flush cannot release pl before the caller acts on it.
func (p *Pipe[T]) admit(pl *Payload[T]) (ok, parked bool) {
	p.mu.Lock()
	if _, dup := p.ledger[pl.UUID]; dup {
		p.mu.Unlock()
		p.log.Debug("duplicate dropped", "uuid", pl.UUID)
		return false, false
	}
	p.ledger[pl.UUID] = pl
	p.seen[pl.From] = struct{}{}
	parked = !p.isOnline(pl.Target)
	if parked {
		p.waiting = append(p.waiting, pl)
	}
	fns := p.payloadListeners.funcs()
	p.mu.Unlock()

	if parked {
		p.log.Debug("payload parked", "uuid", pl.UUID, "target", pl.Target)
	}
	for _, fn := range fns {
		fn(*pl)
	}
	return true, parked
}

// dispatch makes the first transmission attempt for a freshly admitted
// payload. A payload parked for an offline target is not sent: a fresh
// greeting goes out in its place, prompting the network to announce itself
// again, and the payload itself leaves later through flush.
func (p *Pipe[T]) dispatch(pl *Payload[T], parked bool) {
	if !parked {
		p.send(pl)
		return
	}
	// TODO: revisit whether a parked payload should ever trigger a
	// greeting here rather than simply waiting for the flush.
	g := p.newGreeting()
	p.admit(g)
	p.send(g)
}

// send transmits pl to every send listener with this endpoint appended to
// the trail.
func (p *Pipe[T]) send(pl *Payload[T]) {
	p.mu.Lock()
	fns := p.sendListeners.funcs()
	p.mu.Unlock()

	out := pl.withHop(p.id)
	for _, fn := range fns {
		fn(out)
	}
}

// flush sends every parked payload whose target is now online. Each payload
// leaves the queue before it is sent, so reentrant flushes never send it twice.
func (p *Pipe[T]) flush() {
	for {
		p.mu.Lock()
		var next *Payload[T]
		for i, pl := range p.waiting {
			if p.isOnline(pl.Target) {
				next = pl
				p.waiting = append(p.waiting[:i:i], p.waiting[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
		if next == nil {
			return
		}
		p.log.Debug("payload released", "uuid", next.UUID, "target", next.Target)
		p.send(next)
	}
}

func (p *Pipe[T]) handleInternal(pl *Payload[T]) {
	if pl.Control != ControlGreeting {
		return
	}
	reply := p.newPayload(pl.From)
	reply.Internal = true
	reply.Control = ControlGreetingToo
	_, parked := p.admit(reply)
	p.dispatch(reply, parked)
}

func (p *Pipe[T]) newPayload(target string) *Payload[T] {
	return &Payload[T]{
		Target:  target,
		From:    p.id,
		Passing: []string{},
		UUID:    composeUUID(p.id, p.opts.nonce(), p.opts.now()),
	}
}

func (p *Pipe[T]) newGreeting() *Payload[T] {
	g := p.newPayload("")
	g.Internal = true
	g.Control = ControlGreeting
	return g
}
