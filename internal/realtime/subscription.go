package realtime

import (
	"log"
	"sort"
	"sync"

	"github.com/AnshRaj112/workbridge/internal/protocol"
)

// Handler receives one inbound envelope. Handlers run on the connection's
// read goroutine in arrival order and must not block on network I/O.
type Handler func(protocol.Envelope)

// Handle wraps a typed callback: the payload is decoded and validated, and
// frames that fail are logged and dropped.
func Handle[T any](logger *log.Logger, fn func(T)) Handler {
	return func(env protocol.Envelope) {
		var p T
		if err := protocol.Decode(env, &p); err != nil {
			logger.Printf("dropping %s: %v", env.Event, err)
			return
		}
		fn(p)
	}
}

// Subscription is the handle returned by every registration. Close
// deregisters and is safe to call more than once.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Close deregisters the handler.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

type registry struct {
	mu      sync.RWMutex
	next    uint64
	byEvent map[protocol.Event]map[uint64]Handler
}

func newRegistry() *registry {
	return &registry{byEvent: make(map[protocol.Event]map[uint64]Handler)}
}

func (r *registry) add(event protocol.Event, h Handler) *Subscription {
	r.mu.Lock()
	r.next++
	id := r.next
	if r.byEvent[event] == nil {
		r.byEvent[event] = make(map[uint64]Handler)
	}
	r.byEvent[event][id] = h
	r.mu.Unlock()

	return &Subscription{cancel: func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.byEvent[event], id)
		if len(r.byEvent[event]) == 0 {
			delete(r.byEvent, event)
		}
	}}
}

func (r *registry) count(event protocol.Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEvent[event])
}

// dispatch calls handlers in registration order outside the lock so a
// handler may close its own subscription.
func (r *registry) dispatch(env protocol.Envelope) {
	r.mu.RLock()
	set := r.byEvent[env.Event]
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, set[id])
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}

// Binder owns one component's subscriptions. Binding an event that is
// already bound replaces the previous handler, so at most one handler per
// event name is live for the component.
type Binder struct {
	m     *Manager
	mu    sync.Mutex
	subs  map[protocol.Event]*Subscription
	state *Subscription
	rooms map[Room]*Subscription
}

// NewBinder returns an empty Binder over m.
func NewBinder(m *Manager) *Binder {
	return &Binder{
		m:     m,
		subs:  make(map[protocol.Event]*Subscription),
		rooms: make(map[Room]*Subscription),
	}
}

// Bind registers h for event, closing any handler this Binder held for it.
func (b *Binder) Bind(event protocol.Event, h Handler) {
	sub := b.m.On(event, h)
	b.mu.Lock()
	prev := b.subs[event]
	b.subs[event] = sub
	b.mu.Unlock()
	prev.Close()
}

// BindState registers fn for connection state changes, replacing any
// previous state listener of this Binder.
func (b *Binder) BindState(fn func(State)) {
	sub := b.m.OnStateChange(fn)
	b.mu.Lock()
	prev := b.state
	b.state = sub
	b.mu.Unlock()
	prev.Close()
}

// Join joins room through the Manager once per Binder.
func (b *Binder) Join(room Room) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.rooms[room]; ok {
		return
	}
	b.rooms[room] = b.m.Join(room)
}

// Leave releases a room joined through this Binder.
func (b *Binder) Leave(room Room) {
	b.mu.Lock()
	sub := b.rooms[room]
	delete(b.rooms, room)
	b.mu.Unlock()
	sub.Close()
}

// Close releases every handler, state listener and room of the Binder.
func (b *Binder) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs)+len(b.rooms)+1)
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	for _, s := range b.rooms {
		subs = append(subs, s)
	}
	subs = append(subs, b.state)
	b.subs = make(map[protocol.Event]*Subscription)
	b.rooms = make(map[Room]*Subscription)
	b.state = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}
