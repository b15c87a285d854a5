// Package realtime is the client core of the workbridge socket channel: one
// Manager owns the transport for a logged-in identity and demultiplexes
// inbound events to Presence, Conversation, JobWatch and Notifications.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/protocol"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
)

var (
	// ErrNoToken is returned by Connect when the token source is empty. No
	// connection is created; callers must not retry without a fresh token.
	ErrNoToken = errors.New("realtime: no auth token")
	// ErrNotConnected is returned when emitting without a live transport.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrDisconnected fails requests that were in flight when the transport dropped.
	ErrDisconnected = errors.New("realtime: disconnected")
	// ErrIdentityInUse is returned when Connect is called for a second identity
	// while the Manager still owns a session.
	ErrIdentityInUse = errors.New("realtime: manager already bound to another identity")
)

// State is the Manager's connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	// StateDisconnected means the transport dropped and retries are running.
	StateDisconnected
	// StateTerminated means the retry ceiling was hit; Connect must be called again.
	StateTerminated
	// StateClosed follows an explicit Disconnect.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateTerminated:
		return "terminated"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMaxAttempts sets the reconnect ceiling.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithBackoff sets the first retry delay and the cap it doubles up to.
func WithBackoff(base, max time.Duration) Option {
	return func(m *Manager) {
		if base > 0 {
			m.baseDelay = base
		}
		if max >= base {
			m.maxDelay = max
		}
	}
}

// Manager owns the single socket connection of one identity.
type Manager struct {
	dialer      Dialer
	tokens      TokenSource
	logger      *log.Logger
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	handlers *registry

	mu       sync.Mutex
	identity models.Identity
	conn     Conn
	state    State
	attempts int
	cancel   context.CancelFunc
	rooms    map[Room]int

	listenersMu sync.Mutex
	nextID      uint64
	listeners   map[uint64]func(State)

	writeMu   sync.Mutex
	nextAck   atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]chan protocol.AckPayload

	wg sync.WaitGroup
}

// NewManager returns an idle Manager.
func NewManager(dialer Dialer, tokens TokenSource, opts ...Option) *Manager {
	m := &Manager{
		dialer:      dialer,
		tokens:      tokens,
		logger:      log.New(log.Writer(), "[realtime] ", log.LstdFlags),
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		handlers:    newRegistry(),
		rooms:       make(map[Room]int),
		listeners:   make(map[uint64]func(State)),
		pending:     make(map[uint64]chan protocol.AckPayload),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Logger returns the logger components share with the Manager.
func (m *Manager) Logger() *log.Logger {
	return m.logger
}

// Identity returns the identity of the current or last session.
func (m *Manager) Identity() models.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether a transport is live.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Attempts returns the reconnect attempt counter.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect opens the channel for identity. It is a no-op while a session for
// the same identity is connected or reconnecting. When the first dial fails
// the error is returned and retries continue in the background.
func (m *Manager) Connect(ctx context.Context, identity models.Identity) error {
	token := m.tokens.Token()
	if token == "" {
		m.logger.Printf("connect %s skipped: no auth token", identity.ID)
		return ErrNoToken
	}

	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateConnected, StateDisconnected:
		same := m.identity == identity
		m.mu.Unlock()
		if same {
			return nil
		}
		return ErrIdentityInUse
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	m.identity = identity
	m.cancel = cancel
	m.attempts = 0
	m.state = StateConnecting
	m.mu.Unlock()
	m.notify(StateConnecting)

	conn, err := m.dialer.Dial(ctx, token)
	if err != nil {
		m.logger.Printf("connect %s failed: %v", identity.ID, err)
		m.setState(sessCtx, StateDisconnected)
		m.wg.Add(1)
		go m.reconnect(sessCtx)
		return fmt.Errorf("connect: %w", err)
	}
	m.attach(sessCtx, conn)
	return nil
}

// Disconnect tears the transport down immediately without retrying. It waits
// for the Manager's goroutines to exit.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	changed := m.state != StateClosed && m.state != StateIdle
	if changed {
		m.state = StateClosed
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.failPending()
	m.wg.Wait()
	if changed {
		m.notify(StateClosed)
	}
}

// On registers h for inbound event.
func (m *Manager) On(event protocol.Event, h Handler) *Subscription {
	return m.handlers.add(event, h)
}

// HandlerCount returns how many handlers are registered for event.
func (m *Manager) HandlerCount(event protocol.Event) int {
	return m.handlers.count(event)
}

// OnStateChange registers fn for state transitions. fn runs on the goroutine
// that caused the transition and must not call Disconnect.
func (m *Manager) OnStateChange(fn func(State)) *Subscription {
	m.listenersMu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	return &Subscription{cancel: func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}}
}

// Emit sends a fire-and-forget event.
func (m *Manager) Emit(event protocol.Event, payload any) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return m.write(env)
}

// Request sends event and waits for the matching ack, decoding its data into
// out. The protocol has no timeout of its own; ctx bounds the wait.
func (m *Manager) Request(ctx context.Context, event protocol.Event, payload, out any) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	id := m.nextAck.Add(1)
	env.Ack = id
	ch := make(chan protocol.AckPayload, 1)

	m.pendingMu.Lock()
	m.pending[id] = ch
	m.pendingMu.Unlock()
	defer func() {
		m.pendingMu.Lock()
		delete(m.pending, id)
		m.pendingMu.Unlock()
	}()

	if err := m.write(env); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ack, ok := <-ch:
		if !ok {
			return ErrDisconnected
		}
		if ack.Error != "" {
			return fmt.Errorf("%s: %s", event, ack.Error)
		}
		if out != nil && len(ack.Data) > 0 {
			if err := json.Unmarshal(ack.Data, out); err != nil {
				return fmt.Errorf("%s: decode ack: %w", event, err)
			}
		}
		return nil
	}
}

// Join adds a reference to room and returns the handle that releases it. The
// join event goes out on the first reference; the leave event on the last.
// Every open room is joined again after a reconnect.
func (m *Manager) Join(room Room) *Subscription {
	m.mu.Lock()
	m.rooms[room]++
	first := m.rooms[room] == 1
	connected := m.state == StateConnected
	m.mu.Unlock()

	if first && connected {
		if err := m.Emit(room.joinEvent(), room.payload()); err != nil {
			m.logger.Printf("join %s: %v", room, err)
		}
	}
	return &Subscription{cancel: func() { m.leave(room) }}
}

func (m *Manager) leave(room Room) {
	m.mu.Lock()
	n, ok := m.rooms[room]
	if !ok {
		m.mu.Unlock()
		return
	}
	last := n <= 1
	if last {
		delete(m.rooms, room)
	} else {
		m.rooms[room] = n - 1
	}
	connected := m.state == StateConnected
	m.mu.Unlock()

	if last && connected {
		if err := m.Emit(room.leaveEvent(), room.payload()); err != nil {
			m.logger.Printf("leave %s: %v", room, err)
		}
	}
}

// Rooms returns the rooms currently held open, sorted.
func (m *Manager) Rooms() []Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedRoomsLocked()
}

func (m *Manager) sortedRoomsLocked() []Room {
	rooms := make([]Room, 0, len(m.rooms))
	for r := range m.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].String() < rooms[j].String() })
	return rooms
}

func (m *Manager) write(env protocol.Envelope) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write %s: %w", env.Event, err)
	}
	return nil
}

// attach installs a freshly dialled conn, joins the personal room, replays
// open rooms and then tells listeners the channel is up.
func (m *Manager) attach(ctx context.Context, conn Conn) {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.attempts = 0
	m.state = StateConnected
	identity := m.identity
	rooms := m.sortedRoomsLocked()
	m.mu.Unlock()

	m.wg.Add(1)
	go m.readLoop(ctx, conn)

	if err := m.Emit(protocol.EventJoinUserRoom, protocol.RoomPayload{Room: identity.UserRoom()}); err != nil {
		m.logger.Printf("join personal room: %v", err)
	}
	for _, room := range rooms {
		if err := m.Emit(room.joinEvent(), room.payload()); err != nil {
			m.logger.Printf("rejoin %s: %v", room, err)
		}
	}
	m.logger.Printf("connected as %s (%s)", identity.ID, identity.Role)
	m.notify(StateConnected)
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) {
	defer m.wg.Done()
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Printf("transport dropped: %v", err)
			m.drop(ctx, conn)
			return
		}
		if err := env.Check(protocol.ServerToClient); err != nil {
			m.logger.Printf("ignoring frame: %v", err)
			continue
		}
		if env.Event == protocol.EventAck {
			m.resolve(env)
			continue
		}
		m.handlers.dispatch(env)
	}
}

func (m *Manager) resolve(env protocol.Envelope) {
	var ack protocol.AckPayload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			ack.Error = "malformed ack"
		}
	}
	m.pendingMu.Lock()
	ch, ok := m.pending[env.Ack]
	delete(m.pending, env.Ack)
	m.pendingMu.Unlock()
	if ok {
		ch <- ack
	}
}

func (m *Manager) drop(ctx context.Context, conn Conn) {
	m.mu.Lock()
	if m.conn != conn || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	_ = conn.Close()
	m.failPending()
	m.notify(StateDisconnected)

	m.wg.Add(1)
	go m.reconnect(ctx)
}

func (m *Manager) reconnect(ctx context.Context) {
	defer m.wg.Done()
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		m.mu.Lock()
		m.attempts = attempt
		m.mu.Unlock()

		timer := time.NewTimer(m.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		token := m.tokens.Token()
		if token == "" {
			m.logger.Printf("reconnect attempt %d/%d: no auth token", attempt, m.maxAttempts)
			continue
		}
		conn, err := m.dialer.Dial(ctx, token)
		if err != nil {
			m.logger.Printf("reconnect attempt %d/%d failed: %v", attempt, m.maxAttempts, err)
			continue
		}
		m.attach(ctx, conn)
		return
	}
	m.logger.Printf("giving up after %d reconnect attempts", m.maxAttempts)
	m.setState(ctx, StateTerminated)
}

func (m *Manager) backoff(attempt int) time.Duration {
	d := m.baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.maxDelay {
			return m.maxDelay
		}
	}
	return d
}

func (m *Manager) setState(ctx context.Context, s State) {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()
	m.notify(s)
}

func (m *Manager) failPending() {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	for id, ch := range m.pending {
		close(ch)
		delete(m.pending, id)
	}
}

func (m *Manager) notify(s State) {
	m.listenersMu.Lock()
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(State), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.listeners[id])
	}
	m.listenersMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
