package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AnshRaj112/workbridge/internal/protocol"
)

// ResyncTimeout bounds the presence re-query issued after a reconnect.
const ResyncTimeout = 5 * time.Second

// Presence tracks which users are online. It is a derived set: nothing
// expires on its own and the set is rebuilt from the server after reconnect.
type Presence struct {
	m      *Manager
	binder *Binder

	mu       sync.RWMutex
	online   map[string]bool
	tracked  map[string]struct{}
	onChange func(userID string, online bool)
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PresenceOption customises a Presence.
type PresenceOption func(*Presence)

// WithPresenceChange registers a callback for individual status flips.
func WithPresenceChange(fn func(userID string, online bool)) PresenceOption {
	return func(p *Presence) { p.onChange = fn }
}

// NewPresence subscribes to presence events on m.
func NewPresence(m *Manager, opts ...PresenceOption) *Presence {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Presence{
		m:       m,
		binder:  NewBinder(m),
		online:  make(map[string]bool),
		tracked: make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(p)
	}

	logger := m.Logger()
	p.binder.Bind(protocol.EventPresenceOnline, Handle(logger, func(e protocol.PresencePayload) {
		p.set(e.UserID, true)
	}))
	p.binder.Bind(protocol.EventPresenceOffline, Handle(logger, func(e protocol.PresencePayload) {
		p.set(e.UserID, false)
	}))
	p.binder.BindState(p.stateChanged)
	return p
}

// QueryOnlineStatus asks the server for the status of ids and merges the
// answer into the set. When the request fails every id is reported offline
// alongside the error.
func (p *Presence) QueryOnlineStatus(ctx context.Context, ids []string) (map[string]bool, error) {
	ids = dedupe(ids)
	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		result[id] = false
	}
	if len(ids) == 0 {
		return result, nil
	}

	p.mu.Lock()
	for _, id := range ids {
		p.tracked[id] = struct{}{}
	}
	p.mu.Unlock()

	var resp protocol.OnlineStatusResponse
	if err := p.m.Request(ctx, protocol.EventGetOnlineStatus, protocol.OnlineStatusRequest{UserIDs: ids}, &resp); err != nil {
		return result, err
	}

	for _, id := range ids {
		online := resp.Statuses[id]
		result[id] = online
		p.set(id, online)
	}
	return result, nil
}

// IsOnline reports the last known status of id; unknown ids are offline.
func (p *Presence) IsOnline(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online[id]
}

// Online returns the sorted ids currently known to be online.
func (p *Presence) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.online))
	for id, on := range p.online {
		if on {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Close unsubscribes and waits for an in-flight resync.
func (p *Presence) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.binder.Close()
	p.wg.Wait()
}

func (p *Presence) set(id string, online bool) {
	p.mu.Lock()
	_, known := p.online[id]
	if online {
		p.online[id] = true
	} else {
		delete(p.online, id)
	}
	fn := p.onChange
	p.mu.Unlock()

	if fn != nil && known != online {
		fn(id, online)
	}
}

func (p *Presence) stateChanged(s State) {
	if s != StateConnected {
		return
	}

	p.mu.Lock()
	p.online = make(map[string]bool)
	ids := make([]string, 0, len(p.tracked))
	for id := range p.tracked {
		ids = append(ids, id)
	}
	if len(ids) == 0 || p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()
	sort.Strings(ids)

	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(p.ctx, ResyncTimeout)
		defer cancel()
		if _, err := p.QueryOnlineStatus(ctx, ids); err != nil {
			p.m.Logger().Printf("presence resync: %v", err)
		}
	}()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
