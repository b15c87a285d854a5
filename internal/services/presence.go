package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceStore counts open connections per user across instances.
// Connect and Disconnect report whether the user crossed between offline
// and online. Touch keeps a live user's entry from expiring; the gateway
// calls it every presenceHeartbeat while a connection is open.
type PresenceStore interface {
	Connect(ctx context.Context, userID string) (bool, error)
	Disconnect(ctx context.Context, userID string) (bool, error)
	Touch(ctx context.Context, userID string) error
	Online(ctx context.Context, userIDs []string) (map[string]bool, error)
}

const (
	presenceKeyPrefix = "presence:conn:"
	// presenceTTL bounds how long a crashed instance can keep a user online.
	presenceTTL       = 2 * time.Minute
	presenceHeartbeat = 30 * time.Second
)

// RedisPresence keeps one counter per user.
type RedisPresence struct {
	client *redis.Client
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func (p *RedisPresence) Connect(ctx context.Context, userID string) (bool, error) {
	key := presenceKeyPrefix + userID
	pipe := p.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("presence connect %s: %w", userID, err)
	}
	return incr.Val() == 1, nil
}

func (p *RedisPresence) Disconnect(ctx context.Context, userID string) (bool, error) {
	key := presenceKeyPrefix + userID
	n, err := p.client.Decr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("presence disconnect %s: %w", userID, err)
	}
	if n <= 0 {
		p.client.Del(ctx, key)
	}
	return n == 0, nil
}

// Touch extends the counter's TTL. EXPIRE is a no-op on a missing key, so a
// heartbeat never resurrects a user whose entry is already gone.
func (p *RedisPresence) Touch(ctx context.Context, userID string) error {
	if err := p.client.Expire(ctx, presenceKeyPrefix+userID, presenceTTL).Err(); err != nil {
		return fmt.Errorf("presence touch %s: %w", userID, err)
	}
	return nil
}

func (p *RedisPresence) Online(ctx context.Context, userIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKeyPrefix + id
	}
	vals, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("presence lookup: %w", err)
	}
	for i, v := range vals {
		s, _ := v.(string)
		n, _ := strconv.Atoi(s)
		out[userIDs[i]] = n > 0
	}
	return out, nil
}

// MemoryPresence is an in-process PresenceStore for tests and single-instance
// runs. Entries expire like the Redis counters do.
type MemoryPresence struct {
	mu      sync.Mutex
	conns   map[string]int
	expires map[string]time.Time
	now     func() time.Time
	ttl     time.Duration
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{
		conns:   make(map[string]int),
		expires: make(map[string]time.Time),
		now:     time.Now,
		ttl:     presenceTTL,
	}
}

// live drops userID when its entry has expired. Callers hold p.mu.
func (p *MemoryPresence) live(userID string) int {
	if exp, ok := p.expires[userID]; ok && !p.now().Before(exp) {
		delete(p.conns, userID)
		delete(p.expires, userID)
	}
	return p.conns[userID]
}

func (p *MemoryPresence) Connect(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.live(userID) + 1
	p.conns[userID] = n
	p.expires[userID] = p.now().Add(p.ttl)
	return n == 1, nil
}

func (p *MemoryPresence) Disconnect(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.live(userID)
	if n == 0 {
		return false, nil
	}
	if n == 1 {
		delete(p.conns, userID)
		delete(p.expires, userID)
		return true, nil
	}
	p.conns[userID] = n - 1
	return false, nil
}

func (p *MemoryPresence) Touch(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live(userID) > 0 {
		p.expires[userID] = p.now().Add(p.ttl)
	}
	return nil
}

func (p *MemoryPresence) Online(_ context.Context, userIDs []string) (map[string]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		out[id] = p.live(id) > 0
	}
	return out, nil
}
