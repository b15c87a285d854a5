package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// CacheKeyPrefix is the Redis key prefix for cached lookups
	CacheKeyPrefix = "cache:"
	// MembershipCacheTTL bounds how long a positive membership answer is kept.
	// Conversations never lose members, so only the key count is at stake.
	MembershipCacheTTL = 12 * time.Hour
)

// CacheKey generates a cache key for a specific resource
func CacheKey(resource string, identifier string) string {
	return fmt.Sprintf("%s%s:%s", CacheKeyPrefix, resource, identifier)
}

// CachedMembership answers IsMember from Redis before asking next. Only
// positive answers are cached; counterpart lists always go to next because
// new conversations change them.
type CachedMembership struct {
	next   MembershipChecker
	client *redis.Client
	ttl    time.Duration
}

func NewCachedMembership(next MembershipChecker, client *redis.Client) *CachedMembership {
	return &CachedMembership{next: next, client: client, ttl: MembershipCacheTTL}
}

func (c *CachedMembership) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	key := CacheKey("member", conversationID+":"+userID)

	err := c.client.Get(ctx, key).Err()
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, redis.Nil) {
		// Redis trouble falls through to the store
		log.Printf("[cache] get %s: %v", key, err)
	}

	ok, err := c.next.IsMember(ctx, conversationID, userID)
	if err != nil || !ok {
		return ok, err
	}
	if err := c.client.Set(ctx, key, "1", c.ttl).Err(); err != nil {
		log.Printf("[cache] set %s: %v", key, err)
	}
	return true, nil
}

func (c *CachedMembership) Counterparts(ctx context.Context, userID string) ([]string, error) {
	return c.next.Counterparts(ctx, userID)
}
