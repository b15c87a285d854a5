package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/workbridge/internal/models"
)

const (
	chatRecentKeyPrefix = "chat:conversation:"
	chatRecentKeySuffix = ":recent"
	chatRecentMaxLen    = 50
	chatRecentTTL       = 1 * time.Hour
)

func chatRecentKey(conversationID string) string {
	return chatRecentKeyPrefix + conversationID + chatRecentKeySuffix
}

// RecentCache keeps the newest messages of each conversation in a Redis list
// (newest at head) so the first history page skips Mongo.
type RecentCache struct {
	client *redis.Client
}

func NewRecentCache(client *redis.Client) *RecentCache {
	return &RecentCache{client: client}
}

// Push adds a message after it has been saved to Mongo. LPUSH + LTRIM keeps
// the last 50.
func (c *RecentCache) Push(ctx context.Context, msg models.Message) {
	key := chatRecentKey(msg.ConversationID)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	// Only extend a list that is already warm; a partial list would hide
	// older messages from the first page.
	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil || exists == 0 {
		return
	}

	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, chatRecentMaxLen-1)
	pipe.Expire(ctx, key, chatRecentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("chat_cache: push failed for conversation %s: %v", msg.ConversationID, err)
	}
}

// Recent returns the cached messages oldest-first. ok is false on a miss.
func (c *RecentCache) Recent(ctx context.Context, conversationID string) ([]models.Message, bool) {
	raw, err := c.client.LRange(ctx, chatRecentKey(conversationID), 0, -1).Result()
	if err != nil || len(raw) == 0 {
		return nil, false
	}

	msgs := make([]models.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m models.Message
		if json.Unmarshal([]byte(raw[i]), &m) != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, true
}

// Warm stores an oldest-first page fetched from Mongo.
func (c *RecentCache) Warm(ctx context.Context, conversationID string, msgs []models.Message) {
	if len(msgs) == 0 {
		return
	}

	key := chatRecentKey(conversationID)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	for i := len(msgs) - 1; i >= 0; i-- {
		data, err := json.Marshal(msgs[i])
		if err != nil {
			continue
		}
		pipe.RPush(ctx, key, data)
	}
	pipe.LTrim(ctx, key, 0, chatRecentMaxLen-1)
	pipe.Expire(ctx, key, chatRecentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("chat_cache: warm failed for conversation %s: %v", conversationID, err)
	}
}

// Invalidate drops the list after receipts change stored statuses.
func (c *RecentCache) Invalidate(ctx context.Context, conversationID string) {
	if err := c.client.Del(ctx, chatRecentKey(conversationID)).Err(); err != nil {
		log.Printf("chat_cache: invalidate failed for conversation %s: %v", conversationID, err)
	}
}
