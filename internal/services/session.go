package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/workbridge/internal/models"
)

const (
	// SessionKeyPrefix is the Redis key prefix for sessions
	SessionKeyPrefix = "session:"
	// UserSessionKeyPrefix is the Redis key prefix for user->session mapping
	UserSessionKeyPrefix = "user_session:"
)

// SessionStore keeps bearer tokens in Redis. The stored value is
// "role:userID" so the socket and REST layers can rebuild the identity
// without another lookup.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

// Create issues a token for identity. A user holds at most one session, so
// logging in again revokes the previous token and restarts the TTL.
func (s *SessionStore) Create(ctx context.Context, identity models.Identity) (string, error) {
	if identity.ID == "" {
		return "", fmt.Errorf("session: empty user id")
	}
	if err := s.InvalidateUser(ctx, identity.ID); err != nil {
		return "", err
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(tokenBytes)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, SessionKeyPrefix+token, encodeIdentity(identity), s.ttl)
	pipe.Set(ctx, UserSessionKeyPrefix+identity.ID, token, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("session: store: %w", err)
	}
	return token, nil
}

// Validate resolves token to its identity. Unknown and expired tokens report
// ok=false with a nil error.
func (s *SessionStore) Validate(ctx context.Context, token string) (models.Identity, bool, error) {
	if token == "" {
		return models.Identity{}, false, nil
	}
	raw, err := s.client.Get(ctx, SessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return models.Identity{}, false, nil
	}
	if err != nil {
		return models.Identity{}, false, err
	}
	identity, err := decodeIdentity(raw)
	if err != nil {
		return models.Identity{}, false, err
	}
	return identity, true, nil
}

// Invalidate removes a single session.
func (s *SessionStore) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	raw, err := s.client.Get(ctx, SessionKeyPrefix+token).Result()
	if err == nil {
		if identity, err := decodeIdentity(raw); err == nil {
			s.client.Del(ctx, UserSessionKeyPrefix+identity.ID)
		}
	}
	return s.client.Del(ctx, SessionKeyPrefix+token).Err()
}

// InvalidateUser removes whatever session userID currently holds.
func (s *SessionStore) InvalidateUser(ctx context.Context, userID string) error {
	userKey := UserSessionKeyPrefix + userID
	token, err := s.client.Get(ctx, userKey).Result()
	if err == nil && token != "" {
		s.client.Del(ctx, SessionKeyPrefix+token)
	}
	return s.client.Del(ctx, userKey).Err()
}

func encodeIdentity(identity models.Identity) string {
	return string(identity.Role) + ":" + identity.ID
}

func decodeIdentity(raw string) (models.Identity, error) {
	role, id, ok := strings.Cut(raw, ":")
	if !ok || id == "" {
		return models.Identity{}, fmt.Errorf("session: malformed value %q", raw)
	}
	r, err := models.ParseRole(role)
	if err != nil {
		return models.Identity{}, fmt.Errorf("session: %w", err)
	}
	return models.Identity{ID: id, Role: r}, nil
}
