/**
 * @description
 * This file implements the `SessionStore` interface on Redis. Each user has at
 * most one live session, stored as a JSON blob under a per-user key with a
 * server-side TTL, so abandoned conversations disappear on their own even if
 * the engine never sees another message for that user.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: The Redis client.
 * - internal/domain: The session model.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kudipay/chatpay-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisSessionStore stores conversational sessions in Redis.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSessionStore creates a session store with the given key prefix.
func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "chatpay:session"
	}
	trimmed = strings.TrimSuffix(trimmed, ":")
	return &RedisSessionStore{client: client, prefix: trimmed}
}

func (s *RedisSessionStore) key(userID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", s.prefix, userID)
}

// Get loads the user's live session, or ErrSessionNotFound.
func (s *RedisSessionStore) Get(ctx context.Context, userID uuid.UUID) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// Save writes the session with the given TTL, replacing any previous one.
func (s *RedisSessionStore) Save(ctx context.Context, session *domain.Session, ttl time.Duration) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return s.client.Set(ctx, s.key(session.UserID), raw, ttl).Err()
}

// Delete destroys the user's session.
func (s *RedisSessionStore) Delete(ctx context.Context, userID uuid.UUID) error {
	return s.client.Del(ctx, s.key(userID)).Err()
}
