// Package session keeps short-lived login state and revoked user claims in
// Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStateNotFound is returned for unknown, expired or already used login
// states.
var ErrStateNotFound = errors.New("login state not found")

// LoginState is stored between the redirect to the identity provider and the
// callback. The state key doubles as the CSRF token.
type LoginState struct {
	RedirectTo string    `json:"redirect_to"`
	CreatedAt  time.Time `json:"created_at"`
}

// RedisStore implements login state and claim revocation using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "fsr:",
	}
}

func (s *RedisStore) stateKey(state string) string {
	return s.prefix + "login:" + state
}

func (s *RedisStore) revokedKey(jti string) string {
	return s.prefix + "revoked:" + jti
}

// SaveLoginState stores the login state for ttl.
func (s *RedisStore) SaveLoginState(ctx context.Context, state string, data LoginState, ttl time.Duration) error {
	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now().UTC()
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal login state: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if err := s.client.Set(ctx, s.stateKey(state), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save login state: %w", err)
	}
	return nil
}

// ConsumeLoginState returns and deletes the login state. A state can be used
// once.
func (s *RedisStore) ConsumeLoginState(ctx context.Context, state string) (LoginState, error) {
	jsonData, err := s.client.GetDel(ctx, s.stateKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		return LoginState{}, ErrStateNotFound
	}
	if err != nil {
		return LoginState{}, fmt.Errorf("consume login state: %w", err)
	}

	var data LoginState
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return LoginState{}, fmt.Errorf("unmarshal login state: %w", err)
	}
	return data, nil
}

// RevokeClaim marks a user claim id as revoked until the claim would have
// expired anyway.
func (s *RedisStore) RevokeClaim(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke claim: %w", err)
	}
	return nil
}

// IsClaimRevoked reports whether jti was revoked and has not yet expired.
func (s *RedisStore) IsClaimRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked claim: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
