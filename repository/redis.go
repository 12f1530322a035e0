package repository

import (
	"context"
	"fmt"
	"time"

	auth "github.com/goliatone/go-church-auth"
	"github.com/redis/go-redis/v9"
)

var _ auth.CredentialStore = (*RedisCredentialStore)(nil)

// RedisCredentialStore keeps the pair in a Redis hash with the fixed
// access_token/refresh_token fields. Writes run in MULTI/EXEC.
type RedisCredentialStore struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	logger auth.Logger
}

// NewRedisCredentialStore returns a store writing to key. A zero ttl
// keeps the pair until cleared.
func NewRedisCredentialStore(client redis.Cmdable, key string, ttl time.Duration) *RedisCredentialStore {
	return &RedisCredentialStore{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: auth.NewSlogLogger(nil),
	}
}

// WithLogger overrides the logger.
func (s *RedisCredentialStore) WithLogger(logger auth.Logger) *RedisCredentialStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Save implements auth.CredentialStore.
func (s *RedisCredentialStore) Save(ctx context.Context, creds auth.Credentials) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.HSet(ctx, s.key,
			auth.AccessTokenKey, creds.AccessToken,
			auth.RefreshTokenKey, creds.RefreshToken,
		)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Load implements auth.CredentialStore.
func (s *RedisCredentialStore) Load(ctx context.Context) auth.Credentials {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		s.logger.Warn("credential load failed", "error", err)
		return auth.Credentials{}
	}

	creds := auth.Credentials{
		AccessToken:  values[auth.AccessTokenKey],
		RefreshToken: values[auth.RefreshTokenKey],
	}
	if creds.AccessToken == "" {
		return auth.Credentials{}
	}
	return creds
}

// Clear implements auth.CredentialStore.
func (s *RedisCredentialStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
