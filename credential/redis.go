package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists credentials in Redis under "<prefix>:jwtToken" and
// "<prefix>:userRole". Both keys are written and removed in one MULTI block.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. A zero ttl keeps entries until Clear.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "lms"
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		ttl:    ttlOrZero(ttl),
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

// Load reads both keys with a single MGET.
//
//	Performance: 1 Redis round-trip.
func (s *RedisStore) Load(ctx context.Context) (Credentials, error) {
	values, err := s.redis.MGet(ctx, s.key(TokenKey), s.key(RoleKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Credentials{}, ErrNotFound
		}
		return Credentials{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(values) != 2 {
		return Credentials{}, fmt.Errorf("%w: unexpected MGET reply of %d values", ErrCorrupt, len(values))
	}

	token, hasToken := values[0].(string)
	role, hasRole := values[1].(string)
	return pairFrom(token, role, hasToken, hasRole)
}

// Save writes both keys atomically.
//
//	Performance: 1 Redis round-trip (MULTI/EXEC).
func (s *RedisStore) Save(ctx context.Context, creds Credentials) error {
	if err := validate(creds); err != nil {
		return err
	}
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(TokenKey), creds.Token, s.ttl)
		pipe.Set(ctx, s.key(RoleKey), creds.Role, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Clear deletes both keys. Deleting absent keys is not an error.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key(TokenKey), s.key(RoleKey)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
