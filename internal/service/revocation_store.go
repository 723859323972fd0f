package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationStore guarda los jti de sesiones cerradas antes de expirar.
type RevocationStore interface {
	Revoke(jti, userID string, ttl time.Duration) error
	IsRevoked(jti string) (bool, error)
}

type memoryRevocationStore struct {
	mu    sync.Mutex
	items map[string]time.Time
	now   func() time.Time
}

func NewMemoryRevocationStore() RevocationStore {
	return &memoryRevocationStore{
		items: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (s *memoryRevocationStore) Revoke(jti, _ string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return nil
	}
	s.items[jti] = s.now().UTC().Add(ttl)
	return nil
}

func (s *memoryRevocationStore) IsRevoked(jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jti = strings.TrimSpace(jti)
	exp, ok := s.items[jti]
	if !ok {
		return false, nil
	}
	if !s.now().UTC().Before(exp) {
		delete(s.items, jti)
		return false, nil
	}
	return true, nil
}

type redisKV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisRevocationStore struct {
	client redisKV
	prefix string
}

func NewRedisRevocationStore(client *redis.Client) RevocationStore {
	if client == nil {
		return nil
	}
	return &redisRevocationStore{
		client: client,
		prefix: "auth:revoked:",
	}
}

func (s *redisRevocationStore) Revoke(jti, userID string, ttl time.Duration) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	return s.client.Set(ctx, s.prefix+jti, userID, ttl).Err()
}

func (s *redisRevocationStore) IsRevoked(jti string) (bool, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	n, err := s.client.Exists(ctx, s.prefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
