package service

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRevocationStore(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	store := NewMemoryRevocationStore().(*memoryRevocationStore)
	store.now = func() time.Time { return now }

	revoked, err := store.IsRevoked("missing")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.Revoke("", "u1", time.Minute))
	require.NoError(t, store.Revoke(" j1 ", "u1", time.Minute))
	revoked, err = store.IsRevoked("j1")
	require.NoError(t, err)
	assert.True(t, revoked)

	now = now.Add(time.Minute)
	revoked, err = store.IsRevoked("j1")
	require.NoError(t, err)
	assert.False(t, revoked, "entry should expire with the token")
}

func TestRedisRevocationStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisRevocationStore(client)
	require.NotNil(t, store)

	require.NoError(t, store.Revoke(" j1 ", "u1", time.Minute))
	assert.Equal(t, "u1", mustGet(t, mr, "auth:revoked:j1"))

	revoked, err := store.IsRevoked("j1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = store.IsRevoked("")
	require.NoError(t, err)
	assert.False(t, revoked)

	mr.FastForward(time.Minute + time.Second)
	revoked, err = store.IsRevoked("j1")
	require.NoError(t, err)
	assert.False(t, revoked)

	mr.Close()
	_, err = store.IsRevoked("j1")
	assert.Error(t, err)
}

func TestNewRedisRevocationStoreNilClient(t *testing.T) {
	assert.Nil(t, NewRedisRevocationStore(nil))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	val, err := mr.Get(key)
	require.NoError(t, err)
	return val
}
