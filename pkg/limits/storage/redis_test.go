package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	backend := NewRedisBackendWithClient(client, RedisBackendConfig{
		MaxRetries: 200,
	})
	t.Cleanup(func() { backend.Close() })

	return backend, mr
}

// TestRedisBackend runs the shared backend contract against Redis.
func TestRedisBackend(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend {
		backend, _ := newTestRedisBackend(t)
		return backend
	})
}

// TestRedisBackend_Expiry tests that records expire after retention.
func TestRedisBackend_Expiry(t *testing.T) {
	backend, mr := newTestRedisBackend(t)
	ctx := context.Background()
	now := time.Now()

	var ok bool
	_, err := backend.Update(ctx, "user-1", debitFn(now, 1800, 10, &ok))
	require.NoError(t, err)
	require.True(t, ok)

	ttl := mr.TTL("voicequota:usage:user-1")
	assert.Greater(t, ttl, 29*24*time.Hour, "key should live for retention past window end")
}

// TestRedisBackend_CorruptRecord tests that a malformed hash is reported.
func TestRedisBackend_CorruptRecord(t *testing.T) {
	backend, mr := newTestRedisBackend(t)

	mr.HSet("voicequota:usage:broken", fieldWindowStart, "not-a-number")

	_, err := backend.Load(context.Background(), "broken")
	assert.Error(t, err)
}

// TestRedisBackend_Unavailable tests that a dead server surfaces an error.
func TestRedisBackend_Unavailable(t *testing.T) {
	backend, mr := newTestRedisBackend(t)
	mr.Close()

	_, err := backend.Update(context.Background(), "user-1", debitFn(time.Now(), 1800, 1, new(bool)))
	assert.Error(t, err)
	assert.Error(t, backend.Ping(context.Background()))
}

// TestNewRedisBackend_InvalidURL tests URL parsing.
func TestNewRedisBackend_InvalidURL(t *testing.T) {
	_, err := NewRedisBackend(context.Background(), RedisBackendConfig{URL: "http://localhost:6379"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

// TestRedisBackend_CleanupKeepsRotatedRecord tests that a record rotated and
// debited after Cleanup scanned it is not deleted.
func TestRedisBackend_CleanupKeepsRotatedRecord(t *testing.T) {
	backend, _ := newTestRedisBackend(t)
	ctx := context.Background()
	now := time.Now()
	stale := now.Add(-48 * time.Hour)

	var ok bool
	_, err := backend.Update(ctx, "user-1", debitFn(stale, 1800, 10, &ok))
	require.NoError(t, err)
	require.True(t, ok)

	backend.scanned = func(key string) {
		var accepted bool
		_, err := backend.Update(ctx, "user-1", debitFn(now, 1800, 25, &accepted))
		require.NoError(t, err)
		require.True(t, accepted)
	}

	deleted, err := backend.Cleanup(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	rec, err := backend.Load(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, rec, "fresh record must survive cleanup")
	assert.Equal(t, int64(25), rec.ConsumedSeconds)

	backend.scanned = nil
	deleted, err = backend.Cleanup(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}
