package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"mercator-hq/voicequota/pkg/limits"
)

// Hash fields of a usage record.
const (
	fieldWindowStart = "window_start"
	fieldWindowEnd   = "window_end"
	fieldConsumed    = "consumed_seconds"
	fieldRequests    = "request_count"
	fieldUpdatedAt   = "updated_at"
)

// RedisBackend implements Backend on Redis hashes.
// Updates use WATCH/MULTI/EXEC: a debit that raced with another write to the
// same key is retried against the fresh value, so no update is lost.
type RedisBackend struct {
	client     *redis.Client
	prefix     string
	retention  time.Duration
	maxRetries int

	// scanned runs between Cleanup's scan and its delete. Tests use it to
	// interleave writes.
	scanned func(key string)
}

// RedisBackendConfig configures the Redis backend.
type RedisBackendConfig struct {
	// URL is the Redis URL (redis://host:port/db).
	URL string

	// KeyPrefix namespaces usage keys.
	// Default: "voicequota:usage:"
	KeyPrefix string

	// Retention keeps a record this long after its window ends before Redis
	// expires it.
	// Default: 30 days
	Retention time.Duration

	// MaxRetries bounds optimistic transaction retries.
	// Default: 16
	MaxRetries int
}

// NewRedisBackend connects to Redis.
func NewRedisBackend(ctx context.Context, cfg RedisBackendConfig) (*RedisBackend, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisBackendWithClient(client, cfg), nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client *redis.Client, cfg RedisBackendConfig) *RedisBackend {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "voicequota:usage:"
	}
	if cfg.Retention == 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 16
	}

	return &RedisBackend{
		client:     client,
		prefix:     cfg.KeyPrefix,
		retention:  cfg.Retention,
		maxRetries: cfg.MaxRetries,
	}
}

// Name returns "redis".
func (r *RedisBackend) Name() string {
	return BackendRedis
}

func (r *RedisBackend) key(userID string) string {
	return r.prefix + userID
}

// Load retrieves the usage record for a user.
func (r *RedisBackend) Load(ctx context.Context, userID string) (*limits.UsageRecord, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	fields, err := r.client.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load usage record: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeRedisRecord(userID, fields)
}

// Update applies fn in an optimistic transaction on the user's key.
func (r *RedisBackend) Update(ctx context.Context, userID string, fn UpdateFunc) (*limits.UsageRecord, error) {
	if err := validateUpdate(userID, fn); err != nil {
		return nil, err
	}

	key := r.key(userID)
	var result *limits.UsageRecord

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}

		rec := &limits.UsageRecord{UserID: userID}
		if len(fields) > 0 {
			rec, err = decodeRedisRecord(userID, fields)
			if err != nil {
				return err
			}
		}

		changed, err := fn(rec)
		if err != nil {
			return &updateFuncError{err: err}
		}
		if !changed {
			result = rec
			return nil
		}

		rec.UserID = userID
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeRedisRecord(rec))
			pipe.ExpireAt(ctx, key, rec.WindowEnd.Add(r.retention))
			return nil
		})
		if err != nil {
			return err
		}

		result = rec
		return nil
	}

	for i := 0; i < r.maxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var fnErr *updateFuncError
		if errors.As(err, &fnErr) {
			return nil, fnErr.err
		}
		return nil, fmt.Errorf("failed to update usage record: %w", err)
	}

	return nil, fmt.Errorf("failed to update usage record: too much contention after %d attempts", r.maxRetries)
}

// updateFuncError marks an error returned by the caller's UpdateFunc so it
// is passed through unwrapped.
type updateFuncError struct {
	err error
}

func (e *updateFuncError) Error() string { return e.err.Error() }

// Delete removes the usage record for a user.
func (r *RedisBackend) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete usage record: %w", err)
	}
	return nil
}

// List scans all usage keys under the prefix.
func (r *RedisBackend) List(ctx context.Context) ([]*limits.UsageRecord, error) {
	var records []*limits.UsageRecord

	err := r.scan(ctx, func(key string, fields map[string]string) error {
		rec, err := decodeRedisRecord(key[len(r.prefix):], fields)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return records, nil
}

// Cleanup removes records whose window ended before endedBefore.
// Redis also expires keys on its own once retention has passed.
func (r *RedisBackend) Cleanup(ctx context.Context, endedBefore time.Time) (int, error) {
	deleted := 0
	err := r.scan(ctx, func(key string, fields map[string]string) error {
		if !redisWindowEndedBefore(fields[fieldWindowEnd], endedBefore) {
			return nil
		}
		if r.scanned != nil {
			r.scanned(key)
		}
		ok, err := r.deleteIfEnded(ctx, key, endedBefore)
		if err != nil {
			return err
		}
		if ok {
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("failed to cleanup: %w", err)
	}
	return deleted, nil
}

// deleteIfEnded deletes key only if its window still ends before
// endedBefore when the delete commits. A record rotated by a concurrent
// debit since the scan is kept.
func (r *RedisBackend) deleteIfEnded(ctx context.Context, key string, endedBefore time.Time) (bool, error) {
	var deleted bool
	txf := func(tx *redis.Tx) error {
		deleted = false
		end, err := tx.HGet(ctx, key, fieldWindowEnd).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if !redisWindowEndedBefore(end, endedBefore) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			return err
		}
		deleted = true
		return nil
	}

	for i := 0; i < r.maxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return deleted, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, err
	}
	return false, fmt.Errorf("too much contention deleting %s after %d attempts", key, r.maxRetries)
}

func redisWindowEndedBefore(raw string, endedBefore time.Time) bool {
	end, err := strconv.ParseInt(raw, 10, 64)
	return err == nil && time.UnixMilli(end).Before(endedBefore)
}

func (r *RedisBackend) scan(ctx context.Context, visit func(key string, fields map[string]string) error) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			continue
		}
		if err := visit(key, fields); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Ping checks the Redis connection.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func encodeRedisRecord(rec *limits.UsageRecord) map[string]interface{} {
	return map[string]interface{}{
		fieldWindowStart: rec.WindowStart.UnixMilli(),
		fieldWindowEnd:   rec.WindowEnd.UnixMilli(),
		fieldConsumed:    rec.ConsumedSeconds,
		fieldRequests:    rec.RequestCount,
		fieldUpdatedAt:   rec.UpdatedAt.UnixMilli(),
	}
}

func decodeRedisRecord(userID string, fields map[string]string) (*limits.UsageRecord, error) {
	ints := make(map[string]int64, 5)
	for _, name := range []string{fieldWindowStart, fieldWindowEnd, fieldConsumed, fieldRequests, fieldUpdatedAt} {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt usage record for %s: field %s: %w", userID, name, err)
		}
		ints[name] = v
	}

	return &limits.UsageRecord{
		UserID:          userID,
		WindowStart:     time.UnixMilli(ints[fieldWindowStart]),
		WindowEnd:       time.UnixMilli(ints[fieldWindowEnd]),
		ConsumedSeconds: ints[fieldConsumed],
		RequestCount:    ints[fieldRequests],
		UpdatedAt:       time.UnixMilli(ints[fieldUpdatedAt]),
	}, nil
}
