package ratelimit

import (
	"sync"
)

// KeyedLimiter applies a concurrency limit per key. Keys with no holders
// are dropped, so memory is bounded by the number of active keys.
type KeyedLimiter struct {
	limit int

	mu     sync.Mutex
	active map[string]int
}

// NewKeyedLimiter allows up to limit holders per key. A limit of zero or
// less disables it.
func NewKeyedLimiter(limit int) *KeyedLimiter {
	return &KeyedLimiter{limit: limit, active: make(map[string]int)}
}

// Acquire takes a slot for key. On success the returned release func must
// be called exactly once; calling it again is a no-op.
func (k *KeyedLimiter) Acquire(key string) (release func(), ok bool) {
	if k == nil || k.limit <= 0 {
		return func() {}, true
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active[key] >= k.limit {
		return nil, false
	}
	k.active[key]++

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			defer k.mu.Unlock()
			if k.active[key] <= 1 {
				delete(k.active, key)
				return
			}
			k.active[key]--
		})
	}, true
}

// Active returns the number of held slots for key.
func (k *KeyedLimiter) Active(key string) int {
	if k == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.active[key]
}

// Keys returns the number of keys with at least one holder.
func (k *KeyedLimiter) Keys() int {
	if k == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.active)
}
