package ratelimit

import (
	"sync/atomic"
)

// ConcurrentLimiter is a counting semaphore that never blocks.
// A limit of zero or less disables it.
type ConcurrentLimiter struct {
	limit   int64
	current atomic.Int64
}

// NewConcurrentLimiter allows up to limit simultaneous holders.
func NewConcurrentLimiter(limit int) *ConcurrentLimiter {
	return &ConcurrentLimiter{limit: int64(limit)}
}

// Acquire takes a slot. If it returns true the caller must call Release.
func (cl *ConcurrentLimiter) Acquire() bool {
	if cl == nil || cl.limit <= 0 {
		return true
	}
	if cl.current.Add(1) > cl.limit {
		cl.current.Add(-1)
		return false
	}
	return true
}

// Release returns a slot taken by Acquire.
func (cl *ConcurrentLimiter) Release() {
	if cl == nil || cl.limit <= 0 {
		return
	}
	cl.current.Add(-1)
}

// Current returns the number of held slots.
func (cl *ConcurrentLimiter) Current() int64 {
	if cl == nil {
		return 0
	}
	return cl.current.Load()
}

// Limit returns the configured limit.
func (cl *ConcurrentLimiter) Limit() int64 {
	if cl == nil {
		return 0
	}
	return cl.limit
}
