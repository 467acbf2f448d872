// Package ratelimit bounds how many transcriptions run at once.
//
// The per-minute request rate is handled by the API middleware. This
// package covers the other axis: a transcription holds an upstream
// connection for seconds, so the server caps in-flight calls overall and
// per user.
//
//	global := ratelimit.NewConcurrentLimiter(32)
//	perUser := ratelimit.NewKeyedLimiter(2)
//
//	release, ok := perUser.Acquire("alice")
//	if !ok {
//	    // reject with 429
//	}
//	defer release()
//
// A per-user limit of 1 also serializes one user's uploads, which narrows
// the window in which two admitted requests can overrun the quota.
package ratelimit
