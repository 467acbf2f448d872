package limits_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"mercator-hq/voicequota/pkg/limits"
	"mercator-hq/voicequota/pkg/limits/gate"
	"mercator-hq/voicequota/pkg/limits/ledger"
	"mercator-hq/voicequota/pkg/limits/storage"
)

var integrationPolicy = limits.QuotaPolicy{
	MaxSecondsPerWindow:     300,
	WindowDuration:          time.Hour,
	MaxSingleRequestSeconds: 60,
}

func integrationBackends(t *testing.T) map[string]func(t *testing.T) storage.Backend {
	return map[string]func(t *testing.T) storage.Backend{
		"memory": func(t *testing.T) storage.Backend {
			return storage.NewMemoryBackend()
		},
		"sqlite": func(t *testing.T) storage.Backend {
			b, err := storage.NewSQLiteBackend(filepath.Join(t.TempDir(), "usage.db"))
			if err != nil {
				t.Fatalf("NewSQLiteBackend failed: %v", err)
			}
			return b
		},
		"redis": func(t *testing.T) storage.Backend {
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("miniredis failed: %v", err)
			}
			t.Cleanup(mr.Close)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return storage.NewRedisBackendWithClient(client, storage.RedisBackendConfig{MaxRetries: 500})
		},
	}
}

// TestIntegration_AdmitThenDebit runs many concurrent requests through the
// pre-flight gate and the post-hoc debit, the way the transcription handler
// does, and checks that the debits never exceed the window.
func TestIntegration_AdmitThenDebit(t *testing.T) {
	for name, open := range integrationBackends(t) {
		t.Run(name, func(t *testing.T) {
			backend := open(t)
			defer backend.Close()

			l, err := ledger.New(backend, integrationPolicy)
			if err != nil {
				t.Fatal(err)
			}
			g := gate.New(l, nil)
			ctx := context.Background()

			const workers = 20
			const seconds = 45 // 6 fit in 300

			var (
				wg        sync.WaitGroup
				admitted  atomic.Int64
				debited   atomic.Int64
				overQuota atomic.Int64
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, _, err := g.CheckAdmission(ctx, "alice", seconds)
					if err != nil {
						t.Errorf("CheckAdmission failed: %v", err)
						return
					}
					if !d.Allowed {
						return
					}
					admitted.Add(1)

					d, _, err = l.TryDebit(ctx, "alice", seconds)
					if err != nil {
						t.Errorf("TryDebit failed: %v", err)
						return
					}
					if d.Allowed {
						debited.Add(seconds)
					} else {
						overQuota.Add(1)
					}
				}()
			}
			wg.Wait()

			rec, err := l.Snapshot(ctx, "alice")
			if err != nil {
				t.Fatal(err)
			}
			if rec.ConsumedSeconds != debited.Load() {
				t.Errorf("consumed %d, debited %d", rec.ConsumedSeconds, debited.Load())
			}
			if rec.ConsumedSeconds > integrationPolicy.MaxSecondsPerWindow {
				t.Errorf("double spend: consumed %d of %d", rec.ConsumedSeconds, integrationPolicy.MaxSecondsPerWindow)
			}
			if rec.ConsumedSeconds != 270 {
				t.Errorf("expected six debits (270s), got %d", rec.ConsumedSeconds)
			}
			if admitted.Load()-overQuota.Load() != 6 {
				t.Errorf("admitted %d, over quota %d; want 6 billed", admitted.Load(), overQuota.Load())
			}

			d, _, err := g.CheckAdmission(ctx, "alice", seconds)
			if err != nil {
				t.Fatal(err)
			}
			if d.Allowed || d.Reason != limits.ReasonWindowExhausted {
				t.Errorf("expected window exhausted, got %+v", d)
			}
		})
	}
}

// TestIntegration_WindowRollover checks that an exhausted user is admitted
// again once the window has passed, on every backend.
func TestIntegration_WindowRollover(t *testing.T) {
	for name, open := range integrationBackends(t) {
		t.Run(name, func(t *testing.T) {
			backend := open(t)
			defer backend.Close()

			var mu sync.Mutex
			now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
			clock := func() time.Time {
				mu.Lock()
				defer mu.Unlock()
				return now
			}

			l, err := ledger.New(backend, integrationPolicy, ledger.WithClock(clock))
			if err != nil {
				t.Fatal(err)
			}
			g := gate.New(l, nil)
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				if d, _, err := l.TryDebit(ctx, "bob", 60); err != nil || !d.Allowed {
					t.Fatalf("debit %d: %+v %v", i, d, err)
				}
			}
			if d, _, _ := g.CheckAdmission(ctx, "bob", 1); d.Allowed {
				t.Fatal("exhausted user admitted")
			}

			mu.Lock()
			now = now.Add(integrationPolicy.WindowDuration)
			mu.Unlock()

			d, rec, err := g.CheckAdmission(ctx, "bob", 60)
			if err != nil {
				t.Fatal(err)
			}
			if !d.Allowed || rec.ConsumedSeconds != 0 {
				t.Errorf("expected fresh window, got %+v consumed=%d", d, rec.ConsumedSeconds)
			}
			if !rec.WindowStart.Equal(clock()) {
				t.Errorf("window should start at rotation time, got %v", rec.WindowStart)
			}
		})
	}
}
