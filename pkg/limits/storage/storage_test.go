package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mercator-hq/voicequota/pkg/limits"
)

// debitFn returns an UpdateFunc that starts a window if needed and adds
// seconds when they fit under max.
func debitFn(now time.Time, max, seconds int64, accepted *bool) UpdateFunc {
	return func(rec *limits.UsageRecord) (bool, error) {
		rotated := rec.Rotate(now, time.Hour)
		if rec.ConsumedSeconds+seconds > max {
			*accepted = false
			return rotated, nil
		}
		rec.ConsumedSeconds += seconds
		rec.RequestCount++
		rec.UpdatedAt = now
		*accepted = true
		return true, nil
	}
}

// runBackendContract exercises the behavior every backend must share.
func runBackendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("LoadNonExistent", func(t *testing.T) {
		backend := newBackend(t)
		rec, err := backend.Load(context.Background(), "nobody")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if rec != nil {
			t.Errorf("Expected nil record, got %+v", rec)
		}
	})

	t.Run("UpdateAndLoad", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()
		now := time.Now().Truncate(time.Millisecond)

		var ok bool
		rec, err := backend.Update(ctx, "user-1", debitFn(now, 1800, 30, &ok))
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if !ok {
			t.Fatal("Expected debit to be accepted")
		}
		if rec.ConsumedSeconds != 30 || rec.RequestCount != 1 {
			t.Errorf("Expected 30s/1 request, got %ds/%d", rec.ConsumedSeconds, rec.RequestCount)
		}

		loaded, err := backend.Load(ctx, "user-1")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded == nil {
			t.Fatal("Expected record, got nil")
		}
		if loaded.UserID != "user-1" {
			t.Errorf("Expected user-1, got %s", loaded.UserID)
		}
		if loaded.ConsumedSeconds != 30 {
			t.Errorf("Expected 30 consumed seconds, got %d", loaded.ConsumedSeconds)
		}
		if !loaded.WindowStart.Equal(now) {
			t.Errorf("Expected window start %v, got %v", now, loaded.WindowStart)
		}
		if !loaded.WindowEnd.Equal(now.Add(time.Hour)) {
			t.Errorf("Expected window end %v, got %v", now.Add(time.Hour), loaded.WindowEnd)
		}
	})

	t.Run("UnchangedIsNotPersisted", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()

		_, err := backend.Update(ctx, "user-2", func(rec *limits.UsageRecord) (bool, error) {
			rec.ConsumedSeconds = 99
			return false, nil
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		loaded, err := backend.Load(ctx, "user-2")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded != nil && loaded.ConsumedSeconds == 99 {
			t.Error("Expected unchanged update not to be persisted")
		}
	})

	t.Run("UpdateFuncError", func(t *testing.T) {
		backend := newBackend(t)
		sentinel := errors.New("boom")

		_, err := backend.Update(context.Background(), "user-3", func(rec *limits.UsageRecord) (bool, error) {
			return false, sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Errorf("Expected sentinel error, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()
		var ok bool

		if _, err := backend.Update(ctx, "user-4", debitFn(time.Now(), 1800, 5, &ok)); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if err := backend.Delete(ctx, "user-4"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := backend.Delete(ctx, "user-4"); err != nil {
			t.Fatalf("Second delete failed: %v", err)
		}

		rec, err := backend.Load(ctx, "user-4")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if rec != nil {
			t.Errorf("Expected record to be deleted, got %+v", rec)
		}
	})

	t.Run("ListAndCleanup", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()
		now := time.Now()
		var ok bool

		// Windows end at old+1h and now+1h respectively.
		old := now.Add(-48 * time.Hour)
		if _, err := backend.Update(ctx, "stale", debitFn(old, 1800, 5, &ok)); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if _, err := backend.Update(ctx, "fresh", debitFn(now, 1800, 5, &ok)); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		records, err := backend.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("Expected 2 records, got %d", len(records))
		}

		deleted, err := backend.Cleanup(ctx, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("Cleanup failed: %v", err)
		}
		if deleted != 1 {
			t.Errorf("Expected 1 deleted record, got %d", deleted)
		}

		if rec, _ := backend.Load(ctx, "stale"); rec != nil {
			t.Error("Expected stale record to be removed")
		}
		if rec, _ := backend.Load(ctx, "fresh"); rec == nil {
			t.Error("Expected fresh record to remain")
		}
	})

	t.Run("NoDoubleSpend", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()
		now := time.Now()

		const (
			workers = 20
			seconds = 100
			max     = 1000
		)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int64
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				var ok bool
				if _, err := backend.Update(ctx, "contended", debitFn(now, max, seconds, &ok)); err != nil {
					t.Errorf("Update failed: %v", err)
					return
				}
				if ok {
					mu.Lock()
					accepted += seconds
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if accepted != max {
			t.Errorf("Expected exactly %d accepted seconds, got %d", max, accepted)
		}

		rec, err := backend.Load(ctx, "contended")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if rec.ConsumedSeconds != max {
			t.Errorf("Expected stored consumption %d, got %d", max, rec.ConsumedSeconds)
		}
		if rec.RequestCount != max/seconds {
			t.Errorf("Expected %d requests, got %d", max/seconds, rec.RequestCount)
		}
	})

	t.Run("IndependentUsers", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()
		now := time.Now()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var ok bool
				userID := fmt.Sprintf("user-%d", i)
				if _, err := backend.Update(ctx, userID, debitFn(now, 1800, int64(i+1), &ok)); err != nil {
					t.Errorf("Update failed: %v", err)
				}
			}(i)
		}
		wg.Wait()

		for i := 0; i < 10; i++ {
			rec, err := backend.Load(ctx, fmt.Sprintf("user-%d", i))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if rec == nil || rec.ConsumedSeconds != int64(i+1) {
				t.Errorf("user-%d: expected %d seconds, got %+v", i, i+1, rec)
			}
		}
	})

	t.Run("Validation", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()

		if _, err := backend.Load(ctx, ""); !errors.Is(err, ErrEmptyUserID) {
			t.Errorf("Load: expected ErrEmptyUserID, got %v", err)
		}
		if _, err := backend.Update(ctx, "", func(*limits.UsageRecord) (bool, error) { return false, nil }); !errors.Is(err, ErrEmptyUserID) {
			t.Errorf("Update: expected ErrEmptyUserID, got %v", err)
		}
		if _, err := backend.Update(ctx, "user", nil); !errors.Is(err, ErrNilUpdate) {
			t.Errorf("Update: expected ErrNilUpdate, got %v", err)
		}
		if err := backend.Delete(ctx, ""); !errors.Is(err, ErrEmptyUserID) {
			t.Errorf("Delete: expected ErrEmptyUserID, got %v", err)
		}
	})
}

// TestMemoryBackend runs the shared backend contract against memory storage.
func TestMemoryBackend(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend {
		backend := NewMemoryBackend()
		t.Cleanup(func() { backend.Close() })
		return backend
	})
}

// TestMemoryBackend_Closed tests that a closed backend rejects operations.
func TestMemoryBackend_Closed(t *testing.T) {
	backend := NewMemoryBackend()
	backend.Close()

	ctx := context.Background()
	if _, err := backend.Load(ctx, "user"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Load, got %v", err)
	}
	if err := backend.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Ping, got %v", err)
	}
}

// TestMemoryBackend_CleanupDropsEmptyEntries tests that entries created by
// unchanged updates do not accumulate.
func TestMemoryBackend_CleanupDropsEmptyEntries(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		backend.Update(ctx, fmt.Sprintf("peek-%d", i), func(*limits.UsageRecord) (bool, error) {
			return false, nil
		})
	}
	if backend.Len() != 5 {
		t.Fatalf("Expected 5 entries, got %d", backend.Len())
	}

	deleted, err := backend.Cleanup(ctx, time.Now())
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected 0 records counted, got %d", deleted)
	}
	if backend.Len() != 0 {
		t.Errorf("Expected empty entries to be dropped, got %d", backend.Len())
	}
}

// TestOpen tests backend selection by name.
func TestOpen(t *testing.T) {
	ctx := context.Background()

	backend, err := Open(ctx, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if backend.Name() != BackendMemory {
		t.Errorf("Expected memory backend by default, got %s", backend.Name())
	}
	backend.Close()

	if _, err := Open(ctx, Options{Backend: "etcd"}); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func BenchmarkMemoryBackend_Update(b *testing.B) {
	backend := NewMemoryBackend()
	defer backend.Close()

	ctx := context.Background()
	now := time.Now()
	var ok bool

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		backend.Update(ctx, "bench", debitFn(now, 1<<40, 1, &ok))
	}
}
