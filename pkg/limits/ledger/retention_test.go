package ledger

import (
	"context"
	"testing"
	"time"
)

// TestScheduler_RunOnce tests a manual pruning pass.
func TestScheduler_RunOnce(t *testing.T) {
	clock := newManualClock()
	l, backend := newTestLedger(t, clock)

	seed(t, backend, "old", clock.Now().Add(-60*24*time.Hour), 10)
	seed(t, backend, "recent", clock.Now().Add(-2*24*time.Hour), 10)

	s := NewScheduler(l, RetentionConfig{Schedule: "0 3 * * *", MaxAge: 30 * 24 * time.Hour})
	if deleted := s.RunOnce(context.Background()); deleted != 1 {
		t.Errorf("Expected 1 deleted record, got %d", deleted)
	}
}

// TestScheduler_Start tests schedule validation and lifecycle.
func TestScheduler_Start(t *testing.T) {
	l, _ := newTestLedger(t, newManualClock())

	tests := []struct {
		name        string
		config      RetentionConfig
		wantErr     bool
		wantRunning bool
	}{
		{"disabled", RetentionConfig{}, false, false},
		{"valid", RetentionConfig{Schedule: "0 */6 * * *", MaxAge: time.Hour}, false, true},
		{"invalid cron", RetentionConfig{Schedule: "every day", MaxAge: time.Hour}, true, false},
		{"missing max age", RetentionConfig{Schedule: "0 3 * * *"}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			s := NewScheduler(l, tt.config)
			err := s.Start(ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Start() error = %v, wantErr %v", err, tt.wantErr)
			}
			if s.IsRunning() != tt.wantRunning {
				t.Errorf("Expected running=%v, got %v", tt.wantRunning, s.IsRunning())
			}
			if tt.wantRunning {
				if s.NextRun() == nil {
					t.Error("Expected next run to be scheduled")
				}
				s.Stop()
				if s.IsRunning() {
					t.Error("Expected scheduler to stop")
				}
			}
		})
	}
}
