package indicator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/voicequota/pkg/api/types"
)

// DefaultPollInterval is how often the snapshot is refetched.
const DefaultPollInterval = 30 * time.Second

// Fetcher returns the current usage snapshot from the server.
type Fetcher interface {
	Usage(ctx context.Context) (*types.UsageResponse, error)
}

// View is what the indicator renders: the last good snapshot and the
// outcome of the most recent fetch.
type View struct {
	Snapshot  *types.UsageResponse
	FetchedAt time.Time

	// Stale is set when the latest fetch failed and Snapshot is older.
	Stale bool
	Err   error
}

// Poller refetches the snapshot on an interval and keeps the last one that
// succeeded.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.RWMutex
	view View
	// version counts stored snapshots so a slow fetch cannot overwrite a
	// newer one.
	version uint64
}

// NewPoller creates a Poller. A non-positive interval uses DefaultPollInterval.
func NewPoller(f Fetcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		fetcher:  f,
		interval: interval,
		now:      time.Now,
		logger:   slog.Default().With("component", "indicator"),
	}
}

// View returns the current view.
func (p *Poller) View() View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.view
}

// Refresh fetches once. On error the previous snapshot is kept, and a
// snapshot stored while the fetch was in flight wins over its result.
func (p *Poller) Refresh(ctx context.Context) View {
	p.mu.RLock()
	started := p.version
	p.mu.RUnlock()

	snap, err := p.fetcher.Usage(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.version != started {
		return p.view
	}
	if err != nil {
		p.logger.Debug("usage refresh failed, keeping last snapshot", "error", err)
		p.view.Err = err
		p.view.Stale = p.view.Snapshot != nil
		return p.view
	}
	p.view = View{Snapshot: snap, FetchedAt: p.now()}
	p.version++
	return p.view
}

// Update installs a snapshot received out of band, such as the usage block
// of a transcription response.
func (p *Poller) Update(snap *types.UsageResponse) {
	if snap == nil {
		return
	}
	p.mu.Lock()
	p.view = View{Snapshot: snap, FetchedAt: p.now()}
	p.version++
	p.mu.Unlock()
}

// Run refreshes immediately and then on every interval until ctx is done,
// passing each view to onUpdate.
func (p *Poller) Run(ctx context.Context, onUpdate func(View)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		v := p.Refresh(ctx)
		if onUpdate != nil {
			onUpdate(v)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
