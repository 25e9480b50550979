// Package progress tracks crawl run counters and reports them
// periodically while the run is in flight.
package progress

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Snapshot is a point-in-time view of the run counters.
type Snapshot struct {
	State      string
	Discovered int64
	Processed  int64
	Succeeded  int64
	Failed     int64
	Images     int64
	Elapsed    time.Duration
}

// Tracker accumulates run counters. All mutators are safe for concurrent
// use by workers.
type Tracker struct {
	logger   *zap.Logger
	interval time.Duration
	started  time.Time

	state      atomic.Value
	discovered atomic.Int64
	processed  atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	images     atomic.Int64
}

// NewTracker builds a tracker reporting every interval. A non-positive
// interval disables periodic reporting but keeps the counters live.
func NewTracker(logger *zap.Logger, interval time.Duration) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{logger: logger, interval: interval, started: time.Now()}
	t.state.Store("")
	return t
}

func (t *Tracker) SetState(state string) { t.state.Store(state) }

func (t *Tracker) State() string {
	s, _ := t.state.Load().(string)
	return s
}

func (t *Tracker) SetDiscovered(n int64) { t.discovered.Store(n) }
func (t *Tracker) AddProcessed()         { t.processed.Add(1) }
func (t *Tracker) AddSucceeded()         { t.succeeded.Add(1) }
func (t *Tracker) AddFailed()            { t.failed.Add(1) }
func (t *Tracker) AddImages(n int64)     { t.images.Add(n) }

func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		State:      t.State(),
		Discovered: t.discovered.Load(),
		Processed:  t.processed.Load(),
		Succeeded:  t.succeeded.Load(),
		Failed:     t.failed.Load(),
		Images:     t.images.Load(),
		Elapsed:    time.Since(t.started).Round(time.Second),
	}
}

// Run reports snapshots on the configured interval until ctx is done.
// It is intended to run in its own goroutine for the life of the crawl.
func (t *Tracker) Run(ctx context.Context) {
	if t.interval <= 0 {
		return
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.log("crawl progress")
		}
	}
}

// LogFinal emits the closing summary once the run has settled.
func (t *Tracker) LogFinal() {
	t.log("crawl finished")
}

func (t *Tracker) log(msg string) {
	snap := t.Snapshot()
	t.logger.Info(msg,
		zap.String("state", snap.State),
		zap.Int64("discovered", snap.Discovered),
		zap.Int64("processed", snap.Processed),
		zap.Int64("succeeded", snap.Succeeded),
		zap.Int64("failed", snap.Failed),
		zap.Int64("images", snap.Images),
		zap.Duration("elapsed", snap.Elapsed),
	)
}
