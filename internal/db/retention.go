package db

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/pax.report/internal/monitoring"
	"github.com/banshee-data/pax.report/internal/timeutil"
)

const (
	// DefaultRetention keeps a month of epoch reports, which at one
	// report a minute is well under 50k rows.
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultSweepInterval is how often the worker checks for
	// expired rows between housekeeping nudges.
	DefaultSweepInterval = time.Hour
)

// RetentionWorker deletes journal rows older than the retention
// window. It sweeps on its own interval and whenever the counting
// engine nudges it through Housekeep.
type RetentionWorker struct {
	journal  *Journal
	maxAge   time.Duration
	interval time.Duration
	clock    timeutil.Clock

	nudge   chan struct{}
	sweeps  atomic.Uint64
	removed atomic.Uint64
}

// NewRetentionWorker creates a sweeper for journal. Zero maxAge or
// interval and a nil clock select the defaults.
func NewRetentionWorker(journal *Journal, maxAge, interval time.Duration, clock timeutil.Clock) *RetentionWorker {
	if maxAge <= 0 {
		maxAge = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RetentionWorker{
		journal:  journal,
		maxAge:   maxAge,
		interval: interval,
		clock:    clock,
		nudge:    make(chan struct{}, 1),
	}
}

// Housekeep requests a sweep without waiting for the next interval.
// It never blocks, so the engine can call it from its own goroutine.
func (w *RetentionWorker) Housekeep() {
	select {
	case w.nudge <- struct{}{}:
	default:
	}
}

// Sweeps returns how many sweeps have run.
func (w *RetentionWorker) Sweeps() uint64 { return w.sweeps.Load() }

// Removed returns the total rows deleted across all sweeps.
func (w *RetentionWorker) Removed() uint64 { return w.removed.Load() }

// Run sweeps until ctx is cancelled. One sweep happens immediately so
// a sensor that was powered off for a while trims its backlog at boot.
func (w *RetentionWorker) Run(ctx context.Context) error {
	if w.journal == nil {
		return fmt.Errorf("retention: no journal")
	}
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			w.sweep()
		case <-w.nudge:
			w.sweep()
		}
	}
}

func (w *RetentionWorker) sweep() {
	cutoff := w.clock.Now().Add(-w.maxAge)
	removed, err := w.journal.PruneBefore(cutoff)
	if err != nil {
		monitoring.Logf("db: retention sweep: %v", err)
		return
	}
	w.sweeps.Add(1)
	if removed > 0 {
		w.removed.Add(uint64(removed))
		monitoring.Logf("db: retention removed %d reports older than %s", removed, cutoff.UTC().Format(time.RFC3339))
	}
}
