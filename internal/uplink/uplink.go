// Package uplink ships epoch reports over a LoRaWAN modem. The
// counter hands reports to a small bounded queue and never waits on
// the radio; a worker drains the queue, packs each report into a fixed
// frame and drives the modem with busy retries.
package uplink

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/pax.report/internal/monitoring"
	"github.com/banshee-data/pax.report/internal/pax"
	"github.com/banshee-data/pax.report/internal/timeutil"
)

// DefaultPort is the LoRaWAN application port reports go out on.
const DefaultPort = 1

// DefaultQueueCapacity bounds reports waiting on the modem. Coverage
// gaps longer than this simply lose the oldest epochs.
const DefaultQueueCapacity = 8

// Queue buffers reports between the counter and the modem worker. It
// is lossy by design: when full, the oldest report is dropped so the
// freshest counts always go out first once coverage returns.
type Queue struct {
	mu       sync.Mutex
	reports  []pax.Report
	capacity int
	dropped  uint64
	signal   chan struct{}
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Publish implements pax.Publisher. It never blocks.
func (q *Queue) Publish(r pax.Report) {
	q.mu.Lock()
	if len(q.reports) >= q.capacity {
		q.reports = q.reports[1:]
		q.dropped++
	}
	q.reports = append(q.reports, r)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (pax.Report, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.reports) == 0 {
		return pax.Report{}, false
	}
	r := q.reports[0]
	q.reports = q.reports[1:]
	return r, true
}

// Len returns the number of reports waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reports)
}

// Dropped returns reports lost to overflow since start.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Worker joins the network and transmits queued reports. Busy
// responses back off exponentially; any other failure drops the
// report so one poisoned frame cannot dam the queue.
type Worker struct {
	Modem Modem
	Queue *Queue
	// Clock drives retry backoff. Nil selects the system clock.
	Clock timeutil.Clock
	// Port is the LoRaWAN application port, DefaultPort when zero.
	Port uint8
	// MaxAttempts bounds busy retries per report, default 4.
	MaxAttempts int
	// Backoff is the initial retry delay, default 2s, doubling per
	// attempt.
	Backoff time.Duration

	sent   atomic.Uint64
	failed atomic.Uint64
}

// Sent returns reports transmitted successfully since start.
func (w *Worker) Sent() uint64 { return w.sent.Load() }

// Failed returns reports abandoned after exhausting retries.
func (w *Worker) Failed() uint64 { return w.failed.Load() }

// Run joins, then delivers until ctx ends. Join failures retry with a
// capped backoff: a sensor outside coverage keeps counting and keeps
// trying.
func (w *Worker) Run(ctx context.Context) error {
	if w.Modem == nil {
		return errors.New("uplink: nil modem")
	}
	if w.Queue == nil {
		return errors.New("uplink: nil queue")
	}
	clock := w.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	port := w.Port
	if port == 0 {
		port = DefaultPort
	}
	attempts := w.MaxAttempts
	if attempts <= 0 {
		attempts = 4
	}
	backoff := w.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	if err := w.join(ctx, clock, backoff); err != nil {
		return err
	}

	for {
		r, ok := w.Queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.Queue.signal:
			}
			continue
		}
		w.deliver(ctx, clock, r, port, attempts, backoff)
	}
}

func (w *Worker) join(ctx context.Context, clock timeutil.Clock, backoff time.Duration) error {
	const maxJoinBackoff = time.Minute
	for {
		err := w.Modem.Join()
		if err == nil {
			monitoring.Logf("uplink: joined network")
			return nil
		}
		monitoring.Logf("uplink: join failed (%v), retrying in %s", err, backoff)
		if err := sleep(ctx, clock, backoff); err != nil {
			return err
		}
		if backoff *= 2; backoff > maxJoinBackoff {
			backoff = maxJoinBackoff
		}
	}
}

func (w *Worker) deliver(ctx context.Context, clock timeutil.Clock, r pax.Report, port uint8, attempts int, backoff time.Duration) {
	frame, err := FrameFromReport(r).MarshalBinary()
	if err != nil {
		w.failed.Add(1)
		monitoring.Logf("uplink: pack report for epoch %d: %v", r.EpochID, err)
		return
	}

	for attempt := 1; ; attempt++ {
		err := w.Modem.Send(frame, port)
		if err == nil {
			w.sent.Add(1)
			monitoring.Debugf("uplink: sent epoch %d (%d bytes)", r.EpochID, len(frame))
			return
		}
		if !errors.Is(err, ErrBusy) || attempt >= attempts {
			w.failed.Add(1)
			monitoring.Logf("uplink: dropping epoch %d after %d attempts: %v", r.EpochID, attempt, err)
			return
		}
		monitoring.Debugf("uplink: modem busy, retrying epoch %d in %s", r.EpochID, backoff)
		if sleep(ctx, clock, backoff) != nil {
			return
		}
		backoff *= 2
	}
}

func sleep(ctx context.Context, clock timeutil.Clock, d time.Duration) error {
	timer := clock.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
