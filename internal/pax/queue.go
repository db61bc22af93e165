package pax

import "sync/atomic"

// SightingQueue carries raw sightings from the radio capture goroutines
// to the engine. It is the only structure in the core with multiple
// writers; everything downstream is single-owner. Producers call Offer,
// which never blocks; the engine drains on its own schedule. Capacity
// is fixed at construction.
type SightingQueue struct {
	ch    chan RawSighting
	drops atomic.Uint64
}

// NewSightingQueue returns a queue holding up to capacity sightings.
// A capacity of zero or less selects DefaultQueueCapacity.
func NewSightingQueue(capacity int) *SightingQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &SightingQueue{ch: make(chan RawSighting, capacity)}
}

// Offer enqueues s without blocking. When the queue is full the
// sighting is dropped, the drop counter incremented, and false
// returned. Sightings are best-effort telemetry; drops are never
// retried. Safe to call from any goroutine.
func (q *SightingQueue) Offer(s RawSighting) bool {
	select {
	case q.ch <- s:
		return true
	default:
		q.drops.Add(1)
		return false
	}
}

// DrainAll delivers every sighting queued at the time of the call to fn
// in FIFO order and returns how many were delivered. Items offered
// while the drain is running may be left for the next drain. Only the
// engine goroutine calls this.
func (q *SightingQueue) DrainAll(fn func(RawSighting)) int {
	n := len(q.ch)
	for i := 0; i < n; i++ {
		select {
		case s := <-q.ch:
			fn(s)
		default:
			return i
		}
	}
	return n
}

// C exposes the receive side so the engine can select on queue
// readiness alongside its timers. Receiving directly from C counts as
// a drain of one item.
func (q *SightingQueue) C() <-chan RawSighting { return q.ch }

// Len returns the number of sightings currently queued.
func (q *SightingQueue) Len() int { return len(q.ch) }

// Cap returns the fixed queue capacity.
func (q *SightingQueue) Cap() int { return cap(q.ch) }

// Drops returns how many sightings Offer has rejected since boot.
func (q *SightingQueue) Drops() uint64 { return q.drops.Load() }
