package pax

import "time"

// Report is one finalized counting epoch, handed off at rollover to the
// uplink and the report journal.
type Report struct {
	EpochID uint64    `json:"epoch_id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Counts  Counters  `json:"counts"`
}

// LiveStatus is a point-in-time view of the engine, pushed to the
// display board on refresh ticks and served by the monitoring API.
type LiveStatus struct {
	EpochID    uint64      `json:"epoch_id"`
	EpochStart time.Time   `json:"epoch_start"`
	Now        time.Time   `json:"now"`
	Counts     Counters    `json:"counts"`
	LastCounts Counters    `json:"last_counts"`
	LastReport time.Time   `json:"last_report"`
	QueueLen   int         `json:"queue_len"`
	QueueCap   int         `json:"queue_cap"`
	DedupLen   int         `json:"dedup_len"`
	DedupCap   int         `json:"dedup_cap"`
	RSSI       RSSISummary `json:"rssi"`
	Diag       Diagnostics `json:"diag"`
}

// Publisher receives one finalized report per epoch. Implementations
// own all queuing and retry; Publish must return without blocking.
type Publisher interface {
	Publish(Report)
}

// Publishers fans one report out to each publisher in order.
type Publishers []Publisher

// Publish implements Publisher.
func (ps Publishers) Publish(r Report) {
	for _, p := range ps {
		p.Publish(r)
	}
}

// Display receives one-way refresh ticks carrying the latest engine
// state, once per report epoch and once per housekeeping cadence. The
// engine does not wait for acknowledgment; implementations must not
// block.
type Display interface {
	Refresh(LiveStatus)
}

// Housekeeper is periodic maintenance work driven from the engine's
// housekeeping cadence, such as journal retention sweeps. It runs on
// the engine goroutine and must stay quick.
type Housekeeper interface {
	Housekeep()
}
