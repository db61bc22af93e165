// Package monitor is the HTTP surface of the sensor: a status page,
// JSON APIs over the live engine state and the report journal, chart
// renderings, and an SSE tail of finalized reports.
package monitor

import (
	"sync"

	"github.com/banshee-data/pax.report/internal/pax"
)

// Board stores the latest engine snapshot for the HTTP handlers. The
// engine pushes one refresh per report epoch and one per housekeeping
// tick; handlers read whatever is current. Refresh never blocks.
type Board struct {
	mu        sync.Mutex
	status    pax.LiveStatus
	refreshed bool
	refreshes uint64
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{}
}

// Refresh replaces the displayed snapshot.
func (b *Board) Refresh(s pax.LiveStatus) {
	b.mu.Lock()
	b.status = s
	b.refreshed = true
	b.refreshes++
	b.mu.Unlock()
}

// Status returns the latest snapshot and whether the engine has
// pushed one yet.
func (b *Board) Status() (pax.LiveStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, b.refreshed
}

// Refreshes returns how many snapshots the board has received.
func (b *Board) Refreshes() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshes
}
