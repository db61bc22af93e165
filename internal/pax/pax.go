// Package pax implements the passenger-flow counting core: a bounded
// sighting queue fed by radio capture goroutines, a salted hash that
// collapses hardware addresses to anonymized 16-bit keys, a per-epoch
// deduplication set with per-source counters, and the engine goroutine
// that owns all counting state and drives the report, salt and
// housekeeping cadences.
//
// Raw addresses exist only between capture and hashing. The salt
// rotates on a configurable multiple of the report epoch so keys from
// unlinkable epochs cannot be correlated.
package pax

import "time"

// Defaults applied by Config.Validate and NewSightingQueue when the
// corresponding field is zero. Cycle defaults follow the device family
// this sensor descends from: one report per minute, housekeeping every
// 30 seconds.
const (
	DefaultSendCycle     = 60 * time.Second
	DefaultHomeCycle     = 30 * time.Second
	DefaultSaltMultiple  = 1
	DefaultQueueCapacity = 64
	DefaultDedupCapacity = 8192
)
