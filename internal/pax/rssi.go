package pax

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// RSSISummary describes the signal-strength distribution of recently
// accepted sightings, in dBm.
type RSSISummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Median float64 `json:"median"`
	P10    float64 `json:"p10"`
	P90    float64 `json:"p90"`
}

// RSSIReservoir keeps a bounded ring of recent RSSI readings for the
// monitoring surface. The engine writes one reading per accepted
// sighting; readers pull a computed summary. Both paths hold the mutex
// only briefly.
type RSSIReservoir struct {
	mu   sync.Mutex
	ring []float64
	next int
	full bool
}

// NewRSSIReservoir returns a reservoir holding the most recent size
// readings. A size of zero or less selects 512.
func NewRSSIReservoir(size int) *RSSIReservoir {
	if size <= 0 {
		size = 512
	}
	return &RSSIReservoir{ring: make([]float64, size)}
}

// Observe records one signal-strength reading.
func (r *RSSIReservoir) Observe(rssi int8) {
	r.mu.Lock()
	r.ring[r.next] = float64(rssi)
	r.next++
	if r.next == len(r.ring) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

// Len returns the number of buffered readings.
func (r *RSSIReservoir) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.ring)
	}
	return r.next
}

// Summary computes distribution statistics over the buffered readings.
// An empty reservoir yields a zero summary.
func (r *RSSIReservoir) Summary() RSSISummary {
	r.mu.Lock()
	n := r.next
	if r.full {
		n = len(r.ring)
	}
	data := append([]float64(nil), r.ring[:n]...)
	r.mu.Unlock()

	if len(data) == 0 {
		return RSSISummary{}
	}
	sort.Float64s(data)
	mean, std := stat.MeanStdDev(data, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return RSSISummary{
		Count:  len(data),
		Mean:   mean,
		StdDev: std,
		Median: stat.Quantile(0.5, stat.Empirical, data, nil),
		P10:    stat.Quantile(0.1, stat.Empirical, data, nil),
		P90:    stat.Quantile(0.9, stat.Empirical, data, nil),
	}
}
