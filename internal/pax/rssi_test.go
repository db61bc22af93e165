package pax

import (
	"math"
	"testing"
)

func TestRSSIReservoirEmpty(t *testing.T) {
	r := NewRSSIReservoir(8)
	if got := r.Summary(); got != (RSSISummary{}) {
		t.Fatalf("empty reservoir summary = %+v, want zero", got)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestRSSIReservoirSummary(t *testing.T) {
	r := NewRSSIReservoir(8)
	r.Observe(-40)
	r.Observe(-60)
	r.Observe(-50)

	s := r.Summary()
	if s.Count != 3 {
		t.Fatalf("Count = %d, want 3", s.Count)
	}
	if s.Mean != -50 {
		t.Errorf("Mean = %v, want -50", s.Mean)
	}
	if math.Abs(s.StdDev-10) > 1e-9 {
		t.Errorf("StdDev = %v, want 10", s.StdDev)
	}
	if s.Median != -50 {
		t.Errorf("Median = %v, want -50", s.Median)
	}
	if s.P10 != -60 {
		t.Errorf("P10 = %v, want -60", s.P10)
	}
	if s.P90 != -40 {
		t.Errorf("P90 = %v, want -40", s.P90)
	}
}

func TestRSSIReservoirSingleReading(t *testing.T) {
	r := NewRSSIReservoir(4)
	r.Observe(-70)
	s := r.Summary()
	if s.Count != 1 || s.Mean != -70 || s.StdDev != 0 {
		t.Fatalf("summary = %+v, want count=1 mean=-70 stddev=0", s)
	}
}

func TestRSSIReservoirWraps(t *testing.T) {
	r := NewRSSIReservoir(4)
	for _, v := range []int8{-10, -20, -30, -40, -50, -60} {
		r.Observe(v)
	}
	if r.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", r.Len())
	}
	s := r.Summary()
	// The ring keeps the four most recent readings.
	if s.Count != 4 || s.Mean != -45 {
		t.Fatalf("summary = %+v, want count=4 mean=-45", s)
	}
}
