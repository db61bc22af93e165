// Package paxtest provides fakes for the counting engine's collaborator
// boundaries, shared across package tests.
package paxtest

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/pax.report/internal/pax"
)

// CapturePublisher implements pax.Publisher, recording every report and
// letting tests block for the next one.
type CapturePublisher struct {
	mu      sync.Mutex
	reports []pax.Report
	ch      chan pax.Report
}

func NewCapturePublisher() *CapturePublisher {
	return &CapturePublisher{ch: make(chan pax.Report, 64)}
}

func (p *CapturePublisher) Publish(r pax.Report) {
	p.mu.Lock()
	p.reports = append(p.reports, r)
	p.mu.Unlock()
	select {
	case p.ch <- r:
	default:
	}
}

// Wait returns the next published report, failing the test after d.
func (p *CapturePublisher) Wait(t *testing.T, d time.Duration) pax.Report {
	t.Helper()
	select {
	case r := <-p.ch:
		return r
	case <-time.After(d):
		t.Fatalf("no report published within %v", d)
		return pax.Report{}
	}
}

// Reports returns a copy of everything published so far.
func (p *CapturePublisher) Reports() []pax.Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pax.Report(nil), p.reports...)
}

// StatusBoard implements pax.Display, retaining the latest refresh.
type StatusBoard struct {
	mu        sync.Mutex
	last      pax.LiveStatus
	refreshes int
	ch        chan pax.LiveStatus
}

func NewStatusBoard() *StatusBoard {
	return &StatusBoard{ch: make(chan pax.LiveStatus, 64)}
}

func (b *StatusBoard) Refresh(s pax.LiveStatus) {
	b.mu.Lock()
	b.last = s
	b.refreshes++
	b.mu.Unlock()
	select {
	case b.ch <- s:
	default:
	}
}

// Wait returns the next refresh, failing the test after d.
func (b *StatusBoard) Wait(t *testing.T, d time.Duration) pax.LiveStatus {
	t.Helper()
	select {
	case s := <-b.ch:
		return s
	case <-time.After(d):
		t.Fatalf("no display refresh within %v", d)
		return pax.LiveStatus{}
	}
}

// Last returns the most recent refresh and the total refresh count.
func (b *StatusBoard) Last() (pax.LiveStatus, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.refreshes
}

// SaltSequence returns a SaltSource yielding the given salts in order
// and failing once the sequence is exhausted.
func SaltSequence(salts ...uint32) pax.SaltSource {
	var mu sync.Mutex
	i := 0
	return func() (uint32, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(salts) {
			return 0, errors.New("salt sequence exhausted")
		}
		s := salts[i]
		i++
		return s, nil
	}
}
