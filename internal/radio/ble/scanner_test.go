package ble

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/banshee-data/pax.report/internal/pax"
)

type fakeAdapter struct {
	enableErr error
	scanErrs  []error
	results   []bluetooth.ScanResult

	mu    sync.Mutex
	scans int
	stop  chan struct{}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{stop: make(chan struct{}, 4)}
}

func (f *fakeAdapter) Enable() error { return f.enableErr }

func (f *fakeAdapter) Scan(cb func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	f.mu.Lock()
	n := f.scans
	f.scans++
	var err error
	if n < len(f.scanErrs) {
		err = f.scanErrs[n]
	}
	results := f.results
	f.mu.Unlock()

	if err != nil {
		return err
	}
	for _, r := range results {
		cb(nil, r)
	}
	<-f.stop
	return nil
}

func (f *fakeAdapter) StopScan() error {
	f.stop <- struct{}{}
	return nil
}

func (f *fakeAdapter) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

func scanResult(t *testing.T, addr string, rssi int16, payload fakePayload) bluetooth.ScanResult {
	t.Helper()
	mac, err := bluetooth.ParseMAC(addr)
	if err != nil {
		t.Fatalf("parse %q: %v", addr, err)
	}
	return bluetooth.ScanResult{
		Address:              bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}},
		RSSI:                 rssi,
		AdvertisementPayload: payload,
	}
}

func waitQueueLen(t *testing.T, q *pax.SightingQueue, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for q.Len() < want {
		if time.Now().After(deadline) {
			t.Fatalf("queue length %d, want %d", q.Len(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScannerDeliversSightings(t *testing.T) {
	fake := newFakeAdapter()
	fake.results = []bluetooth.ScanResult{
		scanResult(t, "02:11:22:33:44:55", -55, fakePayload{}),
		scanResult(t, "02:66:77:88:99:AA", -80, fakePayload{
			svc: []bluetooth.ServiceDataElement{{UUID: ExposureServiceUUID, Data: []byte{0x01}}},
		}),
	}

	q := pax.NewSightingQueue(16)
	s := &Scanner{Adapter: fake, Queue: q}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitQueueLen(t, q, 2)
	var got []pax.RawSighting
	q.DrainAll(func(s pax.RawSighting) { got = append(got, s) })
	if got[0].Kind != pax.SourceBLE || got[1].Kind != pax.SourceBLEProximity {
		t.Errorf("kinds = %v, %v; want BLE then proximity", got[0].Kind, got[1].Kind)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestScannerMACFilterDropsRandomAddresses(t *testing.T) {
	random := scanResult(t, "7B:64:2F:09:C6:51", -60, fakePayload{})
	random.Address.SetRandom(true)
	public := scanResult(t, "C4:7D:CC:11:22:33", -55, fakePayload{})

	fake := newFakeAdapter()
	fake.results = []bluetooth.ScanResult{random, public}

	q := pax.NewSightingQueue(16)
	s := &Scanner{Adapter: fake, Queue: q, MACFilter: true}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitQueueLen(t, q, 1)
	var got []pax.RawSighting
	q.DrainAll(func(s pax.RawSighting) { got = append(got, s) })
	want := [6]byte{0xC4, 0x7D, 0xCC, 0x11, 0x22, 0x33}
	if len(got) != 1 || got[0].Addr != want {
		t.Errorf("sightings = %v, want only the public address %x", got, want)
	}
	if s.filtered.Load() != 1 {
		t.Errorf("filtered = %d, want 1", s.filtered.Load())
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestScannerCountsRandomAddressesWithoutFilter(t *testing.T) {
	random := scanResult(t, "7B:64:2F:09:C6:51", -60, fakePayload{})
	random.Address.SetRandom(true)

	fake := newFakeAdapter()
	fake.results = []bluetooth.ScanResult{random}

	q := pax.NewSightingQueue(16)
	s := &Scanner{Adapter: fake, Queue: q}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitQueueLen(t, q, 1)
	var got []pax.RawSighting
	q.DrainAll(func(s pax.RawSighting) { got = append(got, s) })
	want := [6]byte{0x7B, 0x64, 0x2F, 0x09, 0xC6, 0x51}
	if len(got) != 1 || got[0].Addr != want {
		t.Errorf("sightings = %v, want the random address %x", got, want)
	}
	if s.filtered.Load() != 0 {
		t.Errorf("filtered = %d, want 0 with the filter off", s.filtered.Load())
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestScannerRestartsAfterScanError(t *testing.T) {
	fake := newFakeAdapter()
	fake.scanErrs = []error{errors.New("hci timeout")}
	fake.results = []bluetooth.ScanResult{
		scanResult(t, "02:11:22:33:44:55", -55, fakePayload{}),
	}

	q := pax.NewSightingQueue(16)
	s := &Scanner{Adapter: fake, Queue: q, RestartDelay: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// The first scan fails immediately; the sighting proves the
	// second one started.
	waitQueueLen(t, q, 1)
	if got := fake.scanCount(); got < 2 {
		t.Errorf("scan count = %d, want at least 2", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestScannerEnableFailure(t *testing.T) {
	fake := newFakeAdapter()
	fake.enableErr = errors.New("no adapter")

	s := &Scanner{Adapter: fake, Queue: pax.NewSightingQueue(4)}
	err := s.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "enable adapter") {
		t.Fatalf("Run returned %v, want enable failure", err)
	}
}

func TestScannerNilQueue(t *testing.T) {
	s := &Scanner{Adapter: newFakeAdapter()}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded without a queue")
	}
}
