// Package ble counts nearby Bluetooth LE devices from their
// advertisement broadcasts. Every advertisement carries a transmitter
// address and signal strength; exposure notification beacons are
// tagged separately so the counting policy can exclude them.
package ble

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/banshee-data/pax.report/internal/monitoring"
	"github.com/banshee-data/pax.report/internal/pax"
	"github.com/banshee-data/pax.report/internal/timeutil"
)

// ExposureServiceUUID is the 16-bit service carried by exposure
// notification beacons. Phones broadcast it with a rotating payload,
// so one person can appear as many addresses per epoch.
var ExposureServiceUUID = bluetooth.New16BitUUID(0xFD6F)

// DefaultRestartDelay spaces scan restarts after the host stack drops
// the scan, so a flapping adapter cannot hot-loop the daemon.
const DefaultRestartDelay = 2 * time.Second

// Adapter is the slice of the Bluetooth host stack the scanner uses.
// *bluetooth.Adapter satisfies it.
type Adapter interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// Scanner feeds BLE advertisements into the sighting queue. Scan runs
// continuously; when the host stack ends it early the scanner restarts
// it after RestartDelay.
type Scanner struct {
	// Adapter defaults to bluetooth.DefaultAdapter.
	Adapter Adapter
	Queue   *pax.SightingQueue
	// Clock drives the restart delay. Nil selects the system clock.
	Clock        timeutil.Clock
	RestartDelay time.Duration
	// MACFilter drops advertisements from random (privacy-rotated)
	// addresses. A phone cycling resolvable private addresses would
	// otherwise count once per rotation.
	MACFilter bool

	adverts  atomic.Uint64
	filtered atomic.Uint64
	skipped  atomic.Uint64
	dropped  atomic.Uint64
}

// Run enables the adapter and scans until ctx ends. Enable failure is
// returned as is: a sensor whose radio will not start should not limp
// along silently.
func (s *Scanner) Run(ctx context.Context) error {
	if s.Queue == nil {
		return errors.New("ble: nil sighting queue")
	}
	adapter := s.Adapter
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	delay := s.RestartDelay
	if delay <= 0 {
		delay = DefaultRestartDelay
	}

	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	monitoring.Logf("ble: scanning for advertisements")

	for {
		done := make(chan error, 1)
		go func() {
			done <- adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
				s.handle(result)
			})
		}()

		select {
		case <-ctx.Done():
			if err := adapter.StopScan(); err != nil {
				monitoring.Logf("ble: stop scan: %v", err)
			}
			<-done
			monitoring.Logf("ble: scanning stopped (%d adverts, %d filtered, %d skipped, %d dropped)",
				s.adverts.Load(), s.filtered.Load(), s.skipped.Load(), s.dropped.Load())
			return ctx.Err()
		case err := <-done:
			monitoring.Logf("ble: scan ended (%v), restarting in %s", err, delay)
			timer := clock.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C():
			}
		}
	}
}

func (s *Scanner) handle(result bluetooth.ScanResult) {
	s.adverts.Add(1)
	if s.MACFilter && result.Address.IsRandom() {
		s.filtered.Add(1)
		return
	}
	sighting, ok := observe(result.Address.String(), result.RSSI, result)
	if !ok {
		s.skipped.Add(1)
		return
	}
	if !s.Queue.Offer(sighting) {
		s.dropped.Add(1)
	}
}
