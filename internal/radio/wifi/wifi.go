// Package wifi turns a monitor-mode Wi-Fi interface into a sighting
// source: captured management frames are parsed for their transmitter
// address and signal strength and offered to the counting queue. Live
// capture requires the pcap build tag; the default build carries a
// stub so the daemon still runs with the Wi-Fi radio disabled.
package wifi

import (
	"context"
	"errors"

	"github.com/banshee-data/pax.report/internal/pax"
)

// Sniffer owns the live capture loop for one interface. The interface
// must already be in monitor mode; channel tuning is the Hopper's job.
type Sniffer struct {
	// Interface is the monitor-mode device, e.g. "wlan1mon".
	Interface string
	// SnapLen bounds bytes captured per frame. Zero selects 256, which
	// covers radiotap plus the management header.
	SnapLen int
	Parser  Parser
	Queue   *pax.SightingQueue
}

// Run captures until ctx ends. It returns an error immediately when
// the build has no capture support or the interface cannot be opened.
func (s *Sniffer) Run(ctx context.Context) error {
	if s.Queue == nil {
		return errors.New("wifi: nil sighting queue")
	}
	if s.Interface == "" {
		return errors.New("wifi: no capture interface configured")
	}
	return s.capture(ctx)
}
