package wifi

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/pax.report/internal/monitoring"
	"github.com/banshee-data/pax.report/internal/timeutil"
)

// DefaultChannels covers the 2.4 GHz band as allowed in all regions.
var DefaultChannels = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

// DefaultHopInterval is the dwell time per channel. Probe requests are
// bursty, so a short dwell samples more of the band per epoch.
const DefaultHopInterval = 500 * time.Millisecond

// ChannelSetter tunes the capture interface to a channel.
type ChannelSetter interface {
	SetChannel(ch int) error
}

// ExecChannelSetter tunes via the iw utility. pcap can read from a
// monitor interface but cannot retune it, so this shells out the same
// way airodump-style tooling does.
type ExecChannelSetter struct {
	Interface string
}

func (e ExecChannelSetter) SetChannel(ch int) error {
	out, err := exec.Command("iw", "dev", e.Interface, "set", "channel", strconv.Itoa(ch)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("iw dev %s set channel %d: %v (%s)", e.Interface, ch, err, bytes.TrimSpace(out))
	}
	return nil
}

// Hopper cycles the capture interface through a channel list on a
// fixed cadence so a single radio samples the whole band.
type Hopper struct {
	setter   ChannelSetter
	channels []int
	interval time.Duration
	clock    timeutil.Clock

	mu   sync.Mutex
	idx  int
	hops uint64
}

// NewHopper builds a hopper over setter. A nil or empty channel list
// selects DefaultChannels, a non-positive interval DefaultHopInterval,
// and a nil clock the system clock.
func NewHopper(setter ChannelSetter, channels []int, interval time.Duration, clock timeutil.Clock) *Hopper {
	if len(channels) == 0 {
		channels = DefaultChannels
	}
	if interval <= 0 {
		interval = DefaultHopInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Hopper{
		setter:   setter,
		channels: append([]int(nil), channels...),
		interval: interval,
		clock:    clock,
	}
}

// Hop advances to the next channel in the list, wrapping at the end.
// A failed retune is logged and skipped; the next hop tries the next
// channel rather than stalling the rotation.
func (h *Hopper) Hop() {
	h.mu.Lock()
	h.idx = (h.idx + 1) % len(h.channels)
	ch := h.channels[h.idx]
	h.hops++
	h.mu.Unlock()

	if err := h.setter.SetChannel(ch); err != nil {
		monitoring.Logf("wifi: %v", err)
	}
}

// Current returns the channel most recently selected.
func (h *Hopper) Current() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channels[h.idx]
}

// Hops returns the number of channel changes since start.
func (h *Hopper) Hops() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hops
}

// Run tunes to the first channel, then hops on the configured cadence
// until ctx ends.
func (h *Hopper) Run(ctx context.Context) error {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()
	if err := h.setter.SetChannel(h.Current()); err != nil {
		monitoring.Logf("wifi: %v", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			h.Hop()
		}
	}
}
