//go:build pcap
// +build pcap

package wifi

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/pax.report/internal/monitoring"
)

const defaultSnapLen = 256

func (s *Sniffer) capture(ctx context.Context) error {
	snaplen := s.SnapLen
	if snaplen <= 0 {
		snaplen = defaultSnapLen
	}
	handle, err := pcap.OpenLive(s.Interface, int32(snaplen), true, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("wifi: open %s: %w", s.Interface, err)
	}
	defer handle.Close()

	// Filter in the kernel so the process only wakes for management
	// traffic. Data and control frames vastly outnumber probes on a
	// busy channel.
	filter := "type mgt subtype probe-req"
	if s.Parser.Promiscuous {
		filter = "type mgt"
	}
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("wifi: set filter %q on %s: %w", filter, s.Interface, err)
	}

	monitoring.Logf("wifi: capturing on %s (snaplen %d, filter %q)", s.Interface, snaplen, filter)

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	source.NoCopy = true

	var frames, sightings, dropped uint64
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("wifi: capture on %s stopped (%d frames, %d sightings, %d dropped)",
				s.Interface, frames, sightings, dropped)
			return ctx.Err()
		case pkt, ok := <-source.Packets():
			if !ok || pkt == nil {
				return errors.New("wifi: capture source closed")
			}
			frames++
			sighting, ok := s.Parser.FromPacket(pkt)
			if !ok {
				continue
			}
			sightings++
			if !s.Queue.Offer(sighting) {
				dropped++
			}
		}
	}
}
