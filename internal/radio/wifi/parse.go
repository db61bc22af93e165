package wifi

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/banshee-data/pax.report/internal/pax"
)

// Parser extracts sightings from radiotap-encapsulated 802.11 frames.
// The zero value counts probe requests only.
type Parser struct {
	// Promiscuous accepts every management frame with a transmitter
	// address instead of probe requests alone. This trades accuracy
	// for volume: beacons and probe responses are mostly fixed
	// infrastructure, not passers-by.
	Promiscuous bool
}

// Parse decodes one raw frame. ok is false when the frame is not a
// countable management frame, whether malformed or merely filtered.
func (p Parser) Parse(data []byte) (pax.RawSighting, bool) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeRadioTap, gopacket.NoCopy)
	return p.FromPacket(pkt)
}

// FromPacket is Parse for an already-decoded packet, so the capture
// loop does not pay for a second decode.
func (p Parser) FromPacket(pkt gopacket.Packet) (pax.RawSighting, bool) {
	rtLayer := pkt.Layer(layers.LayerTypeRadioTap)
	dotLayer := pkt.Layer(layers.LayerTypeDot11)
	if rtLayer == nil || dotLayer == nil {
		return pax.RawSighting{}, false
	}
	rt := rtLayer.(*layers.RadioTap)
	dot := dotLayer.(*layers.Dot11)

	if dot.Type.MainType() != layers.Dot11TypeMgmt {
		return pax.RawSighting{}, false
	}
	if !p.Promiscuous && dot.Type != layers.Dot11TypeMgmtProbeReq {
		return pax.RawSighting{}, false
	}
	// Address2 is the transmitter. Control frames and truncated
	// headers leave it short.
	if len(dot.Address2) != 6 {
		return pax.RawSighting{}, false
	}

	s := pax.RawSighting{
		RSSI: rt.DBMAntennaSignal,
		Kind: pax.SourceWifi,
	}
	copy(s.Addr[:], dot.Address2)
	return s, true
}
