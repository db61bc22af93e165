package uplink

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/pax.report/internal/pax"
)

// FrameVersion identifies the payload layout. Decoders on the network
// side key on it before reading any field.
const FrameVersion = 1

// FrameSize is the fixed wire width of a report frame.
const FrameSize = 21

// Frame is the over-the-air form of one report. Radio budgets are
// tight on LoRaWAN, so every field is packed little-endian at a fixed
// offset and counts are clamped to 16 bits.
//
//	off len field
//	  0   1 version
//	  1   8 epoch id
//	  9   4 epoch start, unix seconds
//	 13   2 epoch length, seconds
//	 15   2 wifi count
//	 17   2 ble count
//	 19   2 proximity count
type Frame struct {
	Version   uint8
	EpochID   uint64
	Start     uint32
	Seconds   uint16
	Wifi      uint16
	BLE       uint16
	Proximity uint16
}

// FrameFromReport packs a report, clamping counts and the epoch length
// to their field widths.
func FrameFromReport(r pax.Report) Frame {
	seconds := int64(0)
	if r.End.After(r.Start) {
		seconds = int64(r.End.Sub(r.Start).Seconds())
	}
	return Frame{
		Version:   FrameVersion,
		EpochID:   r.EpochID,
		Start:     clampU32(r.Start.Unix()),
		Seconds:   clampU16(uint64(seconds)),
		Wifi:      clampU16(uint64(r.Counts.Wifi)),
		BLE:       clampU16(uint64(r.Counts.BLE)),
		Proximity: clampU16(uint64(r.Counts.Proximity)),
	}
}

func (f Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FrameSize)
	buf[0] = f.Version
	binary.LittleEndian.PutUint64(buf[1:], f.EpochID)
	binary.LittleEndian.PutUint32(buf[9:], f.Start)
	binary.LittleEndian.PutUint16(buf[13:], f.Seconds)
	binary.LittleEndian.PutUint16(buf[15:], f.Wifi)
	binary.LittleEndian.PutUint16(buf[17:], f.BLE)
	binary.LittleEndian.PutUint16(buf[19:], f.Proximity)
	return buf, nil
}

func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) != FrameSize {
		return fmt.Errorf("uplink: frame is %d bytes, want %d", len(data), FrameSize)
	}
	if data[0] != FrameVersion {
		return fmt.Errorf("uplink: unknown frame version %d", data[0])
	}
	f.Version = data[0]
	f.EpochID = binary.LittleEndian.Uint64(data[1:])
	f.Start = binary.LittleEndian.Uint32(data[9:])
	f.Seconds = binary.LittleEndian.Uint16(data[13:])
	f.Wifi = binary.LittleEndian.Uint16(data[15:])
	f.BLE = binary.LittleEndian.Uint16(data[17:])
	f.Proximity = binary.LittleEndian.Uint16(data[19:])
	return nil
}

func clampU16(v uint64) uint16 {
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

func clampU32(v int64) uint32 {
	switch {
	case v < 0:
		return 0
	case v > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(v)
}
