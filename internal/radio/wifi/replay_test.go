package wifi

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/pax.report/internal/pax"
)

func writeCapture(t *testing.T, linkType layers.LinkType, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create capture: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(256, linkType); err != nil {
		t.Fatalf("write header: %v", err)
	}
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := w.WritePacket(ci, frame); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}
	return path
}

func TestReplayFile(t *testing.T) {
	addrA := [6]byte{0x02, 0xaa, 0xaa, 0xaa, 0xaa, 0x01}
	addrB := [6]byte{0x02, 0xbb, 0xbb, 0xbb, 0xbb, 0x02}
	path := writeCapture(t, layers.LinkTypeIEEE80211Radio,
		probeRequest(addrA, -40),
		probeRequest(addrA, -42),
		probeRequest(addrB, -70),
		beaconFrame(addrA, -30),
		dataFrame(addrB, -50),
	)

	q := pax.NewSightingQueue(16)
	r := &Replayer{Queue: q}
	stats, err := r.ReplayFile(path)
	if err != nil {
		t.Fatalf("ReplayFile: %v", err)
	}
	if stats.Frames != 5 {
		t.Errorf("frames = %d, want 5", stats.Frames)
	}
	if stats.Sightings != 3 {
		t.Errorf("sightings = %d, want 3", stats.Sightings)
	}
	if stats.Dropped != 0 {
		t.Errorf("dropped = %d, want 0", stats.Dropped)
	}

	var got []pax.RawSighting
	q.DrainAll(func(s pax.RawSighting) { got = append(got, s) })
	if len(got) != 3 {
		t.Fatalf("queued sightings = %d, want 3", len(got))
	}
	if got[0].Addr != addrA || got[2].Addr != addrB {
		t.Errorf("sighting order wrong: %x, %x", got[0].Addr, got[2].Addr)
	}
	if got[2].RSSI != -70 {
		t.Errorf("rssi = %d, want -70", got[2].RSSI)
	}
}

func TestScanFileTimestamps(t *testing.T) {
	addrA := [6]byte{0x02, 0xaa, 0xaa, 0xaa, 0xaa, 0x01}
	addrB := [6]byte{0x02, 0xbb, 0xbb, 0xbb, 0xbb, 0x02}
	path := writeCapture(t, layers.LinkTypeIEEE80211Radio,
		probeRequest(addrA, -40),
		beaconFrame(addrA, -30),
		probeRequest(addrB, -70),
	)

	type timed struct {
		ts   time.Time
		addr [6]byte
	}
	var got []timed
	stats, err := ScanFile(path, Parser{}, func(ts time.Time, s pax.RawSighting) bool {
		got = append(got, timed{ts, s.Addr})
		return true
	})
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if stats.Frames != 3 || stats.Sightings != 2 || stats.Dropped != 0 {
		t.Errorf("stats = %+v, want 3 frames, 2 sightings, 0 dropped", stats)
	}
	if len(got) != 2 {
		t.Fatalf("callback sightings = %d, want 2", len(got))
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !got[0].ts.Equal(base) {
		t.Errorf("first timestamp = %v, want %v", got[0].ts, base)
	}
	// The beacon is frame 1, so the second probe carries the 2ms stamp.
	if want := base.Add(2 * time.Millisecond); !got[1].ts.Equal(want) {
		t.Errorf("second timestamp = %v, want %v", got[1].ts, want)
	}
	if got[1].addr != addrB {
		t.Errorf("second addr = %x, want %x", got[1].addr, addrB)
	}
}

func TestScanFileRefusal(t *testing.T) {
	addr := [6]byte{0x02, 0xaa, 0xaa, 0xaa, 0xaa, 0x01}
	path := writeCapture(t, layers.LinkTypeIEEE80211Radio,
		probeRequest(addr, -40),
		probeRequest(addr, -41),
	)

	stats, err := ScanFile(path, Parser{}, func(time.Time, pax.RawSighting) bool {
		return false
	})
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if stats.Dropped != 2 {
		t.Errorf("dropped = %d, want 2", stats.Dropped)
	}
}

func TestReplayQueueFull(t *testing.T) {
	addr := [6]byte{0x02, 0xaa, 0xaa, 0xaa, 0xaa, 0x01}
	path := writeCapture(t, layers.LinkTypeIEEE80211Radio,
		probeRequest(addr, -40),
		probeRequest(addr, -41),
		probeRequest(addr, -42),
	)

	q := pax.NewSightingQueue(1)
	r := &Replayer{Queue: q}
	stats, err := r.ReplayFile(path)
	if err != nil {
		t.Fatalf("ReplayFile: %v", err)
	}
	if stats.Sightings != 3 {
		t.Errorf("sightings = %d, want 3", stats.Sightings)
	}
	if stats.Dropped != 2 {
		t.Errorf("dropped = %d, want 2", stats.Dropped)
	}
	if q.Len() != 1 {
		t.Errorf("queue length = %d, want 1", q.Len())
	}
}

func TestReplayWrongLinkType(t *testing.T) {
	addr := [6]byte{0x02, 0xaa, 0xaa, 0xaa, 0xaa, 0x01}
	path := writeCapture(t, layers.LinkTypeEthernet, probeRequest(addr, -40))

	r := &Replayer{Queue: pax.NewSightingQueue(4)}
	_, err := r.ReplayFile(path)
	if err == nil || !strings.Contains(err.Error(), "link type") {
		t.Fatalf("ReplayFile error = %v, want link type mismatch", err)
	}
}

func TestReplayMissingFile(t *testing.T) {
	r := &Replayer{Queue: pax.NewSightingQueue(4)}
	if _, err := r.ReplayFile(filepath.Join(t.TempDir(), "nope.pcap")); err == nil {
		t.Fatal("ReplayFile succeeded on missing file")
	}
}
