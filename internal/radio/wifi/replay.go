package wifi

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/pax.report/internal/pax"
)

// ReplayStats summarizes one replayed capture file.
type ReplayStats struct {
	Frames    int `json:"frames"`
	Sightings int `json:"sightings"`
	Dropped   int `json:"dropped"`
}

// Replayer feeds frames from a radiotap capture file through the
// parser into the sighting queue. Reading uses the pure Go pcap
// decoder, so replay works in every build, pcap tag or not.
type Replayer struct {
	Parser Parser
	Queue  *pax.SightingQueue
}

// ReplayFile replays path as fast as the queue accepts it. Dropped
// counts sightings the queue refused, not unreadable frames.
func (r *Replayer) ReplayFile(path string) (ReplayStats, error) {
	return ScanFile(path, r.Parser, func(_ time.Time, s pax.RawSighting) bool {
		return r.Queue.Offer(s)
	})
}

// ScanFile reads a radiotap capture and hands every parsed sighting,
// with its capture timestamp, to fn in file order. fn reports whether
// it kept the sighting; refusals count as dropped. Callers that want
// to reconstruct the capture's timeline use the timestamps to drive a
// virtual clock.
func ScanFile(path string, parser Parser, fn func(time.Time, pax.RawSighting) bool) (ReplayStats, error) {
	var stats ReplayStats

	f, err := os.Open(path)
	if err != nil {
		return stats, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	pr, err := pcapgo.NewReader(f)
	if err != nil {
		return stats, fmt.Errorf("read capture header: %w", err)
	}
	if lt := pr.LinkType(); lt != layers.LinkTypeIEEE80211Radio {
		return stats, fmt.Errorf("capture link type %v, want radiotap", lt)
	}

	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read frame %d: %w", stats.Frames+1, err)
		}
		stats.Frames++
		s, ok := parser.Parse(data)
		if !ok {
			continue
		}
		stats.Sightings++
		if !fn(ci.Timestamp, s) {
			stats.Dropped++
		}
	}
}
