// Package main provides an offline replay tool for crowd counting.
// It feeds a monitor-mode radiotap capture through the full counting
// pipeline at the capture's own timestamps and reports unique device
// counts per epoch, so field captures can be re-counted under
// different thresholds and cycle lengths without a radio.
//
// Bluetooth does not appear in radiotap captures, so replayed reports
// carry Wi-Fi counts only.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/pax.report/internal/db"
	"github.com/banshee-data/pax.report/internal/monitoring"
	"github.com/banshee-data/pax.report/internal/pax"
	"github.com/banshee-data/pax.report/internal/radio/wifi"
	"github.com/banshee-data/pax.report/internal/timeutil"
)

const (
	// replayQueueCapacity absorbs sighting bursts between epoch
	// boundaries. The engine drains concurrently, so overflow only
	// happens on captures far denser than any live radio.
	replayQueueCapacity = 4096

	// reportTimeout bounds the wait for each epoch report.
	reportTimeout = 10 * time.Second
)

// Config holds configuration for the capture replay.
type Config struct {
	PCAPFile    string
	OutputDir   string
	Cycle       time.Duration
	RSSI        int
	DedupCap    int
	MACFilter   bool
	Promiscuous bool
	DBPath      string
	ExportJSON  bool
	Verbose     bool
}

// ReplayResult holds the results of a capture replay.
type ReplayResult struct {
	PCAPFile         string        `json:"pcap_file"`
	Duration         time.Duration `json:"duration_ns"`
	DurationSecs     float64       `json:"duration_secs"`
	CycleSecs        float64       `json:"cycle_secs"`
	TotalFrames      int           `json:"total_frames"`
	TotalSightings   int           `json:"total_sightings"`
	QueueDropped     int           `json:"queue_dropped"`
	TotalEpochs      int           `json:"total_epochs"`
	Totals           pax.Counters  `json:"totals"`
	PeakEpochID      uint64        `json:"peak_epoch_id,omitempty"`
	PeakCount        uint32        `json:"peak_count,omitempty"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
	Epochs           []EpochExport `json:"epochs,omitempty"`
}

// EpochExport represents one counted epoch for export.
type EpochExport struct {
	EpochID   uint64 `json:"epoch_id"`
	Start     string `json:"start_time"`
	End       string `json:"end_time"`
	Wifi      uint32 `json:"wifi"`
	BLE       uint32 `json:"ble"`
	Proximity uint32 `json:"proximity"`
	Total     uint32 `json:"total"`
}

func main() {
	config := parseFlags()

	if config.PCAPFile == "" {
		fmt.Fprintln(os.Stderr, "Error: PCAP file is required")
		flag.Usage()
		os.Exit(1)
	}

	if _, err := os.Stat(config.PCAPFile); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: PCAP file not found: %s\n", config.PCAPFile)
		os.Exit(1)
	}

	if config.OutputDir != "" {
		if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	monitoring.SetVerbose(config.Verbose)

	result, err := replayCapture(config)
	if err != nil {
		log.Fatalf("Replay failed: %v", err)
	}

	printSummary(result)

	if err := exportResults(config, result); err != nil {
		log.Fatalf("Export failed: %v", err)
	}
}

func parseFlags() Config {
	config := Config{}

	flag.StringVar(&config.PCAPFile, "pcap", "", "Path to radiotap PCAP file (required)")
	flag.StringVar(&config.OutputDir, "output", ".", "Output directory for results")
	flag.DurationVar(&config.Cycle, "cycle", pax.DefaultSendCycle, "Counting epoch length")
	flag.IntVar(&config.RSSI, "rssi", 0, "Drop sightings weaker than this dBm (0 disables)")
	flag.IntVar(&config.DedupCap, "dedup", pax.DefaultDedupCapacity, "Dedup set capacity; new devices stop counting when full")
	flag.BoolVar(&config.MACFilter, "mac-filter", false, "Drop locally administered Wi-Fi addresses")
	flag.BoolVar(&config.Promiscuous, "promiscuous", false, "Count every management frame source, not just probe requests")
	flag.StringVar(&config.DBPath, "db", "", "SQLite journal path (optional, for persistence)")
	flag.BoolVar(&config.ExportJSON, "json", true, "Export full results to JSON")
	flag.BoolVar(&config.Verbose, "v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Capture Replay Tool for Offline Crowd Counting\n\n")
		fmt.Fprintf(os.Stderr, "This tool feeds a monitor-mode capture through the counting pipeline:\n")
		fmt.Fprintf(os.Stderr, "  1. Parse radiotap frames into device sightings\n")
		fmt.Fprintf(os.Stderr, "  2. Replay sightings into the engine at capture timestamps\n")
		fmt.Fprintf(os.Stderr, "  3. Deduplicate devices per epoch via salted hashing\n")
		fmt.Fprintf(os.Stderr, "  4. Report unique device counts for every epoch\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -pcap walkby.pcap\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -pcap walkby.pcap -cycle 30s -rssi -85\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -pcap walkby.pcap -db replay.db -output ./results\n", os.Args[0])
	}

	flag.Parse()
	return config
}

// replayPublisher hands each epoch report to the replay loop. The
// loop receives exactly one report per clock advance, so the blocking
// send enforces lockstep with the engine.
type replayPublisher struct {
	reports chan pax.Report
}

func (p *replayPublisher) Publish(r pax.Report) { p.reports <- r }

// replayDisplay signals refresh ticks so the loop can wait out engine
// startup. Refreshes past the first are dropped.
type replayDisplay struct {
	refreshed chan struct{}
}

func (d *replayDisplay) Refresh(pax.LiveStatus) {
	select {
	case d.refreshed <- struct{}{}:
	default:
	}
}

// timedSighting pairs a parsed sighting with its capture timestamp.
type timedSighting struct {
	at time.Time
	s  pax.RawSighting
}

func replayCapture(config Config) (*ReplayResult, error) {
	startTime := time.Now()

	if config.Cycle <= 0 {
		return nil, fmt.Errorf("cycle must be positive, got %s", config.Cycle)
	}
	if config.RSSI < math.MinInt8 || config.RSSI > 0 {
		return nil, fmt.Errorf("rssi threshold must be negative dBm or 0, got %d", config.RSSI)
	}

	result := &ReplayResult{
		PCAPFile:  config.PCAPFile,
		CycleSecs: config.Cycle.Seconds(),
	}

	// Pass 1: parse the whole capture so the replay loop can pace the
	// engine from a known timeline.
	parser := wifi.Parser{Promiscuous: config.Promiscuous}
	var sightings []timedSighting
	stats, err := wifi.ScanFile(config.PCAPFile, parser, func(ts time.Time, s pax.RawSighting) bool {
		sightings = append(sightings, timedSighting{at: ts, s: s})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan capture: %w", err)
	}
	result.TotalFrames = stats.Frames
	result.TotalSightings = stats.Sightings

	if len(sightings) == 0 {
		result.ProcessingTimeMs = time.Since(startTime).Milliseconds()
		return result, nil
	}

	captureStart := sightings[0].at
	captureEnd := sightings[len(sightings)-1].at
	result.Duration = captureEnd.Sub(captureStart)
	result.DurationSecs = result.Duration.Seconds()

	// Pass 2: drive the engine over virtual time. Each epoch boundary
	// advances the manual clock one cycle and waits for the report, so
	// every sighting lands in the epoch its timestamp belongs to.
	cfg := pax.Config{
		SendCycle:     config.Cycle,
		DedupCap:      config.DedupCap,
		RSSIThreshold: int8(config.RSSI),
		MACFilter:     config.MACFilter,
	}
	clock := timeutil.NewManualClock(captureStart)
	queue := pax.NewSightingQueue(replayQueueCapacity)
	engine, err := pax.NewEngine(cfg, queue, clock)
	if err != nil {
		return nil, fmt.Errorf("configure engine: %w", err)
	}

	pub := &replayPublisher{reports: make(chan pax.Report, 1)}
	display := &replayDisplay{refreshed: make(chan struct{}, 1)}
	engine.Publisher = pub
	engine.Display = display

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(ctx) }()

	// The boot refresh fires after the cycle tickers are armed.
	select {
	case <-display.refreshed:
	case err := <-runErr:
		return nil, fmt.Errorf("engine start: %w", err)
	case <-time.After(reportTimeout):
		return nil, errors.New("timed out waiting for engine start")
	}

	endEpoch := func() (pax.Report, error) {
		clock.Advance(config.Cycle)
		select {
		case rep := <-pub.reports:
			return rep, nil
		case err := <-runErr:
			return pax.Report{}, fmt.Errorf("engine exited mid-replay: %w", err)
		case <-time.After(reportTimeout):
			return pax.Report{}, errors.New("timed out waiting for epoch report")
		}
	}

	var reports []pax.Report
	boundary := captureStart.Add(config.Cycle)
	for _, ts := range sightings {
		for !ts.at.Before(boundary) {
			rep, err := endEpoch()
			if err != nil {
				return nil, err
			}
			reports = append(reports, rep)
			boundary = boundary.Add(config.Cycle)
		}
		if !queue.Offer(ts.s) {
			result.QueueDropped++
		}
	}

	// Flush the final partial epoch.
	rep, err := endEpoch()
	if err != nil {
		return nil, err
	}
	reports = append(reports, rep)

	cancel()
	if err := <-runErr; err != nil && err != context.Canceled {
		log.Printf("Warning: engine shutdown: %v", err)
	}

	collectEpochResults(config, result, reports)
	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()

	if config.DBPath != "" {
		if err := persistToJournal(config.DBPath, reports); err != nil {
			log.Printf("Warning: journal persistence failed: %v", err)
		}
	}

	return result, nil
}

// collectEpochResults folds the raw reports into the export view.
func collectEpochResults(config Config, result *ReplayResult, reports []pax.Report) {
	result.TotalEpochs = len(reports)
	result.Epochs = make([]EpochExport, 0, len(reports))

	for _, r := range reports {
		e := EpochExport{
			EpochID:   r.EpochID,
			Start:     r.Start.UTC().Format(time.RFC3339),
			End:       r.End.UTC().Format(time.RFC3339),
			Wifi:      r.Counts.Wifi,
			BLE:       r.Counts.BLE,
			Proximity: r.Counts.Proximity,
			Total:     r.Counts.Total(),
		}
		result.Epochs = append(result.Epochs, e)

		result.Totals.Wifi += r.Counts.Wifi
		result.Totals.BLE += r.Counts.BLE
		result.Totals.Proximity += r.Counts.Proximity
		if e.Total > result.PeakCount {
			result.PeakCount = e.Total
			result.PeakEpochID = e.EpochID
		}

		if config.Verbose {
			log.Printf("Epoch %d: %d wifi, %d ble, %d proximity",
				r.EpochID, r.Counts.Wifi, r.Counts.BLE, r.Counts.Proximity)
		}
	}
}

func printSummary(result *ReplayResult) {
	fmt.Println("\n========== Capture Replay Summary ==========")
	fmt.Printf("File: %s\n", result.PCAPFile)
	fmt.Printf("Duration: %.1f seconds (%.1f minutes)\n", result.DurationSecs, result.DurationSecs/60)
	fmt.Printf("Processing time: %d ms\n", result.ProcessingTimeMs)
	fmt.Println()
	fmt.Printf("Frames: %d\n", result.TotalFrames)
	fmt.Printf("Sightings: %d parsed, %d dropped\n", result.TotalSightings, result.QueueDropped)
	fmt.Printf("Epochs: %d (%.0fs cycle)\n", result.TotalEpochs, result.CycleSecs)
	if result.TotalEpochs > 0 {
		fmt.Println("\nUnique devices per epoch:")
		for _, e := range result.Epochs {
			fmt.Printf("  epoch %d @ %s: wifi=%d ble=%d proximity=%d total=%d\n",
				e.EpochID, e.Start, e.Wifi, e.BLE, e.Proximity, e.Total)
		}
		fmt.Printf("\nTotals: wifi=%d ble=%d proximity=%d (sum %d)\n",
			result.Totals.Wifi, result.Totals.BLE, result.Totals.Proximity, result.Totals.Total())
		fmt.Printf("Peak epoch: %d (%d pax)\n", result.PeakEpochID, result.PeakCount)
	}
	fmt.Println("=============================================")
}

func exportResults(config Config, result *ReplayResult) error {
	if !config.ExportJSON {
		return nil
	}
	baseName := strings.TrimSuffix(filepath.Base(config.PCAPFile), filepath.Ext(config.PCAPFile))
	jsonPath := filepath.Join(config.OutputDir, baseName+"_replay.json")
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("JSON marshal: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return fmt.Errorf("write JSON: %w", err)
	}
	fmt.Printf("JSON results: %s\n", jsonPath)
	return nil
}

// persistToJournal records the replayed epochs so the monitoring
// charts can render them like live data.
func persistToJournal(dbPath string, reports []pax.Report) error {
	database, err := db.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := database.MigrateUp(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	journal := db.NewJournal(database)
	for _, r := range reports {
		if err := journal.RecordReport(r); err != nil {
			return fmt.Errorf("record epoch %d: %w", r.EpochID, err)
		}
	}

	fmt.Printf("Journal: %s (%d reports, run %s)\n", dbPath, len(reports), journal.RunID())
	return nil
}
