package pax_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/pax.report/internal/pax"
	"github.com/banshee-data/pax.report/internal/pax/paxtest"
	"github.com/banshee-data/pax.report/internal/timeutil"
)

const waitFor = 2 * time.Second

var bootTime = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

type engineFixture struct {
	t      *testing.T
	clock  *timeutil.ManualClock
	queue  *pax.SightingQueue
	engine *pax.Engine
	pub    *paxtest.CapturePublisher
	board  *paxtest.StatusBoard
	cfg    pax.Config
	cancel context.CancelFunc
	done   chan error
}

// startEngine boots an engine on a manual clock and waits for the boot
// display refresh, which guarantees the cycle tickers are armed.
func startEngine(t *testing.T, cfg pax.Config, queueCap int, salts pax.SaltSource) *engineFixture {
	t.Helper()
	fx := &engineFixture{
		t:     t,
		clock: timeutil.NewManualClock(bootTime),
		queue: pax.NewSightingQueue(queueCap),
		pub:   paxtest.NewCapturePublisher(),
		board: paxtest.NewStatusBoard(),
		cfg:   cfg,
		done:  make(chan error, 1),
	}
	eng, err := pax.NewEngine(cfg, fx.queue, fx.clock)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	eng.Publisher = fx.pub
	eng.Display = fx.board
	eng.SaltSource = salts
	fx.engine = eng

	ctx, cancel := context.WithCancel(context.Background())
	fx.cancel = cancel
	go func() { fx.done <- eng.Run(ctx) }()
	fx.board.Wait(t, waitFor)

	t.Cleanup(func() {
		cancel()
		select {
		case <-fx.done:
		case <-time.After(waitFor):
			t.Error("engine did not stop on context cancellation")
		}
	})
	return fx
}

// endEpoch advances the clock one send cycle and returns the report it
// produced.
func (fx *engineFixture) endEpoch() pax.Report {
	fx.t.Helper()
	send := fx.cfg.SendCycle
	if send == 0 {
		send = pax.DefaultSendCycle
	}
	fx.clock.Advance(send)
	return fx.pub.Wait(fx.t, waitFor)
}

func wifiSighting(addr byte, rssi int8) pax.RawSighting {
	return pax.RawSighting{Addr: [6]byte{0x00, 0x16, 0x3e, 0x00, 0x00, addr}, RSSI: rssi, Kind: pax.SourceWifi}
}

func bleSighting(addr byte, rssi int8) pax.RawSighting {
	return pax.RawSighting{Addr: [6]byte{0x00, 0x16, 0x3e, 0x01, 0x00, addr}, RSSI: rssi, Kind: pax.SourceBLE}
}

func TestEngineEndToEndEpoch(t *testing.T) {
	fx := startEngine(t, pax.Config{SendCycle: 2 * time.Second, HomeCycle: time.Hour}, 16, nil)

	deviceA := wifiSighting(0xA0, -48)
	fx.queue.Offer(deviceA)
	fx.queue.Offer(deviceA) // repeat sighting of the same device
	fx.queue.Offer(bleSighting(0xB0, -60))

	rep := fx.endEpoch()
	if rep.EpochID != 0 {
		t.Errorf("EpochID = %d, want 0", rep.EpochID)
	}
	if !rep.Start.Equal(bootTime) || !rep.End.Equal(bootTime.Add(2*time.Second)) {
		t.Errorf("epoch window [%v, %v], want [%v, %v]", rep.Start, rep.End, bootTime, bootTime.Add(2*time.Second))
	}
	want := pax.Counters{Wifi: 1, BLE: 1}
	if rep.Counts != want {
		t.Errorf("counts = %+v, want %+v", rep.Counts, want)
	}

	// The post-rollover refresh shows the reset state.
	status := fx.board.Wait(t, waitFor)
	if status.EpochID != 1 {
		t.Errorf("status epoch = %d, want 1", status.EpochID)
	}
	if status.DedupLen != 0 || status.Counts != (pax.Counters{}) {
		t.Errorf("state not reset: dedup=%d counts=%+v", status.DedupLen, status.Counts)
	}
	if status.LastCounts != want {
		t.Errorf("LastCounts = %+v, want %+v", status.LastCounts, want)
	}
}

func TestEngineSightingsBeforeRolloverAreCounted(t *testing.T) {
	// Sightings still sitting in the queue when the epoch tick fires
	// land in that epoch's snapshot: rollover drains before it resets.
	fx := startEngine(t, pax.Config{SendCycle: 5 * time.Second, HomeCycle: time.Hour}, 64, nil)

	for i := 0; i < 6; i++ {
		fx.queue.Offer(wifiSighting(byte(i), -40))
	}
	rep := fx.endEpoch()
	if rep.Counts.Wifi != 6 {
		t.Fatalf("wifi = %d, want 6", rep.Counts.Wifi)
	}
}

func TestEngineSaltCadenceAndOrdering(t *testing.T) {
	// With a salt multiple of 2 the salt rotates every second report,
	// and always after the coinciding snapshot is published.
	rec := &seqRecorder{repCh: make(chan pax.Report, 16)}

	clock := timeutil.NewManualClock(bootTime)
	queue := pax.NewSightingQueue(16)
	eng, err := pax.NewEngine(pax.Config{SendCycle: 10 * time.Second, SaltMultiple: 2, HomeCycle: time.Hour}, queue, clock)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	board := paxtest.NewStatusBoard()
	eng.Publisher = rec
	eng.Display = board
	eng.SaltSource = rec.saltSource()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	board.Wait(t, waitFor)

	for i := 0; i < 4; i++ {
		clock.Advance(10 * time.Second)
		select {
		case <-rec.repCh:
		case <-time.After(waitFor):
			t.Fatalf("no report for epoch %d", i)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("engine did not stop")
	}

	want := []string{
		"salt",
		"publish 0",
		"publish 1",
		"salt",
		"publish 2",
		"publish 3",
		"salt",
	}
	if diff := cmp.Diff(want, rec.log()); diff != "" {
		t.Errorf("salt/publish ordering mismatch (-want +got):\n%s", diff)
	}
}

type seqRecorder struct {
	mu     sync.Mutex
	events []string
	repCh  chan pax.Report
}

func (r *seqRecorder) Publish(rep pax.Report) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf("publish %d", rep.EpochID))
	r.mu.Unlock()
	r.repCh <- rep
}

func (r *seqRecorder) saltSource() pax.SaltSource {
	return func() (uint32, error) {
		r.mu.Lock()
		r.events = append(r.events, "salt")
		r.mu.Unlock()
		return 0x00c0ffee, nil
	}
}

func (r *seqRecorder) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestEngineSaltReuseOnEntropyFailure(t *testing.T) {
	// One good draw at boot, then the source fails: the engine keeps
	// the previous salt, keeps counting, and surfaces the reuse.
	fx := startEngine(t, pax.Config{SendCycle: 5 * time.Second, HomeCycle: time.Hour}, 16,
		paxtest.SaltSequence(0x1234abcd))

	fx.queue.Offer(wifiSighting(1, -50))
	rep := fx.endEpoch()
	if rep.Counts.Wifi != 1 {
		t.Fatalf("epoch 0 wifi = %d, want 1", rep.Counts.Wifi)
	}
	fx.board.Wait(t, waitFor)

	fx.queue.Offer(wifiSighting(1, -50))
	rep = fx.endEpoch()
	if rep.Counts.Wifi != 1 {
		t.Fatalf("epoch 1 wifi = %d, want 1", rep.Counts.Wifi)
	}
	status := fx.board.Wait(t, waitFor)
	if status.Diag.SaltReuses != 2 {
		t.Errorf("SaltReuses = %d, want 2", status.Diag.SaltReuses)
	}
}

func TestEngineReconfigureAtBoundary(t *testing.T) {
	fx := startEngine(t, pax.Config{SendCycle: 10 * time.Second, HomeCycle: time.Hour}, 16, nil)

	fx.queue.Offer(wifiSighting(1, -90))
	if err := fx.engine.Reconfigure(pax.Config{SendCycle: 10 * time.Second, HomeCycle: time.Hour, RSSIThreshold: -50}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	// Still inside the old epoch: the weak sighting is counted.
	fx.queue.Offer(wifiSighting(2, -90))

	rep := fx.endEpoch()
	if rep.Counts.Wifi != 2 {
		t.Fatalf("epoch 0 wifi = %d, want 2 (threshold must not apply mid-epoch)", rep.Counts.Wifi)
	}
	fx.board.Wait(t, waitFor)

	// New epoch, new threshold.
	fx.queue.Offer(wifiSighting(3, -90)) // filtered
	fx.queue.Offer(wifiSighting(4, -40)) // counted
	rep = fx.endEpoch()
	if rep.Counts.Wifi != 1 {
		t.Fatalf("epoch 1 wifi = %d, want 1", rep.Counts.Wifi)
	}
	status := fx.board.Wait(t, waitFor)
	if status.Diag.RSSIFiltered != 1 {
		t.Errorf("RSSIFiltered = %d, want 1", status.Diag.RSSIFiltered)
	}
}

func TestEngineReconfigureSendCycle(t *testing.T) {
	fx := startEngine(t, pax.Config{SendCycle: 10 * time.Second, HomeCycle: time.Hour}, 16, nil)

	if err := fx.engine.Reconfigure(pax.Config{SendCycle: 5 * time.Second, HomeCycle: time.Hour}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}

	// The running epoch still ends on the old cycle.
	fx.clock.Advance(5 * time.Second)
	if got := fx.pub.Reports(); len(got) != 0 {
		t.Fatalf("report published %v before the old cycle elapsed", got)
	}
	fx.clock.Advance(5 * time.Second)
	rep := fx.pub.Wait(t, waitFor)
	if got := rep.End.Sub(rep.Start); got != 10*time.Second {
		t.Errorf("epoch 0 length = %v, want 10s", got)
	}

	// The next epoch runs on the new cycle.
	fx.clock.Advance(5 * time.Second)
	rep = fx.pub.Wait(t, waitFor)
	if got := rep.End.Sub(rep.Start); got != 5*time.Second {
		t.Errorf("epoch 1 length = %v, want 5s", got)
	}
}

func TestEngineFilters(t *testing.T) {
	cfg := pax.Config{
		SendCycle:     5 * time.Second,
		HomeCycle:     time.Hour,
		RSSIThreshold: -90,
		MACFilter:     true,
	}
	fx := startEngine(t, cfg, 32, nil)

	fx.queue.Offer(wifiSighting(1, -50)) // counted
	fx.queue.Offer(bleSighting(2, -55))  // counted
	fx.queue.Offer(pax.RawSighting{ // locally administered, filtered
		Addr: [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x03}, RSSI: -50, Kind: pax.SourceWifi,
	})
	fx.queue.Offer(wifiSighting(4, -95)) // below threshold, filtered
	fx.queue.Offer(pax.RawSighting{ // proximity beacon, excluded by default
		Addr: [6]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x05}, RSSI: -50, Kind: pax.SourceBLEProximity,
	})
	fx.queue.Offer(pax.RawSighting{ // unknown kind, malformed
		Addr: [6]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x06}, RSSI: -50, Kind: pax.SourceKind(9),
	})

	rep := fx.endEpoch()
	want := pax.Counters{Wifi: 1, BLE: 1}
	if rep.Counts != want {
		t.Errorf("counts = %+v, want %+v", rep.Counts, want)
	}

	status := fx.board.Wait(t, waitFor)
	diag := status.Diag
	if diag.MACFiltered != 1 || diag.RSSIFiltered != 1 || diag.ProximityDrops != 1 || diag.Malformed != 1 {
		t.Errorf("diag = %+v, want one of each filter", diag)
	}
}

func TestEngineProximityPolicies(t *testing.T) {
	prox := pax.RawSighting{
		Addr: [6]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x07}, RSSI: -50, Kind: pax.SourceBLEProximity,
	}

	t.Run("tag", func(t *testing.T) {
		fx := startEngine(t, pax.Config{SendCycle: 5 * time.Second, HomeCycle: time.Hour, ProximityPolicy: pax.ProximityTag}, 16, nil)
		fx.queue.Offer(prox)
		rep := fx.endEpoch()
		if rep.Counts.Proximity != 1 || rep.Counts.BLE != 0 {
			t.Errorf("counts = %+v, want proximity=1", rep.Counts)
		}
	})

	t.Run("off", func(t *testing.T) {
		fx := startEngine(t, pax.Config{SendCycle: 5 * time.Second, HomeCycle: time.Hour, ProximityPolicy: pax.ProximityOff}, 16, nil)
		fx.queue.Offer(prox)
		rep := fx.endEpoch()
		if rep.Counts.BLE != 1 || rep.Counts.Proximity != 0 {
			t.Errorf("counts = %+v, want ble=1", rep.Counts)
		}
	})
}

func TestEngineConcurrentProducers(t *testing.T) {
	const (
		producers = 4
		perProd   = 250
	)
	fx := startEngine(t, pax.Config{SendCycle: 30 * time.Second, HomeCycle: time.Hour}, 4096, nil)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				s := pax.RawSighting{
					Addr: [6]byte{0x00, 0x50, byte(p), byte(i >> 8), byte(i), 0xaa},
					RSSI: -60,
					Kind: pax.SourceWifi,
				}
				if !fx.queue.Offer(s) {
					t.Errorf("offer rejected with capacity to spare")
					return
				}
			}
		}(p)
	}
	wg.Wait()

	rep := fx.endEpoch()
	// All 1000 addresses are distinct; a handful may share a 16-bit
	// key, so allow a small collision margin.
	if rep.Counts.Wifi < 950 || rep.Counts.Wifi > 1000 {
		t.Errorf("wifi = %d, want 950..1000", rep.Counts.Wifi)
	}
	if rep.Counts.BLE != 0 {
		t.Errorf("ble = %d, want 0", rep.Counts.BLE)
	}
	status := fx.board.Wait(t, waitFor)
	if status.Diag.QueueDrops != 0 {
		t.Errorf("QueueDrops = %d, want 0", status.Diag.QueueDrops)
	}
}

type countingHousekeeper struct {
	calls atomic.Int64
}

func (h *countingHousekeeper) Housekeep() { h.calls.Add(1) }

func TestEngineHousekeeping(t *testing.T) {
	clock := timeutil.NewManualClock(bootTime)
	queue := pax.NewSightingQueue(16)
	eng, err := pax.NewEngine(pax.Config{SendCycle: 120 * time.Second, HomeCycle: 30 * time.Second}, queue, clock)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	hk := &countingHousekeeper{}
	board := paxtest.NewStatusBoard()
	pub := paxtest.NewCapturePublisher()
	eng.Housekeepers = []pax.Housekeeper{hk}
	eng.Display = board
	eng.Publisher = pub

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	board.Wait(t, waitFor)

	queue.Offer(wifiSighting(1, -50))

	// Two housekeeping rounds pass without a report.
	clock.Advance(30 * time.Second)
	board.Wait(t, waitFor)
	clock.Advance(30 * time.Second)
	board.Wait(t, waitFor)
	if got := hk.calls.Load(); got != 2 {
		t.Errorf("housekeeper ran %d times, want 2", got)
	}
	if reports := pub.Reports(); len(reports) != 0 {
		t.Errorf("housekeeping published %d reports", len(reports))
	}

	// Housekeeping never touched the dedup set: the sighting kept
	// accumulating and lands in the epoch report.
	clock.Advance(60 * time.Second)
	rep := pub.Wait(t, waitFor)
	if rep.Counts.Wifi != 1 {
		t.Errorf("report wifi = %d, want 1", rep.Counts.Wifi)
	}
}

func TestEngineStops(t *testing.T) {
	clock := timeutil.NewManualClock(bootTime)
	eng, err := pax.NewEngine(pax.Config{}, pax.NewSightingQueue(4), clock)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	board := paxtest.NewStatusBoard()
	eng.Display = board

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	board.Wait(t, waitFor)

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestEngineDoubleRun(t *testing.T) {
	fx := startEngine(t, pax.Config{}, 4, nil)
	if err := fx.engine.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("second Run = %v, want already-running error", err)
	}
}

func TestNewEngineValidation(t *testing.T) {
	queue := pax.NewSightingQueue(4)
	cases := []struct {
		name string
		cfg  pax.Config
	}{
		{"negative send cycle", pax.Config{SendCycle: -time.Second}},
		{"negative home cycle", pax.Config{HomeCycle: -time.Second}},
		{"negative salt multiple", pax.Config{SaltMultiple: -2}},
		{"negative dedup capacity", pax.Config{DedupCap: -5}},
		{"positive rssi threshold", pax.Config{RSSIThreshold: 10}},
		{"unknown proximity policy", pax.Config{ProximityPolicy: "sideways"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := pax.NewEngine(tc.cfg, queue, nil); err == nil {
				t.Fatalf("NewEngine accepted %+v", tc.cfg)
			}
		})
	}

	if _, err := pax.NewEngine(pax.Config{}, nil, nil); err == nil {
		t.Fatal("NewEngine accepted a nil queue")
	}
	if _, err := pax.NewEngine(pax.Config{}, queue, nil); err != nil {
		t.Fatalf("NewEngine rejected the zero config: %v", err)
	}
}

func TestEngineReconfigureValidation(t *testing.T) {
	fx := startEngine(t, pax.Config{}, 4, nil)
	if err := fx.engine.Reconfigure(pax.Config{RSSIThreshold: 5}); err == nil {
		t.Fatal("Reconfigure accepted a positive RSSI threshold")
	}
}
