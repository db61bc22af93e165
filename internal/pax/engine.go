package pax

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/pax.report/internal/monitoring"
	"github.com/banshee-data/pax.report/internal/timeutil"
)

// ProximityPolicy controls how exposure-notification advertisements are
// counted.
type ProximityPolicy string

const (
	// ProximityOff applies no special handling; the sighting counts as
	// an ordinary BLE device.
	ProximityOff ProximityPolicy = "off"
	// ProximityExclude drops the sighting entirely. This is the default.
	ProximityExclude ProximityPolicy = "exclude"
	// ProximityTag counts the device separately in Counters.Proximity.
	ProximityTag ProximityPolicy = "tag"
)

// Valid reports whether p is a known policy.
func (p ProximityPolicy) Valid() bool {
	switch p {
	case ProximityOff, ProximityExclude, ProximityTag:
		return true
	}
	return false
}

// Config is the engine's configuration snapshot, read once at
// construction. Reconfigure applies a replacement snapshot at the next
// epoch boundary; nothing changes mid-epoch. Queue capacity is not
// part of this snapshot because the queue is built separately and its
// capacity is fixed at boot.
type Config struct {
	// SendCycle is the report epoch length.
	SendCycle time.Duration
	// SaltMultiple stretches the salt epoch to SaltMultiple report
	// epochs. 1 rotates the salt at every report.
	SaltMultiple int
	// HomeCycle is the housekeeping cadence.
	HomeCycle time.Duration
	// DedupCap bounds the dedup set key count.
	DedupCap int
	// RSSIThreshold drops sightings weaker than this dBm value.
	// RSSI values are negative; 0 disables the filter.
	RSSIThreshold int8
	// MACFilter drops Wi-Fi sightings from locally-administered
	// (randomized) addresses. The BLE adapter carries its own copy of
	// this flag, since only the host stack sees the address type.
	MACFilter bool
	// ProximityPolicy selects handling of exposure-notification
	// sightings.
	ProximityPolicy ProximityPolicy
}

func (c Config) withDefaults() Config {
	if c.SendCycle == 0 {
		c.SendCycle = DefaultSendCycle
	}
	if c.HomeCycle == 0 {
		c.HomeCycle = DefaultHomeCycle
	}
	if c.SaltMultiple == 0 {
		c.SaltMultiple = DefaultSaltMultiple
	}
	if c.DedupCap == 0 {
		c.DedupCap = DefaultDedupCapacity
	}
	if c.ProximityPolicy == "" {
		c.ProximityPolicy = ProximityExclude
	}
	return c
}

// Validate reports the first problem with the snapshot. Zero fields are
// legal; they select package defaults.
func (c Config) Validate() error {
	if c.SendCycle < 0 {
		return fmt.Errorf("send cycle must be positive, got %v", c.SendCycle)
	}
	if c.HomeCycle < 0 {
		return fmt.Errorf("home cycle must be positive, got %v", c.HomeCycle)
	}
	if c.SaltMultiple < 0 {
		return fmt.Errorf("salt multiple must be at least 1, got %d", c.SaltMultiple)
	}
	if c.DedupCap < 0 {
		return fmt.Errorf("dedup capacity must be positive, got %d", c.DedupCap)
	}
	if c.RSSIThreshold > 0 {
		return fmt.Errorf("rssi threshold must be negative dBm or 0, got %d", c.RSSIThreshold)
	}
	if c.ProximityPolicy != "" && !c.ProximityPolicy.Valid() {
		return fmt.Errorf("unknown proximity policy %q", c.ProximityPolicy)
	}
	return nil
}

// CycleState is the single mutable counting aggregate: epoch identity,
// the active salt, and the dedup set. Exactly one instance exists per
// engine and only the engine goroutine touches it; producers reach it
// solely through the sighting queue.
type CycleState struct {
	EpochID    uint64
	EpochStart time.Time
	Salt       uint32
	Set        *DedupSet
}

// Engine drains the sighting queue, maintains CycleState, and fires
// the report, salt and housekeeping transitions. All counting-state
// mutation happens on the goroutine running Run; collaborators receive
// hand-offs and must never block it.
type Engine struct {
	// Collaborators, wired before Run. A nil Publisher or Display is
	// skipped; the engine counts regardless.
	Publisher    Publisher
	Display      Display
	Housekeepers []Housekeeper
	// SaltSource overrides the entropy source. Nil selects RandomSalt.
	SaltSource SaltSource

	cfg   Config
	clock timeutil.Clock
	queue *SightingQueue
	state CycleState
	diag  Diagnostics
	rssi  *RSSIReservoir

	lastCounts Counters
	lastReport time.Time

	reconfMu sync.Mutex
	reconfig chan Config

	running atomic.Bool
}

// NewEngine validates cfg and returns an engine consuming from queue.
// A nil clock selects the real one. The engine does not start counting
// until Run is called.
func NewEngine(cfg Config, queue *SightingQueue, clock timeutil.Clock) (*Engine, error) {
	if queue == nil {
		return nil, errors.New("pax: nil sighting queue")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pax: config: %w", err)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Engine{
		cfg:      cfg.withDefaults(),
		clock:    clock,
		queue:    queue,
		rssi:     NewRSSIReservoir(0),
		reconfig: make(chan Config, 1),
	}, nil
}

// Queue returns the sighting queue the engine consumes from.
func (e *Engine) Queue() *SightingQueue { return e.queue }

// RSSI returns the reservoir of recent signal-strength readings.
func (e *Engine) RSSI() *RSSIReservoir { return e.rssi }

// Reconfigure hands the engine a replacement configuration snapshot.
// It takes effect at the next report epoch boundary; until then the
// current epoch finishes under the old settings. A second call before
// the boundary supersedes the first.
func (e *Engine) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("pax: reconfigure: %w", err)
	}
	cfg = cfg.withDefaults()
	e.reconfMu.Lock()
	defer e.reconfMu.Unlock()
	select {
	case <-e.reconfig: // discard a superseded snapshot
	default:
	}
	e.reconfig <- cfg
	return nil
}

// Run executes the dispatch loop until ctx is cancelled. The initial
// salt is drawn before the first sighting is processed; a failed
// initial draw is a boot failure. Run returns ctx.Err() on
// cancellation.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("pax: engine already running")
	}
	defer e.running.Store(false)

	salt, err := e.drawSalt()
	if err != nil {
		return fmt.Errorf("pax: initial salt draw: %w", err)
	}
	e.state = CycleState{
		EpochStart: e.clock.Now(),
		Salt:       salt,
		Set:        NewDedupSet(e.cfg.DedupCap),
	}

	report := e.clock.NewTicker(e.cfg.SendCycle)
	defer report.Stop()
	home := e.clock.NewTicker(e.cfg.HomeCycle)
	defer home.Stop()

	monitoring.Logf("pax: engine started (send %v, salt x%d, home %v, dedup cap %d)",
		e.cfg.SendCycle, e.cfg.SaltMultiple, e.cfg.HomeCycle, e.cfg.DedupCap)
	e.refreshDisplay(e.state.EpochStart)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-e.queue.C():
			e.ingest(s)
			e.queue.DrainAll(e.ingest)
		case <-report.C():
			e.rollover(report, home)
		case <-home.C():
			e.housekeep()
		}
	}
}

// ingest applies the stateless sighting filters, hashes the address
// under the current salt, and records the key. Runs only on the engine
// goroutine.
func (e *Engine) ingest(s RawSighting) {
	if !s.Kind.Valid() {
		e.diag.Malformed++
		return
	}
	if e.cfg.RSSIThreshold != 0 && s.RSSI < e.cfg.RSSIThreshold {
		e.diag.RSSIFiltered++
		return
	}
	kind := s.Kind
	switch kind {
	case SourceWifi:
		if e.cfg.MACFilter && s.LocallyAdministered() {
			e.diag.MACFiltered++
			return
		}
	case SourceBLEProximity:
		switch e.cfg.ProximityPolicy {
		case ProximityExclude:
			e.diag.ProximityDrops++
			return
		case ProximityOff:
			kind = SourceBLE
		}
	}
	e.rssi.Observe(s.RSSI)
	key := HashAddr(s.Addr, e.state.Salt)
	if e.state.Set.Record(key, kind) {
		monitoring.Debugf("pax: new %s key %04x (rssi %d)", kind, uint16(key), s.RSSI)
	}
}

// rollover finalizes the epoch: drain what is already queued so every
// sighting offered before the tick lands in this snapshot, capture and
// reset the counters, hand the report off, then advance the epoch.
// Salt rotation happens strictly after the snapshot so a published
// epoch is never mixed-salt.
func (e *Engine) rollover(report, home timeutil.Ticker) {
	e.queue.DrainAll(e.ingest)

	now := e.clock.Now()
	counts := e.state.Set.SnapshotAndReset()
	rep := Report{
		EpochID: e.state.EpochID,
		Start:   e.state.EpochStart,
		End:     now,
		Counts:  counts,
	}
	e.lastCounts = counts
	e.lastReport = now

	monitoring.Logf("pax: epoch %d wifi=%d ble=%d prox=%d (queue drops %d, dedup rejects %d)",
		rep.EpochID, counts.Wifi, counts.BLE, counts.Proximity,
		e.queue.Drops(), e.state.Set.Rejections())

	if e.Publisher != nil {
		e.Publisher.Publish(rep)
	}

	e.state.EpochID++
	e.state.EpochStart = now

	if e.state.EpochID%uint64(e.cfg.SaltMultiple) == 0 {
		e.rotateSalt()
	}
	e.applyPending(report, home)
	e.refreshDisplay(now)
}

func (e *Engine) rotateSalt() {
	salt, err := e.drawSalt()
	if err != nil {
		// Degraded mode: the previous salt is reused rather than
		// proceeding with a zero or predictable value.
		e.diag.SaltReuses++
		monitoring.Logf("pax: WARNING: salt rotation failed, reusing previous salt: %v", err)
		return
	}
	e.state.Salt = salt
}

func (e *Engine) drawSalt() (uint32, error) {
	src := e.SaltSource
	if src == nil {
		src = RandomSalt
	}
	return src()
}

// applyPending installs a waiting reconfiguration snapshot at the
// epoch boundary, resetting whichever tickers changed period.
func (e *Engine) applyPending(report, home timeutil.Ticker) {
	var cfg Config
	select {
	case cfg = <-e.reconfig:
	default:
		return
	}
	if cfg.SendCycle != e.cfg.SendCycle {
		report.Reset(cfg.SendCycle)
	}
	if cfg.HomeCycle != e.cfg.HomeCycle {
		home.Reset(cfg.HomeCycle)
	}
	if cfg.DedupCap != e.cfg.DedupCap {
		e.state.Set.SetCap(cfg.DedupCap)
	}
	e.cfg = cfg
	monitoring.Logf("pax: reconfigured at epoch %d (send %v, salt x%d, home %v, dedup cap %d)",
		e.state.EpochID, cfg.SendCycle, cfg.SaltMultiple, cfg.HomeCycle, cfg.DedupCap)
}

// housekeep runs the orthogonal maintenance cadence. It never touches
// the dedup set.
func (e *Engine) housekeep() {
	for _, h := range e.Housekeepers {
		h.Housekeep()
	}
	now := e.clock.Now()
	e.refreshDisplay(now)
	monitoring.Debugf("pax: housekeeping epoch=%d dedup=%d/%d queue=%d/%d drops=%d",
		e.state.EpochID, e.state.Set.Len(), e.state.Set.Cap(),
		e.queue.Len(), e.queue.Cap(), e.queue.Drops())
}

func (e *Engine) refreshDisplay(now time.Time) {
	if e.Display == nil {
		return
	}
	e.Display.Refresh(e.status(now))
}

func (e *Engine) status(now time.Time) LiveStatus {
	d := e.diag
	d.QueueDrops = e.queue.Drops()
	d.DedupRejections = e.state.Set.Rejections()
	return LiveStatus{
		EpochID:    e.state.EpochID,
		EpochStart: e.state.EpochStart,
		Now:        now,
		Counts:     e.state.Set.Counters(),
		LastCounts: e.lastCounts,
		LastReport: e.lastReport,
		QueueLen:   e.queue.Len(),
		QueueCap:   e.queue.Cap(),
		DedupLen:   e.state.Set.Len(),
		DedupCap:   e.state.Set.Cap(),
		RSSI:       e.rssi.Summary(),
		Diag:       d,
	}
}
