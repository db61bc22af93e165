package pax

// Counters are the unique-device counts for one epoch, partitioned by
// source kind. They only grow within an epoch and reset together with
// the dedup set at rollover. Proximity stays zero unless the proximity
// policy is ProximityTag.
type Counters struct {
	Wifi      uint32 `json:"wifi"`
	BLE       uint32 `json:"ble"`
	Proximity uint32 `json:"proximity"`
}

// Total returns the unique-device count across all sources.
func (c Counters) Total() uint32 { return c.Wifi + c.BLE + c.Proximity }

func (c *Counters) bump(kind SourceKind) {
	switch kind {
	case SourceWifi:
		c.Wifi++
	case SourceBLE:
		c.BLE++
	case SourceBLEProximity:
		c.Proximity++
	}
}

// DedupSet holds the anonymized keys seen in the current epoch together
// with the counters derived from them. It is owned by the engine
// goroutine; mutual exclusion is structural, not locked. Capacity is
// bounded: once full, new keys are rejected for the rest of the epoch
// (undercounting, never unbounded growth) while existing keys still
// dedup normally.
type DedupSet struct {
	keys      map[AnonymizedKey]struct{}
	counts    Counters
	capacity  int
	rejection uint64
}

// NewDedupSet returns a set bounded to capacity keys. A capacity of
// zero or less selects DefaultDedupCapacity.
func NewDedupSet(capacity int) *DedupSet {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &DedupSet{
		keys:     make(map[AnonymizedKey]struct{}, capacity),
		capacity: capacity,
	}
}

// Record inserts key with source attribution and reports whether the
// key was newly added. Re-recording a present key is a no-op regardless
// of kind: the set counts unique devices, not sightings. At capacity
// the insert is rejected and counted in Rejections.
func (d *DedupSet) Record(key AnonymizedKey, kind SourceKind) bool {
	if _, seen := d.keys[key]; seen {
		return false
	}
	if len(d.keys) >= d.capacity {
		d.rejection++
		return false
	}
	d.keys[key] = struct{}{}
	d.counts.bump(kind)
	return true
}

// SnapshotAndReset returns the current counters and clears the set and
// counters as one step. Rejections carries across epochs; it is a boot
// lifetime diagnostic, not epoch state.
func (d *DedupSet) SnapshotAndReset() Counters {
	out := d.counts
	clear(d.keys)
	d.counts = Counters{}
	return out
}

// Counters returns the current epoch counters without resetting.
func (d *DedupSet) Counters() Counters { return d.counts }

// Contains reports whether key is present in the current epoch.
func (d *DedupSet) Contains(key AnonymizedKey) bool {
	_, seen := d.keys[key]
	return seen
}

// Len returns the number of distinct keys recorded this epoch.
func (d *DedupSet) Len() int { return len(d.keys) }

// Cap returns the configured key capacity.
func (d *DedupSet) Cap() int { return d.capacity }

// SetCap changes the capacity bound. It does not evict existing keys;
// a shrink below the current size stops further inserts until the next
// reset. Called by the engine when a reconfiguration lands at an epoch
// boundary.
func (d *DedupSet) SetCap(capacity int) {
	if capacity > 0 {
		d.capacity = capacity
	}
}

// Rejections returns how many inserts the capacity bound has refused
// since boot.
func (d *DedupSet) Rejections() uint64 { return d.rejection }
