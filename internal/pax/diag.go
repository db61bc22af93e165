package pax

// Diagnostics are boot-lifetime health counters. Overload and filtering
// degrade accuracy silently; these counters are the only place that
// degradation is visible. All fields except QueueDrops and
// DedupRejections are maintained on the engine goroutine; those two are
// copied in from their owners when a snapshot is taken.
type Diagnostics struct {
	QueueDrops      uint64 `json:"queue_drops"`
	Malformed       uint64 `json:"malformed"`
	RSSIFiltered    uint64 `json:"rssi_filtered"`
	MACFiltered     uint64 `json:"mac_filtered"`
	ProximityDrops  uint64 `json:"proximity_drops"`
	DedupRejections uint64 `json:"dedup_rejections"`
	SaltReuses      uint64 `json:"salt_reuses"`
}
