package pax

import "fmt"

// SourceKind identifies which radio surface produced a sighting.
type SourceKind uint8

const (
	// SourceWifi is a Wi-Fi management frame, normally a probe request.
	SourceWifi SourceKind = iota
	// SourceBLE is a Bluetooth Low Energy advertisement.
	SourceBLE
	// SourceBLEProximity is a BLE advertisement carrying an exposure
	// notification service signature. How these are counted depends on
	// the configured proximity policy.
	SourceBLEProximity

	numSourceKinds
)

func (k SourceKind) String() string {
	switch k {
	case SourceWifi:
		return "wifi"
	case SourceBLE:
		return "ble"
	case SourceBLEProximity:
		return "ble-proximity"
	default:
		return fmt.Sprintf("sourcekind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the defined source kinds.
func (k SourceKind) Valid() bool { return k < numSourceKinds }

// RawSighting is one observed transmission: the transmitter hardware
// address, received signal strength in dBm, and the radio that saw it.
// It exists only between capture and hashing and is never persisted or
// logged at normal verbosity.
type RawSighting struct {
	Addr [6]byte
	RSSI int8
	Kind SourceKind
}

// LocallyAdministered reports whether the address carries the
// locally-administered bit, which marks randomized Wi-Fi MACs.
func (s RawSighting) LocallyAdministered() bool {
	return s.Addr[0]&0x02 != 0
}
