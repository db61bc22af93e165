package ble

import (
	"net"

	"tinygo.org/x/bluetooth"

	"github.com/banshee-data/pax.report/internal/pax"
)

// observe turns one advertisement into a raw sighting. ok is false for
// addresses that are not plain 48-bit MACs, as some host stacks hand
// out platform identifiers instead.
func observe(addr string, rssi int16, payload bluetooth.AdvertisementPayload) (pax.RawSighting, bool) {
	hw, err := net.ParseMAC(addr)
	if err != nil || len(hw) != 6 {
		return pax.RawSighting{}, false
	}

	kind := pax.SourceBLE
	if hasExposureService(payload) {
		kind = pax.SourceBLEProximity
	}

	s := pax.RawSighting{
		RSSI: clampRSSI(rssi),
		Kind: kind,
	}
	copy(s.Addr[:], hw)
	return s, true
}

// hasExposureService reports whether the advertisement names the
// exposure notification service, in its UUID list or as service data.
func hasExposureService(payload bluetooth.AdvertisementPayload) bool {
	if payload == nil {
		return false
	}
	if payload.HasServiceUUID(ExposureServiceUUID) {
		return true
	}
	for _, sd := range payload.ServiceData() {
		if sd.UUID == ExposureServiceUUID {
			return true
		}
	}
	return false
}

// clampRSSI narrows the stack's int16 reading to the dBm range the
// counter stores.
func clampRSSI(rssi int16) int8 {
	switch {
	case rssi < -128:
		return -128
	case rssi > 127:
		return 127
	}
	return int8(rssi)
}
