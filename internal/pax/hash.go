package pax

import "encoding/binary"

// AnonymizedKey is the salted, truncated hash of a hardware address.
// The raw address cannot be recovered from it, and the mapping changes
// whenever the salt rotates.
type AnonymizedKey uint16

// HashAddr reduces a hardware address to an AnonymizedKey under the
// given salt. Only the low four address bytes participate: the vendor
// OUI prefix carries no per-device identity. The salted value is run
// through a rotating hash and the top half of the 32-bit result is
// kept, matching the key width the dedup set stores.
func HashAddr(addr [6]byte, salt uint32) AnonymizedKey {
	salted := binary.LittleEndian.Uint32(addr[2:]) + salt
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], salted)
	return AnonymizedKey(rokkit(buf[:]) >> 16)
}

// rokkit is the Hsieh rotating hash. Not cryptographic; the target
// property is cheap, well-distributed mixing so that casual
// re-identification of a key is impractical once the salt is gone.
func rokkit(data []byte) uint32 {
	n := len(data)
	if n == 0 {
		return 0
	}
	hash := uint32(n)
	rem := n & 3
	n >>= 2

	i := 0
	for ; n > 0; n-- {
		hash += uint32(binary.LittleEndian.Uint16(data[i:]))
		tmp := uint32(binary.LittleEndian.Uint16(data[i+2:]))<<11 ^ hash
		hash = hash<<16 ^ tmp
		i += 4
		hash += hash >> 11
	}

	switch rem {
	case 3:
		hash += uint32(binary.LittleEndian.Uint16(data[i:]))
		hash ^= hash << 16
		hash ^= uint32(int8(data[i+2])) << 18
		hash += hash >> 11
	case 2:
		hash += uint32(binary.LittleEndian.Uint16(data[i:]))
		hash ^= hash << 11
		hash += hash >> 17
	case 1:
		hash += uint32(int8(data[i]))
		hash ^= hash << 10
		hash += hash >> 1
	}

	hash ^= hash << 3
	hash += hash >> 5
	hash ^= hash << 4
	hash += hash >> 17
	hash ^= hash << 25
	hash += hash >> 6

	return hash
}
