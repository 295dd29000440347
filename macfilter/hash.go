package macfilter

import "net"

// Strategy is the hash derivation used to fold an address into one of the
// 64 filter buckets. Silicon families disagree on the derivation while
// agreeing on the bitmap, so the strategy is pluggable.
type Strategy uint8

const (
	// HashXOR folds shifted address bytes together with XOR, the derivation
	// used by GMAC-class peripherals.
	HashXOR Strategy = iota
	// HashCRC32 takes the top 6 bits of a standard reflected CRC-32 over
	// the address, the derivation used by ENET-class peripherals.
	HashCRC32
)

func (s Strategy) String() string {
	if s == HashCRC32 {
		return "crc32"
	}
	return "xor"
}

// Index returns the 6-bit bucket index for the address.
func (s Strategy) Index(a net.HardwareAddr) int {
	if s == HashCRC32 {
		return int(crc32Raw(a)>>26) & 0x3f
	}
	return xorFold(a)
}

// xorFold mixes the six address bytes down to a 6-bit index.
func xorFold(p net.HardwareAddr) int {
	k := (p[0] >> 6) ^ p[0]
	k ^= (p[1] >> 4) ^ (p[1] << 2)
	k ^= (p[2] >> 2) ^ (p[2] << 4)
	k ^= (p[3] >> 6) ^ p[3]
	k ^= (p[4] >> 4) ^ (p[4] << 2)
	k ^= (p[5] >> 2) ^ (p[5] << 4)
	return int(k & 0x3f)
}

// crc32Raw is the Ethernet FCS polynomial processed LSB-first with an
// all-ones preset and no final inversion, which is what the hardware feeds
// its hash index from. hash/crc32 applies the final XOR, so it is spelled
// out here instead.
func crc32Raw(data []byte) uint32 {
	crc := uint32(0xffffffff)
	for _, b := range data {
		crc ^= uint32(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xedb88320
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
