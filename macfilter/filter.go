// Package macfilter computes the MAC address acceptance filter for an
// Ethernet peripheral: a small set of exact-match address slots plus a
// 64-bit hash bitmap approximating everything that does not fit. The whole
// filter is rebuilt from scratch on every update and applied to the
// peripheral in one shot; there is no incremental state.
package macfilter

import "net"

// DefaultExactSlots is the number of extra perfect-match address slots most
// of the supported MACs provide beyond the station address.
const DefaultExactSlots = 3

// Entry is one registered filter address. Entries are reference-counted by
// the caller; an entry with a zero count is dead and ignored.
type Entry struct {
	Addr     net.HardwareAddr
	RefCount int
}

// Options selects how the filter is derived.
type Options struct {
	// Strategy picks the hash derivation the target silicon uses.
	Strategy Strategy
	// ExactSlots is the number of perfect-match slots available beyond the
	// station address. Zero means everything goes through the hash.
	ExactSlots int
}

// Filter is the computed acceptance state, ready to be written to the
// peripheral's registers.
type Filter struct {
	// Station is the interface's own address.
	Station net.HardwareAddr
	// Exact holds the unicast addresses assigned to perfect-match slots, in
	// registration order, at most Options.ExactSlots of them.
	Exact []net.HardwareAddr
	// UnicastHashed is set when unicast addresses overflowed the exact
	// slots and the peripheral must also run unicast addresses through the
	// hash filter.
	UnicastHashed bool
	// Hash is the 64-bit bucket bitmap, low word first.
	Hash [2]uint32
}

// Build computes the filter for the given station address and registered
// entries. Multicast addresses always go through the hash table; unicast
// addresses take exact-match slots while any remain and fall back to the
// hash table afterwards.
func Build(station net.HardwareAddr, entries []Entry, opts Options) Filter {
	f := Filter{Station: station}

	for _, e := range entries {
		if e.RefCount <= 0 || len(e.Addr) != 6 {
			continue
		}

		if isMulticast(e.Addr) {
			f.setHash(opts.Strategy.Index(e.Addr))
			continue
		}

		if len(f.Exact) < opts.ExactSlots {
			f.Exact = append(f.Exact, e.Addr)
			continue
		}

		f.setHash(opts.Strategy.Index(e.Addr))
		f.UnicastHashed = true
	}

	return f
}

func (f *Filter) setHash(k int) {
	f.Hash[k/32] |= 1 << (k % 32)
}

func isMulticast(a net.HardwareAddr) bool {
	return a[0]&0x01 != 0
}
