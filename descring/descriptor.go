package descring

import "sync/atomic"

// Status is the packed status word of a [Descriptor]. The layout is our own;
// per-chip descriptor layouts are translated to it by whatever sits on the
// hardware side of the ring.
type Status uint32

const (
	// StatusHardwareOwned is set while the DMA engine owns the slot and its
	// buffer. Software must not touch the payload while this bit is set.
	StatusHardwareOwned Status = 1 << 31
	// StatusWrap marks the last slot of the ring, telling the DMA engine to
	// loop back to slot 0 afterwards.
	StatusWrap Status = 1 << 30
	// StatusLast marks the final buffer of a frame. On transmit every frame
	// occupies a single buffer, so it is always set together with the
	// ownership bit. On receive it is the end-of-frame marker.
	StatusLast Status = 1 << 29
	// StatusFirst is the start-of-frame marker on receive descriptors when a
	// frame spans several buffers.
	StatusFirst Status = 1 << 28

	// Receive error flags, as reported by the MAC.
	StatusErrOversize  Status = 1 << 27
	StatusErrUndersize Status = 1 << 26
	StatusErrCRC       Status = 1 << 25
	StatusErrOverrun   Status = 1 << 24
	StatusErrTruncated Status = 1 << 23

	statusLengthMask Status = 0x3fff
)

// StatusErrMask covers every receive error flag.
const StatusErrMask = StatusErrOversize | StatusErrUndersize | StatusErrCRC |
	StatusErrOverrun | StatusErrTruncated

// MaxLength is the largest byte count the length field of a status word can
// describe.
const MaxLength = int(statusLengthMask)

// Length returns the valid byte count described by the status word.
func (s Status) Length() int {
	return int(s & statusLengthMask)
}

// WithLength returns a copy of s with the length field set to n.
func (s Status) WithLength(n int) Status {
	return (s &^ statusLengthMask) | (Status(n) & statusLengthMask)
}

// HardwareOwned reports whether the DMA engine currently owns the slot.
func (s Status) HardwareOwned() bool { return s&StatusHardwareOwned != 0 }

// Wrap reports whether the slot is the last one of the ring.
func (s Status) Wrap() bool { return s&StatusWrap != 0 }

// Last reports whether the slot holds the final buffer of a frame.
func (s Status) Last() bool { return s&StatusLast != 0 }

// First reports whether the slot holds the first buffer of a frame.
func (s Status) First() bool { return s&StatusFirst != 0 }

// HasError reports whether any receive error flag is set.
func (s Status) HasError() bool { return s&StatusErrMask != 0 }

// Descriptor describes one transfer slot: a fixed backing buffer plus a
// status word. The status word is the only field both sides of the ring
// write to, so it is accessed atomically; the atomic store doubles as the
// write barrier that publishes preceding payload writes before the
// ownership flip becomes visible to the other side.
type Descriptor struct {
	status atomic.Uint32
	buf    []byte
}

// Load returns the current status word.
func (d *Descriptor) Load() Status {
	return Status(d.status.Load())
}

// Store publishes a new status word. Payload writes made before the call are
// visible to any reader that observes the new word.
func (d *Descriptor) Store(s Status) {
	d.status.Store(uint32(s))
}

// Buffer returns the slot's backing buffer. The buffer is assigned when the
// ring is created and never changes. Only the current owner of the slot may
// touch it.
func (d *Descriptor) Buffer() []byte {
	return d.buf
}
