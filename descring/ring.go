package descring

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrRingSizeInvalid is returned when a ring capacity is not usable.
	ErrRingSizeInvalid = errors.New("ring capacity is invalid")

	// ErrBufferSizeInvalid is returned when a per-slot buffer size is not
	// usable.
	ErrBufferSizeInvalid = errors.New("ring buffer size is invalid")
)

// bufferAlign is the DMA copy granularity. Transmit payload copies are
// rounded up to it, so buffer sizes must be a multiple of it.
const bufferAlign = 4

// Direction tells a ring whether its slots start out owned by hardware
// (receive) or by software (transmit).
type Direction uint8

const (
	DirTransmit Direction = iota
	DirReceive
)

func (d Direction) String() string {
	if d == DirTransmit {
		return "tx"
	}
	return "rx"
}

// Owner is the side of the ring that may currently touch a slot.
type Owner uint8

const (
	OwnerSoftware Owner = iota
	OwnerHardware
)

func (o Owner) String() string {
	if o == OwnerHardware {
		return "hardware"
	}
	return "software"
}

// Ring is a fixed-capacity circular array of [Descriptor]s plus their
// backing buffers. The cursor always points at the next slot the engine
// will inspect and advances strictly by one slot per completed transfer.
//
// A ring is traversed by a single task-context caller at a time; only the
// descriptor status words are shared with the DMA side.
type Ring struct {
	direction  Direction
	bufferSize int
	descs      []Descriptor

	// cursor is read from interrupt context (transmit readiness check), so
	// it is stored atomically even though only task context advances it.
	cursor atomic.Uint32
}

// New allocates a ring with the given slot count and per-slot buffer size
// and initializes it. Buffers are carved out of one backing region and stay
// assigned to their slot for the lifetime of the ring.
func New(capacity, bufferSize int, direction Direction) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrRingSizeInvalid, capacity)
	}
	if bufferSize <= 0 || bufferSize > MaxLength {
		return nil, fmt.Errorf("%w: %d", ErrBufferSizeInvalid, bufferSize)
	}
	if bufferSize%bufferAlign != 0 {
		return nil, fmt.Errorf("%w: %d is not a multiple of %d",
			ErrBufferSizeInvalid, bufferSize, bufferAlign)
	}

	r := &Ring{
		direction:  direction,
		bufferSize: bufferSize,
		descs:      make([]Descriptor, capacity),
	}

	backing := make([]byte, capacity*bufferSize)
	for i := range r.descs {
		r.descs[i].buf = backing[i*bufferSize : (i+1)*bufferSize : (i+1)*bufferSize]
	}

	r.Init()
	return r, nil
}

// Init resets the ring to its initial state: buffers cleared, every receive
// slot handed to hardware, every transmit slot held by software, the wrap
// flag on the last slot only, cursor back at 0. It is idempotent and safe to
// call while the peripheral is disabled, which is how the driver recovers
// from a fatal bus error.
func (r *Ring) Init() {
	for i := range r.descs {
		clear(r.descs[i].buf)

		var s Status
		if r.direction == DirReceive {
			s |= StatusHardwareOwned
		}
		if i == len(r.descs)-1 {
			s |= StatusWrap
		}
		r.descs[i].Store(s)
	}
	r.cursor.Store(0)
}

// Capacity returns the number of slots in the ring.
func (r *Ring) Capacity() int { return len(r.descs) }

// BufferSize returns the byte size of each slot's backing buffer.
func (r *Ring) BufferSize() int { return r.bufferSize }

// Direction returns the ring's transfer direction.
func (r *Ring) Direction() Direction { return r.direction }

// Cursor returns the index of the next slot the engine will inspect.
func (r *Ring) Cursor() int { return int(r.cursor.Load()) }

func (r *Ring) setCursor(i int) { r.cursor.Store(uint32(i)) }

// Advance returns the slot index following i, wrapping at the ring capacity.
func (r *Ring) Advance(i int) int {
	return (i + 1) % len(r.descs)
}

// IsWrapSlot reports whether i is the last configured slot of the ring.
func (r *Ring) IsWrapSlot(i int) bool {
	return i == len(r.descs)-1
}

// OwnerAt returns the current ownership of slot i. It has no side effects.
func (r *Ring) OwnerAt(i int) Owner {
	if r.descs[i].Load().HardwareOwned() {
		return OwnerHardware
	}
	return OwnerSoftware
}

// At returns the descriptor in slot i. It is how the hardware side of the
// ring (a real adapter's translation layer, or a simulated DMA engine)
// reaches the shared status words and buffers.
func (r *Ring) At(i int) *Descriptor {
	return &r.descs[i]
}
