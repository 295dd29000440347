package descring

import "github.com/rcrowley/go-metrics"

// FrameMode selects how received frames map onto descriptors. Different MAC
// families behave differently here, with identical ring semantics otherwise.
type FrameMode uint8

const (
	// FrameModeSingle expects every frame to fit one descriptor; the last
	// flag must be set on it and error flags are honored. This is how MACs
	// with frame-sized receive buffers behave.
	FrameModeSingle FrameMode = iota
	// FrameModeScatter reassembles frames that the MAC split across several
	// fixed-size buffers, delimited by start-of-frame and end-of-frame
	// flags.
	FrameModeScatter
)

// DefaultMaxFrameSize is the assembled frame cap when the caller does not
// configure one: a maximum untagged Ethernet frame.
const DefaultMaxFrameSize = 1518

// Rx is the receive path over a [Ring]: it drains completed descriptors,
// reassembles frames, validates error flags and hands complete frames to
// the consumer. Poll runs in task context only.
type Rx struct {
	ring *Ring
	mode FrameMode

	// kick pokes the peripheral's receive descriptor poll after slots are
	// handed back. May be nil for MACs that pick slots up on their own.
	kick func()
	// deliver passes one complete frame upward. The slice is only valid for
	// the duration of the call; the consumer copies if it keeps it.
	deliver func([]byte)

	scratch []byte

	received metrics.Counter
	dropped  metrics.Counter
}

// NewRx wires a receive path over ring. maxFrame caps the size of an
// assembled frame; zero or negative selects [DefaultMaxFrameSize]. deliver
// must be non-nil.
func NewRx(ring *Ring, mode FrameMode, maxFrame int, kick func(), deliver func([]byte)) *Rx {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	if maxFrame < ring.bufferSize {
		// Single-slot frames must always fit the scratch area.
		maxFrame = ring.bufferSize
	}
	return &Rx{
		ring:     ring,
		mode:     mode,
		kick:     kick,
		deliver:  deliver,
		scratch:  make([]byte, maxFrame),
		received: metrics.GetOrRegisterCounter("ring.rx.frames", nil),
		dropped:  metrics.GetOrRegisterCounter("ring.rx.dropped", nil),
	}
}

// Poll processes at most one completed frame. It returns nil when a frame
// was delivered, [ErrInvalidPacket] when a frame was dropped, and
// [ErrBufferEmpty] when there is nothing further to do. The event handler
// calls it in a loop until it reports empty.
func (x *Rx) Poll() error {
	if x.mode == FrameModeScatter {
		return x.pollScatter()
	}
	return x.pollSingle()
}

func (x *Rx) pollSingle() error {
	cur := x.ring.Cursor()
	s := x.ring.At(cur).Load()
	if s.HardwareOwned() {
		return ErrBufferEmpty
	}

	var n int
	var err error
	switch {
	case !s.Last():
		// A frame is expected to fit a single buffer here; anything else is
		// a malformed handoff.
		err = ErrInvalidPacket
	case s.HasError():
		err = ErrInvalidPacket
	default:
		n = min(s.Length(), x.ring.bufferSize)
		copy(x.scratch[:n], x.ring.At(cur).buf[:n])
	}

	// Recycle the slot whatever happened to the frame.
	x.release(cur)
	x.ring.setCursor(x.ring.Advance(cur))
	if x.kick != nil {
		x.kick()
	}

	if err != nil {
		x.dropped.Inc(1)
		return err
	}
	x.received.Inc(1)
	x.deliver(x.scratch[:n])
	return nil
}

func (x *Rx) pollScatter() error {
	const none = -1

	capacity := x.ring.Capacity()
	sof, eof := none, none
	var size int

	// Scan the run of completed descriptors ahead of the cursor for a
	// start-of-frame / end-of-frame pair.
	var scanned int
	for scanned = 0; scanned < capacity; scanned++ {
		j := x.ring.Cursor() + scanned
		if j >= capacity {
			j -= capacity
		}

		s := x.ring.At(j).Load()
		if s.HardwareOwned() {
			break
		}

		if s.First() {
			sof = scanned
		}
		if s.Last() && sof != none {
			eof = scanned
			// The end-of-frame descriptor declares the total frame length.
			size = min(s.Length(), len(x.scratch))
			break
		}
	}

	// How many slots to consume: a complete frame takes everything through
	// the end-of-frame slot. With a start still waiting for its end, only
	// the stray slots in front of it are recycled. Otherwise every scanned
	// slot is a stray fragment and goes back to hardware.
	var count int
	switch {
	case eof != none:
		count = eof + 1
	case sof != none:
		count = sof
	default:
		count = scanned
	}

	var length int
	for k := 0; k < count; k++ {
		cur := x.ring.Cursor()
		if eof != none && k >= sof && k <= eof {
			n := min(size, x.ring.bufferSize)
			copy(x.scratch[length:length+n], x.ring.At(cur).buf[:n])
			length += n
			size -= n
		}
		x.release(cur)
		x.ring.setCursor(x.ring.Advance(cur))
	}

	if count > 0 && x.kick != nil {
		x.kick()
	}

	if length == 0 {
		if count > 0 {
			// Stray fragments were discarded to keep the ring from
			// stalling.
			x.dropped.Inc(int64(count))
		}
		return ErrBufferEmpty
	}

	x.received.Inc(1)
	x.deliver(x.scratch[:length])
	return nil
}

// release hands slot i back to the DMA engine with a clean status word.
func (x *Rx) release(i int) {
	s := StatusHardwareOwned
	if x.ring.IsWrapSlot(i) {
		s |= StatusWrap
	}
	x.ring.At(i).Store(s)
}
