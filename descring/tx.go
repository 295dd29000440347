package descring

import "github.com/rcrowley/go-metrics"

// Tx is the transmit path over a [Ring]: it copies outbound frames into
// slot buffers, hands the slots to the DMA engine and reports readiness
// back to the upper layer.
//
// Send runs in task context only. Complete may run in interrupt context; it
// touches nothing but the cursor slot's status word and the ready signal.
type Tx struct {
	ring *Ring

	// kick pokes the peripheral's transmit descriptor poll after an
	// ownership handoff.
	kick func()
	// ready tells the upper layer that another frame can be accepted.
	ready func()

	sent     metrics.Counter
	busy     metrics.Counter
	oversize metrics.Counter
}

// NewTx wires a transmit path over ring. kick and ready must be non-nil and
// must be safe to call from the contexts described on [Tx].
func NewTx(ring *Ring, kick, ready func()) *Tx {
	return &Tx{
		ring:     ring,
		kick:     kick,
		ready:    ready,
		sent:     metrics.GetOrRegisterCounter("ring.tx.frames", nil),
		busy:     metrics.GetOrRegisterCounter("ring.tx.busy", nil),
		oversize: metrics.GetOrRegisterCounter("ring.tx.oversize", nil),
	}
}

// Send queues one frame for transmission.
//
// A frame larger than the slot buffer fails with [ErrInvalidLength] and
// still raises the ready signal: the frame was wrong, not the ring. A slot
// still owned by hardware fails with [ErrBusy] without mutating anything.
// Otherwise the frame is copied, the slot is handed to the DMA engine, the
// peripheral is kicked, and the cursor advances. If the following slot is
// already free the ready signal is raised at once so the caller can send
// back to back without waiting for an interrupt.
func (t *Tx) Send(frame []byte) error {
	if len(frame) > t.ring.bufferSize {
		t.oversize.Inc(1)
		t.ready()
		return ErrInvalidLength
	}

	cur := t.ring.Cursor()
	d := t.ring.At(cur)
	if d.Load().HardwareOwned() {
		t.busy.Inc(1)
		return ErrBusy
	}

	// Copy the payload, then zero up to the DMA copy granularity. The
	// hardware reads whole words; padding with zeros keeps us from ever
	// reading past the caller's frame.
	n := copy(d.buf, frame)
	clear(d.buf[n:alignUp(n)])

	s := StatusHardwareOwned | StatusLast | Status(0).WithLength(n)
	if t.ring.IsWrapSlot(cur) {
		s |= StatusWrap
	}
	// Publishes the payload along with the ownership flip, before the kick
	// below can reach the peripheral.
	d.Store(s)

	t.kick()

	next := t.ring.Advance(cur)
	t.ring.setCursor(next)
	t.sent.Inc(1)

	if !t.ring.At(next).Load().HardwareOwned() {
		t.ready()
	}
	return nil
}

// Complete is the transmit-complete interrupt follow-up: if the slot at the
// cursor has been drained by hardware, the upper layer can send again. No
// payload is touched.
func (t *Tx) Complete() {
	if !t.ring.At(t.ring.Cursor()).Load().HardwareOwned() {
		t.ready()
	}
}

func alignUp(n int) int {
	return (n + bufferAlign - 1) &^ (bufferAlign - 1)
}
