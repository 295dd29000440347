package hwsim

import (
	"sync"

	"github.com/sirupsen/logrus"

	cyclone "github.com/Leaumonte/CycloneTCP"
	"github.com/Leaumonte/CycloneTCP/descring"
	"github.com/Leaumonte/CycloneTCP/macfilter"
	"github.com/Leaumonte/CycloneTCP/mdio"
)

// MACConfig tunes the simulated peripheral.
type MACConfig struct {
	// Scatter makes the receive engine split frames across as many slots
	// as they need, the way a multi-buffer DMA does. When false every
	// frame lands in a single slot and oversized frames are truncated
	// with an error flag, the way a single-buffer DMA does.
	Scatter bool

	// Loopback feeds every transmitted frame straight back into the
	// receive engine.
	Loopback bool

	// MDIODelay is how many Idle polls a management operation stays busy
	// for. Negative wedges the port forever.
	MDIODelay int
}

// MAC is a simulated Ethernet peripheral. It implements the driver's
// adapter contract on one side and a fake wire on the other.
//
// All methods are safe for concurrent use. The interrupt handler is
// invoked without any internal lock held, so it may call back into the
// MAC freely.
type MAC struct {
	l   *logrus.Logger
	cfg MACConfig

	mu      sync.Mutex
	tx      *descring.Ring
	rx      *descring.Ring
	txCur   int // next transmit slot the device will fetch
	rxCur   int // next receive slot the device will fill
	enabled bool

	irqOn   bool
	handler func()
	cause   cyclone.IRQStatus

	wire     [][]byte
	filter   macfilter.Filter
	hasFilt  bool
	speed    cyclone.LinkSpeed
	duplex   cyclone.Duplex
	parked   bool
	rxMissed int

	port simPort
}

// NewMAC builds a simulated MAC. The interrupt handler is registered
// separately once the driver exists, see [MAC.SetInterruptHandler].
func NewMAC(l *logrus.Logger, cfg MACConfig) *MAC {
	m := &MAC{l: l, cfg: cfg}
	m.port.delay = cfg.MDIODelay
	return m
}

// SetInterruptHandler registers the function the MAC calls to assert its
// interrupt line. If causes are already pending and interrupts are
// unmasked, the handler fires immediately.
func (m *MAC) SetInterruptHandler(h func()) {
	m.mu.Lock()
	m.handler = h
	fire := m.irqOn && m.causePending()
	m.mu.Unlock()

	if fire && h != nil {
		h()
	}
}

func (m *MAC) causePending() bool {
	return m.cause.TxDone || m.cause.RxDone || m.cause.BusError
}

// raise accumulates interrupt causes and asserts the line if unmasked.
// Callers must not hold m.mu.
func (m *MAC) raise(st cyclone.IRQStatus) {
	m.mu.Lock()
	m.cause.TxDone = m.cause.TxDone || st.TxDone
	m.cause.RxDone = m.cause.RxDone || st.RxDone
	m.cause.BusError = m.cause.BusError || st.BusError
	fire := m.irqOn
	h := m.handler
	m.mu.Unlock()

	if fire && h != nil {
		h()
	}
}

// AttachRings points the device at the descriptor lists.
func (m *MAC) AttachRings(tx, rx *descring.Ring) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tx = tx
	m.rx = rx
	m.txCur = 0
	m.rxCur = 0
}

// Enable starts the transmit and receive circuits. The device fetch
// cursors reset to slot 0, matching a freshly initialized ring.
func (m *MAC) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
	m.txCur = 0
	m.rxCur = 0
}

// Disable stops the circuits. Kicks and injections while disabled are
// ignored.
func (m *MAC) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// EnableInterrupts unmasks the interrupt line. Causes that arrived while
// masked are delivered now.
func (m *MAC) EnableInterrupts() {
	m.mu.Lock()
	m.irqOn = true
	fire := m.causePending()
	h := m.handler
	m.mu.Unlock()

	if fire && h != nil {
		h()
	}
}

// DisableInterrupts masks the interrupt line. Causes keep accumulating.
func (m *MAC) DisableInterrupts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.irqOn = false
}

// AckStatus reads and clears the pending interrupt causes.
func (m *MAC) AckStatus() cyclone.IRQStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.cause
	m.cause = cyclone.IRQStatus{}
	return st
}

// KickTransmit is the transmit descriptor poll. The device walks the ring
// from its fetch cursor, copies out every slot the software handed over,
// returns the slots, and raises a transmit-complete interrupt if it moved
// at least one frame.
func (m *MAC) KickTransmit() {
	m.mu.Lock()
	if !m.enabled || m.tx == nil {
		m.mu.Unlock()
		return
	}

	var sent [][]byte
	for {
		d := m.tx.At(m.txCur)
		st := d.Load()
		if !st.HardwareOwned() {
			break
		}

		frame := make([]byte, st.Length())
		copy(frame, d.Buffer())
		sent = append(sent, frame)
		m.wire = append(m.wire, frame)

		// Return the slot. Only the wrap flag survives.
		var ns descring.Status
		if m.tx.IsWrapSlot(m.txCur) {
			ns |= descring.StatusWrap
		}
		d.Store(ns)
		m.txCur = m.tx.Advance(m.txCur)
	}
	loop := m.cfg.Loopback
	m.mu.Unlock()

	if len(sent) == 0 {
		return
	}

	m.raise(cyclone.IRQStatus{TxDone: true})
	if loop {
		for _, f := range sent {
			m.Inject(f)
		}
	}
}

// KickReceive is the receive descriptor poll. The simulated device fills
// slots eagerly on injection, so there is nothing to do here.
func (m *MAC) KickReceive() {}

// ApplyFilter latches the computed acceptance filter.
func (m *MAC) ApplyFilter(f macfilter.Filter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = f
	m.hasFilt = true
}

// SetLinkMode latches the negotiated link configuration.
func (m *MAC) SetLinkMode(speed cyclone.LinkSpeed, duplex cyclone.Duplex) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speed = speed
	m.duplex = duplex
}

// ParkUnusedQueues records that the extra DMA queues were pointed at
// placeholder descriptors.
func (m *MAC) ParkUnusedQueues() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parked = true
}

// MDIO exposes the simulated station-management port.
func (m *MAC) MDIO() mdio.Port {
	return &m.port
}

// Inject delivers one frame from the wire into the receive ring and
// raises a receive interrupt. Frames that do not fit in the available
// hardware-owned slots are dropped, like a real MAC out of buffers.
func (m *MAC) Inject(frame []byte) {
	m.inject(frame, 0)
}

// InjectCorrupt delivers a frame with the given receive error flags set
// on its final descriptor.
func (m *MAC) InjectCorrupt(frame []byte, errFlags descring.Status) {
	m.inject(frame, errFlags&descring.StatusErrMask)
}

func (m *MAC) inject(frame []byte, errFlags descring.Status) {
	m.mu.Lock()
	if !m.enabled || m.rx == nil {
		m.mu.Unlock()
		return
	}

	ok := false
	if m.cfg.Scatter {
		ok = m.fillScatter(frame, errFlags)
	} else {
		ok = m.fillSingle(frame, errFlags)
	}
	if !ok {
		m.rxMissed++
		m.l.WithField("len", len(frame)).Debug("Receive ring full, frame dropped")
	}
	m.mu.Unlock()

	if ok {
		m.raise(cyclone.IRQStatus{RxDone: true})
	}
}

// fillSingle writes the frame into one slot. Frames longer than the slot
// buffer are truncated and flagged, the way a single-buffer DMA reports
// them.
func (m *MAC) fillSingle(frame []byte, errFlags descring.Status) bool {
	d := m.rx.At(m.rxCur)
	st := d.Load()
	if !st.HardwareOwned() {
		return false
	}

	n := copy(d.Buffer(), frame)
	if n < len(frame) {
		errFlags |= descring.StatusErrTruncated
	}

	ns := (descring.StatusLast | errFlags).WithLength(n)
	if m.rx.IsWrapSlot(m.rxCur) {
		ns |= descring.StatusWrap
	}
	d.Store(ns)
	m.rxCur = m.rx.Advance(m.rxCur)
	return true
}

// fillScatter spreads the frame across as many slots as it needs. The
// final slot carries the end-of-frame marker and the total frame length.
func (m *MAC) fillScatter(frame []byte, errFlags descring.Status) bool {
	bufSize := m.rx.BufferSize()
	need := (len(frame) + bufSize - 1) / bufSize
	if need == 0 {
		need = 1
	}

	// The whole frame must fit before anything is published.
	i := m.rxCur
	for k := 0; k < need; k++ {
		if !m.rx.At(i).Load().HardwareOwned() {
			return false
		}
		i = m.rx.Advance(i)
	}

	i = m.rxCur
	for k := 0; k < need; k++ {
		d := m.rx.At(i)
		chunk := frame[k*bufSize : min((k+1)*bufSize, len(frame))]
		copy(d.Buffer(), chunk)

		var ns descring.Status
		if k == 0 {
			ns |= descring.StatusFirst
		}
		if k == need-1 {
			ns = (ns | descring.StatusLast | errFlags).WithLength(len(frame))
		}
		if m.rx.IsWrapSlot(i) {
			ns |= descring.StatusWrap
		}
		d.Store(ns)
		i = m.rx.Advance(i)
	}
	m.rxCur = i
	return true
}

// InjectBusError raises a fatal bus error, the kind a real MAC reports
// when a DMA access faults.
func (m *MAC) InjectBusError() {
	m.raise(cyclone.IRQStatus{BusError: true})
}

// Wire returns a copy of every frame transmitted so far, in order.
func (m *MAC) Wire() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := make([][]byte, len(m.wire))
	copy(w, m.wire)
	return w
}

// ClearWire discards the transmit capture.
func (m *MAC) ClearWire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wire = nil
}

// LastFilter returns the most recently applied acceptance filter and
// whether one was applied at all.
func (m *MAC) LastFilter() (macfilter.Filter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter, m.hasFilt
}

// Accepts evaluates the latched filter against a destination address
// using the given hash strategy, mimicking the silicon's accept decision.
func (m *MAC) Accepts(addr []byte, strategy macfilter.Strategy) bool {
	m.mu.Lock()
	f := m.filter
	ok := m.hasFilt
	m.mu.Unlock()
	if !ok || len(addr) != 6 {
		return false
	}

	if string(addr) == string(f.Station) {
		return true
	}
	for _, e := range f.Exact {
		if string(addr) == string(e) {
			return true
		}
	}
	if addr[0]&1 == 0 && !f.UnicastHashed {
		return false
	}
	k := strategy.Index(addr)
	return f.Hash[k/32]&(1<<(k%32)) != 0
}

// LinkMode returns the latched link configuration.
func (m *MAC) LinkMode() (cyclone.LinkSpeed, cyclone.Duplex) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed, m.duplex
}

// Parked reports whether the unused queues were parked.
func (m *MAC) Parked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.parked
}

// Missed returns how many injected frames found no room in the receive
// ring.
func (m *MAC) Missed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rxMissed
}

// Enabled reports whether the transmit and receive circuits are running.
func (m *MAC) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}
