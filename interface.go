package cyclone

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/Leaumonte/CycloneTCP/descring"
	"github.com/Leaumonte/CycloneTCP/macfilter"
	"github.com/Leaumonte/CycloneTCP/mdio"
)

// ErrNoPhyAttached is returned by [NIC.Init] when no PHY or switch
// collaborator was attached. Fatal to initialization only.
var ErrNoPhyAttached = errors.New("no PHY or switch driver attached")

// LinkSpeed is the negotiated link speed.
type LinkSpeed uint8

const (
	Speed10 LinkSpeed = iota
	Speed100
	Speed1000
)

func (s LinkSpeed) String() string {
	switch s {
	case Speed1000:
		return "1000M"
	case Speed100:
		return "100M"
	default:
		return "10M"
	}
}

// Duplex is the negotiated duplex mode.
type Duplex uint8

const (
	HalfDuplex Duplex = iota
	FullDuplex
)

func (d Duplex) String() string {
	if d == FullDuplex {
		return "full"
	}
	return "half"
}

// IRQStatus is the decoded and acknowledged interrupt cause set.
type IRQStatus struct {
	TxDone   bool
	RxDone   bool
	BusError bool
}

// Adapter is the peripheral capability the engine drives. Everything a
// given silicon family does differently (register maps, status bit
// layouts, descriptor list base registers) stays behind this interface;
// the ring engine itself is identical across chips.
type Adapter interface {
	// AttachRings tells the peripheral where the descriptor lists live.
	AttachRings(tx, rx *descring.Ring)
	// Enable starts the transmit and receive circuits.
	Enable()
	// Disable stops them. Required before reinitializing rings.
	Disable()
	// EnableInterrupts unmasks the MAC interrupt sources.
	EnableInterrupts()
	// DisableInterrupts masks them.
	DisableInterrupts()
	// KickTransmit pokes the transmit descriptor poll.
	KickTransmit()
	// KickReceive pokes the receive descriptor poll.
	KickReceive()
	// AckStatus reads and clears the pending interrupt causes.
	AckStatus() IRQStatus
	// ApplyFilter writes the computed address filter to the peripheral in
	// one shot.
	ApplyFilter(macfilter.Filter)
	// SetLinkMode reconfigures the MAC for the negotiated link.
	SetLinkMode(LinkSpeed, Duplex)
	// ParkUnusedQueues points any additional DMA queues at quiescent
	// placeholder descriptors so they never fetch real buffers.
	ParkUnusedQueues()
	// MDIO exposes the station-management port.
	MDIO() mdio.Port
}

// PHY is the attached PHY or switch collaborator. Its bring-up and link
// negotiation are not modeled here.
type PHY interface {
	Init() error
	Tick()
	EnableInterrupts()
	DisableInterrupts()
}

// Pending work bits shared between interrupt and task context. Data never
// travels through these; it stays in the rings.
const (
	pendingRx = 1 << iota
	pendingBusError
)

// NIC bridges a MAC peripheral to the protocol stack's packet I/O
// contract. All data movement happens in task context ([NIC.HandleEvent],
// [NIC.SendFrame]); interrupt context ([NIC.Interrupt]) only acknowledges
// status and raises signals. The engine assumes a single task-context
// caller per ring.
type NIC struct {
	l *logrus.Logger

	adapter Adapter
	phy     PHY
	bus     *mdio.Bus

	txRing *descring.Ring
	rxRing *descring.Ring
	tx     *descring.Tx
	rx     *descring.Rx

	station    []byte
	filterOpts macfilter.Options

	// event is the single-producer/single-consumer "work pending" signal
	// from interrupt to task context. Capacity 1, payload-free.
	event   chan struct{}
	txReady chan struct{}
	pending atomic.Uint32

	busErrors metrics.Counter
}

// Tick delegates periodic work to the attached PHY, typically link
// polling.
func (n *NIC) Tick() {
	if n.phy != nil {
		n.phy.Tick()
	}
}

// EnableInterrupts unmasks the MAC and PHY interrupt sources.
func (n *NIC) EnableInterrupts() {
	n.adapter.EnableInterrupts()
	if n.phy != nil {
		n.phy.EnableInterrupts()
	}
}

// DisableInterrupts masks the MAC and PHY interrupt sources.
func (n *NIC) DisableInterrupts() {
	n.adapter.DisableInterrupts()
	if n.phy != nil {
		n.phy.DisableInterrupts()
	}
}

// Interrupt is the interrupt-context entry point, invoked by whatever
// delivers the peripheral's interrupt line. It acknowledges the pending
// causes, re-checks transmit readiness, and signals task context. It never
// moves data.
func (n *NIC) Interrupt() {
	st := n.adapter.AckStatus()

	if st.TxDone {
		n.tx.Complete()
		n.adapter.KickTransmit()
	}

	var work bool
	if st.RxDone {
		orUint32(&n.pending, pendingRx)
		work = true
	}
	if st.BusError {
		orUint32(&n.pending, pendingBusError)
		work = true
	}
	if work {
		select {
		case n.event <- struct{}{}:
		default:
		}
	}
}

// orUint32 is atomic.Uint32.Or, which requires Go 1.23; the build toolchain
// is older, so the same atomic OR is done with a CAS loop.
func orUint32(u *atomic.Uint32, mask uint32) {
	for {
		old := u.Load()
		if u.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// HandleEvent runs in task context after [NIC.Interrupt] signaled work: it
// drains the receive ring until empty, then recovers from a bus error if
// one was flagged.
func (n *NIC) HandleEvent() {
	p := n.pending.Swap(0)

	if p&pendingRx != 0 {
		for {
			err := n.rx.Poll()
			if errors.Is(err, descring.ErrBufferEmpty) {
				break
			}
			if err != nil {
				n.l.WithError(err).Debug("Dropped an invalid frame")
			}
		}
	}

	if p&pendingBusError != 0 {
		n.recoverBusError()
	}
}

// recoverBusError restores a sane ring state after a fatal bus error. Any
// frame in flight is lost; that loss is expected, not exceptional, and is
// never surfaced to callers.
func (n *NIC) recoverBusError() {
	n.busErrors.Inc(1)
	n.l.WithField("txCursor", n.txRing.Cursor()).
		WithField("rxCursor", n.rxRing.Cursor()).
		Warn("Bus error, reinitializing descriptor rings")

	n.adapter.Disable()
	n.txRing.Init()
	n.rxRing.Init()
	n.adapter.Enable()
	n.adapter.KickReceive()
	n.signalTxReady()
}

// SendFrame queues one outbound frame. See [descring.Tx.Send] for the
// error contract.
func (n *NIC) SendFrame(frame []byte) error {
	return n.tx.Send(frame)
}

// UpdateAddressFilter recomputes the acceptance filter from the registered
// entries and applies it to the peripheral in full, never partially.
func (n *NIC) UpdateAddressFilter(entries []macfilter.Entry) {
	f := macfilter.Build(n.station, entries, n.filterOpts)
	n.adapter.ApplyFilter(f)
	n.l.WithField("hashLow", f.Hash[0]).WithField("hashHigh", f.Hash[1]).
		WithField("exact", len(f.Exact)).Debug("Updated MAC address filter")
}

// UpdateLinkConfig reconfigures the MAC after the PHY renegotiated the
// link. The rings are reinitialized in place; frames in flight are lost.
func (n *NIC) UpdateLinkConfig(speed LinkSpeed, duplex Duplex) {
	n.l.WithField("speed", speed).WithField("duplex", duplex).
		Info("Link configuration changed")

	n.adapter.Disable()
	n.adapter.SetLinkMode(speed, duplex)
	n.txRing.Init()
	n.rxRing.Init()
	n.adapter.Enable()
	n.adapter.KickReceive()
	n.signalTxReady()
}

// WriteManagementRegister writes a PHY register through the management
// bus.
func (n *NIC) WriteManagementRegister(op mdio.Opcode, phyAddr, regAddr uint8, data uint16) {
	n.bus.Write(op, phyAddr, regAddr, data)
}

// ReadManagementRegister reads a PHY register through the management bus.
func (n *NIC) ReadManagementRegister(op mdio.Opcode, phyAddr, regAddr uint8) uint16 {
	return n.bus.Read(op, phyAddr, regAddr)
}

// TxReady signals that the transmitter can accept another frame. Capacity
// 1; receiving consumes the signal.
func (n *NIC) TxReady() <-chan struct{} {
	return n.txReady
}

// Event signals that task-context work is pending; the consumer calls
// [NIC.HandleEvent]. [NIC.Run] wraps this loop.
func (n *NIC) Event() <-chan struct{} {
	return n.event
}

// Run services events until the context is canceled.
func (n *NIC) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.event:
			n.HandleEvent()
		}
	}
}

// TxRing exposes the transmit ring, mainly for inspection.
func (n *NIC) TxRing() *descring.Ring { return n.txRing }

// RxRing exposes the receive ring, mainly for inspection.
func (n *NIC) RxRing() *descring.Ring { return n.rxRing }

func (n *NIC) signalTxReady() {
	select {
	case n.txReady <- struct{}{}:
	default:
	}
}
