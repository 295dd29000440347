// Package mdio implements the synchronous management bus used to read and
// write PHY registers through the MAC's station-management port. Transfers
// are polled: software starts a transaction and spins on the port's
// completion flag. The unbounded spin mirrors how the hardware is driven in
// practice; bounded variants with a timeout are provided as the safer
// option for callers that can tolerate the deviation.
package mdio

import (
	"errors"
	"runtime"
	"time"
)

// Opcode is the management frame access type. Only the standard (Clause 22)
// read and write opcodes are performed; every other opcode is a silent
// no-op, because callers probe peripheral capability by opcode and expect a
// zero answer rather than an error.
type Opcode uint8

const (
	OpWrite Opcode = 1
	OpRead  Opcode = 2
)

// ErrTimeout is returned by the bounded-wait variants when the port does
// not complete a transaction in time.
var ErrTimeout = errors.New("management bus transaction timed out")

// Port is the peripheral capability behind the bus: start a management
// transaction, expose the completion flag, expose the read-back data.
type Port interface {
	// Start begins a transaction. For reads, data is ignored.
	Start(op Opcode, phyAddr, regAddr uint8, data uint16)
	// Idle reports whether the port has completed the last transaction.
	Idle() bool
	// Data returns the data register after a completed read.
	Data() uint16
}

// Bus drives a [Port] synchronously from task context.
type Bus struct {
	port Port
}

// New returns a bus over the given port.
func New(port Port) *Bus {
	return &Bus{port: port}
}

// Write writes a PHY register and spins until the port goes idle. Opcodes
// other than [OpWrite] do nothing.
func (b *Bus) Write(op Opcode, phyAddr, regAddr uint8, data uint16) {
	if op != OpWrite {
		return
	}
	b.port.Start(OpWrite, phyAddr, regAddr, data)
	b.spin()
}

// Read reads a PHY register and spins until the port goes idle. Opcodes
// other than [OpRead] return zero.
func (b *Bus) Read(op Opcode, phyAddr, regAddr uint8) uint16 {
	if op != OpRead {
		return 0
	}
	b.port.Start(OpRead, phyAddr, regAddr, 0)
	b.spin()
	return b.port.Data()
}

// WriteTimeout is [Bus.Write] with a bounded wait.
func (b *Bus) WriteTimeout(op Opcode, phyAddr, regAddr uint8, data uint16, d time.Duration) error {
	if op != OpWrite {
		return nil
	}
	b.port.Start(OpWrite, phyAddr, regAddr, data)
	return b.spinTimeout(d)
}

// ReadTimeout is [Bus.Read] with a bounded wait.
func (b *Bus) ReadTimeout(op Opcode, phyAddr, regAddr uint8, d time.Duration) (uint16, error) {
	if op != OpRead {
		return 0, nil
	}
	b.port.Start(OpRead, phyAddr, regAddr, 0)
	if err := b.spinTimeout(d); err != nil {
		return 0, err
	}
	return b.port.Data(), nil
}

func (b *Bus) spin() {
	for !b.port.Idle() {
		runtime.Gosched()
	}
}

func (b *Bus) spinTimeout(d time.Duration) error {
	deadline := time.Now().Add(d)
	for !b.port.Idle() {
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		runtime.Gosched()
	}
	return nil
}
