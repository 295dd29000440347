package hwsim

import (
	"sync"

	"github.com/Leaumonte/CycloneTCP/mdio"
)

// simPort models the MAC's station-management port over a small PHY
// register file. A transaction completes after a configurable number of
// Idle polls; a negative delay wedges the port, which is how the bounded
// bus waits are exercised.
type simPort struct {
	mu        sync.Mutex
	regs      [32][32]uint16
	delay     int
	remaining int
	wedged    bool
	data      uint16
}

func (p *simPort) Start(op mdio.Opcode, phyAddr, regAddr uint8, data uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.delay < 0 {
		p.wedged = true
		return
	}
	p.remaining = p.delay

	switch op {
	case mdio.OpWrite:
		p.regs[phyAddr&31][regAddr&31] = data
	case mdio.OpRead:
		p.data = p.regs[phyAddr&31][regAddr&31]
	}
}

func (p *simPort) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.wedged {
		return false
	}
	if p.remaining > 0 {
		p.remaining--
		return false
	}
	return true
}

func (p *simPort) Data() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}

// SetRegister seeds a PHY register directly, bypassing the bus.
func (m *MAC) SetRegister(phyAddr, regAddr uint8, data uint16) {
	m.port.mu.Lock()
	defer m.port.mu.Unlock()
	m.port.regs[phyAddr&31][regAddr&31] = data
}

// Register reads a PHY register directly, bypassing the bus.
func (m *MAC) Register(phyAddr, regAddr uint8) uint16 {
	m.port.mu.Lock()
	defer m.port.mu.Unlock()
	return m.port.regs[phyAddr&31][regAddr&31]
}
