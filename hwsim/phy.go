package hwsim

import (
	"sync"
	"sync/atomic"
)

// PHY is a simulated PHY collaborator. It tracks how the driver exercises
// the PHY contract and can be made to fail initialization.
type PHY struct {
	// InitErr, when set, is returned by Init. The driver treats this as a
	// fatal configuration failure.
	InitErr error

	mu     sync.Mutex
	inited bool
	irqOn  bool

	ticks atomic.Uint32
}

func (p *PHY) Init() error {
	if p.InitErr != nil {
		return p.InitErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inited = true
	return nil
}

func (p *PHY) Tick() {
	p.ticks.Add(1)
}

func (p *PHY) EnableInterrupts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.irqOn = true
}

func (p *PHY) DisableInterrupts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.irqOn = false
}

// Initialized reports whether Init ran successfully.
func (p *PHY) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inited
}

// Ticks returns how many times the driver polled the PHY.
func (p *PHY) Ticks() uint32 {
	return p.ticks.Load()
}

// InterruptsEnabled reports the PHY interrupt mask state.
func (p *PHY) InterruptsEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.irqOn
}
