// Package hwsim provides a software model of a MAC peripheral for tests
// and the simulator binary. It plays the hardware side of the descriptor
// rings: it drains transmit slots onto a captured wire, fills receive
// slots from injected frames, and raises interrupts through a registered
// handler, honoring the same ownership handoff a DMA engine would.
package hwsim
