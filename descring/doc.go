// Package descring implements the descriptor-ring packet engine shared
// between driver software and an autonomous DMA engine. A ring is a
// fixed-size circular array of transfer descriptors, each tied to a backing
// buffer for the lifetime of the ring. Software and hardware hand slots back
// and forth through an ownership flag in the descriptor status word; all
// payload movement happens on the side that currently owns the slot.
// This package does not know anything about a particular MAC's register
// layout. The peripheral is reached only through the kick callbacks wired in
// by the caller.
package descring
