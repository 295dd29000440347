package descring

import "errors"

var (
	// ErrInvalidLength is returned when a frame does not fit a slot buffer.
	// The ring is left untouched; the caller simply handed us a wrong-sized
	// frame and may immediately try another one.
	ErrInvalidLength = errors.New("frame exceeds the ring buffer size")

	// ErrBusy is returned when the slot at the transmit cursor is still
	// owned by hardware. Transient; the caller retries once the ring drains.
	ErrBusy = errors.New("no free transmit descriptor")

	// ErrInvalidPacket is returned when a received frame carries error flags
	// or malformed boundary markers. The frame is dropped, the slot is
	// recycled, and the drain loop keeps going.
	ErrInvalidPacket = errors.New("received frame is invalid")

	// ErrBufferEmpty means there is no more completed work in the ring. It
	// terminates a drain loop and is not a real error.
	ErrBufferEmpty = errors.New("no completed descriptors")
)
