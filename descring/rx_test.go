package descring

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rxRecorder struct {
	kicks  int
	frames [][]byte
}

func (r *rxRecorder) deliver(frame []byte) {
	f := make([]byte, len(frame))
	copy(f, frame)
	r.frames = append(r.frames, f)
}

func newTestRx(t *testing.T, capacity, bufferSize int, mode FrameMode, maxFrame int) (*Rx, *Ring, *rxRecorder) {
	t.Helper()
	r, err := New(capacity, bufferSize, DirReceive)
	require.NoError(t, err)

	rec := &rxRecorder{}
	rx := NewRx(r, mode, maxFrame, func() { rec.kicks++ }, rec.deliver)
	return rx, r, rec
}

// complete plays the peripheral: it writes the payload into slot i and
// publishes the status word with the ownership bit cleared.
func complete(r *Ring, i int, payload []byte, s Status) {
	copy(r.At(i).Buffer(), payload)
	if r.IsWrapSlot(i) {
		s |= StatusWrap
	}
	r.At(i).Store(s)
}

func TestRxSingleEmpty(t *testing.T) {
	rx, _, rec := newTestRx(t, 4, 64, FrameModeSingle, 0)

	assert.ErrorIs(t, rx.Poll(), ErrBufferEmpty)
	assert.Equal(t, 0, rec.kicks)
	assert.Empty(t, rec.frames)
}

func TestRxSingleRoundTrip(t *testing.T) {
	rx, r, rec := newTestRx(t, 4, 64, FrameModeSingle, 0)

	payload := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	complete(r, 0, payload, StatusLast|Status(0).WithLength(len(payload)))

	require.NoError(t, rx.Poll())
	require.Len(t, rec.frames, 1)
	assert.Equal(t, payload, rec.frames[0])

	// The slot went straight back to hardware and the cursor moved on.
	assert.Equal(t, OwnerHardware, r.OwnerAt(0))
	assert.Equal(t, 1, r.Cursor())
	assert.Equal(t, 1, rec.kicks)

	assert.ErrorIs(t, rx.Poll(), ErrBufferEmpty)
}

func TestRxSingleErrorFlags(t *testing.T) {
	for _, flag := range []Status{
		StatusErrOversize, StatusErrUndersize, StatusErrCRC,
		StatusErrOverrun, StatusErrTruncated,
	} {
		rx, r, rec := newTestRx(t, 4, 64, FrameModeSingle, 0)
		complete(r, 0, []byte{1, 2, 3, 4}, StatusLast|flag|Status(0).WithLength(4))

		assert.ErrorIs(t, rx.Poll(), ErrInvalidPacket, "flag %x", flag)
		assert.Empty(t, rec.frames)

		// Dropped frames still recycle their slot.
		assert.Equal(t, OwnerHardware, r.OwnerAt(0))
		assert.Equal(t, 1, r.Cursor())
		assert.Equal(t, 1, rec.kicks)
	}
}

func TestRxSingleMissingLast(t *testing.T) {
	rx, r, rec := newTestRx(t, 4, 64, FrameModeSingle, 0)

	// A frame that claims to continue past its buffer is malformed here.
	complete(r, 0, []byte{1, 2, 3, 4}, Status(0).WithLength(4))

	assert.ErrorIs(t, rx.Poll(), ErrInvalidPacket)
	assert.Empty(t, rec.frames)
	assert.Equal(t, OwnerHardware, r.OwnerAt(0))
	assert.Equal(t, 1, r.Cursor())
}

func TestRxSingleLengthClamped(t *testing.T) {
	rx, r, rec := newTestRx(t, 4, 8, FrameModeSingle, 0)

	// The MAC reports more bytes than the buffer holds; only the buffer's
	// worth is delivered.
	complete(r, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8}, StatusLast|Status(0).WithLength(20))

	require.NoError(t, rx.Poll())
	require.Len(t, rec.frames, 1)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, rec.frames[0])
}

func TestRxSingleSequence(t *testing.T) {
	rx, r, rec := newTestRx(t, 3, 64, FrameModeSingle, 0)

	// Fill the whole ring, then drain it, crossing the wrap point.
	for i := 0; i < 3; i++ {
		complete(r, i, []byte{byte(i + 1)}, StatusLast|Status(0).WithLength(1))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, rx.Poll(), "frame %d", i)
	}
	assert.ErrorIs(t, rx.Poll(), ErrBufferEmpty)

	require.Len(t, rec.frames, 3)
	for i, f := range rec.frames {
		assert.Equal(t, []byte{byte(i + 1)}, f)
	}
	assert.Equal(t, 0, r.Cursor())

	// Another frame after the wrap still comes through.
	complete(r, 0, []byte{9}, StatusLast|Status(0).WithLength(1))
	require.NoError(t, rx.Poll())
	assert.Equal(t, []byte{9}, rec.frames[3])
}

func TestRxSingleAllLengths(t *testing.T) {
	rx, r, rec := newTestRx(t, 2, 64, FrameModeSingle, 0)

	// Every payload length a slot can hold survives the round trip.
	for n := 1; n <= 64; n++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(n + i)
		}
		complete(r, r.Cursor(), payload, StatusLast|Status(0).WithLength(n))

		require.NoError(t, rx.Poll(), "length %d", n)
		require.Len(t, rec.frames, n)
		assert.Equal(t, payload, rec.frames[n-1], "length %d", n)
	}
}

func TestRxScatterEmpty(t *testing.T) {
	rx, _, rec := newTestRx(t, 6, 8, FrameModeScatter, 64)

	assert.ErrorIs(t, rx.Poll(), ErrBufferEmpty)
	assert.Equal(t, 0, rec.kicks)
}

func TestRxScatterReassembly(t *testing.T) {
	rx, r, rec := newTestRx(t, 6, 8, FrameModeScatter, 64)

	// A 20 byte frame over three 8 byte buffers. The end-of-frame slot
	// carries the total length.
	frame := make([]byte, 20)
	for i := range frame {
		frame[i] = byte(i + 1)
	}
	complete(r, 0, frame[0:8], StatusFirst)
	complete(r, 1, frame[8:16], 0)
	complete(r, 2, frame[16:20], StatusLast|Status(0).WithLength(20))

	require.NoError(t, rx.Poll())
	require.Len(t, rec.frames, 1)
	assert.Equal(t, frame, rec.frames[0])

	for i := 0; i < 3; i++ {
		assert.Equal(t, OwnerHardware, r.OwnerAt(i), "slot %d", i)
	}
	assert.Equal(t, 3, r.Cursor())
	assert.Equal(t, 1, rec.kicks)

	assert.ErrorIs(t, rx.Poll(), ErrBufferEmpty)
}

func TestRxScatterAcrossWrap(t *testing.T) {
	rx, r, rec := newTestRx(t, 4, 8, FrameModeScatter, 64)
	r.setCursor(3)

	frame := make([]byte, 12)
	for i := range frame {
		frame[i] = byte(0xa0 + i)
	}
	complete(r, 3, frame[0:8], StatusFirst)
	complete(r, 0, frame[8:12], StatusLast|Status(0).WithLength(12))

	require.NoError(t, rx.Poll())
	require.Len(t, rec.frames, 1)
	assert.Equal(t, frame, rec.frames[0])
	assert.Equal(t, 1, r.Cursor())

	// Wrap flags stayed where they belong after recycling.
	assert.True(t, r.At(3).Load().Wrap())
	assert.False(t, r.At(0).Load().Wrap())
}

func TestRxScatterFrameInFlight(t *testing.T) {
	rx, r, rec := newTestRx(t, 6, 8, FrameModeScatter, 64)

	// The start of a frame has landed but its end has not: nothing to
	// deliver, nothing consumed.
	complete(r, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8}, StatusFirst)

	assert.ErrorIs(t, rx.Poll(), ErrBufferEmpty)
	assert.Empty(t, rec.frames)
	assert.Equal(t, 0, r.Cursor())
	assert.Equal(t, OwnerSoftware, r.OwnerAt(0))
	assert.Equal(t, 0, rec.kicks)

	// The rest of the frame arrives; now it is delivered in one piece.
	complete(r, 1, []byte{9, 10}, StatusLast|Status(0).WithLength(10))
	require.NoError(t, rx.Poll())
	require.Len(t, rec.frames, 1)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, rec.frames[0])
}

func TestRxScatterStrayFragments(t *testing.T) {
	rx, r, rec := newTestRx(t, 6, 8, FrameModeScatter, 64)

	// Fragments with no start-of-frame are leftovers from a frame the
	// engine already gave up on; they are recycled so the ring cannot
	// stall.
	complete(r, 0, []byte{1, 2, 3}, 0)
	complete(r, 1, []byte{4, 5, 6}, StatusLast|Status(0).WithLength(6))

	assert.ErrorIs(t, rx.Poll(), ErrBufferEmpty)
	assert.Empty(t, rec.frames)
	assert.Equal(t, OwnerHardware, r.OwnerAt(0))
	assert.Equal(t, OwnerHardware, r.OwnerAt(1))
	assert.Equal(t, 2, r.Cursor())
	assert.Equal(t, 1, rec.kicks)
}

func TestRxScatterStraysBeforeFrame(t *testing.T) {
	rx, r, rec := newTestRx(t, 6, 8, FrameModeScatter, 64)

	// A stray fragment sits in front of a complete frame; one poll
	// recycles the stray and delivers the frame.
	complete(r, 0, []byte{0xff, 0xff}, 0)
	complete(r, 1, []byte{1, 2, 3, 4, 5, 6, 7, 8}, StatusFirst)
	complete(r, 2, []byte{9, 10}, StatusLast|Status(0).WithLength(10))

	require.NoError(t, rx.Poll())
	require.Len(t, rec.frames, 1)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, rec.frames[0])
	assert.Equal(t, 3, r.Cursor())
}

// A goroutine plays the DMA engine, streaming many variable-size frames
// through a small ring while the receive path drains it concurrently.
// Every frame must come out byte-exact and in order, crossing the wrap
// slot many times along the way.
func TestRxScatterConcurrentStream(t *testing.T) {
	const (
		capacity = 8
		bufSize  = 16
		count    = 200
	)

	r, err := New(capacity, bufSize, DirReceive)
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got [][]byte
	)
	rx := NewRx(r, FrameModeScatter, 256, func() {}, func(frame []byte) {
		f := make([]byte, len(frame))
		copy(f, frame)
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})

	frames := make([][]byte, count)
	for i := range frames {
		f := make([]byte, 1+(i*17)%100)
		for j := range f {
			f[j] = byte(i*31 + j)
		}
		frames[i] = f
	}

	go func() {
		cur := 0
		for _, f := range frames {
			need := (len(f) + bufSize - 1) / bufSize
			for k := 0; k < need; k++ {
				d := r.At(cur)
				// Wait for the receive path to hand the slot back.
				for !d.Load().HardwareOwned() {
					runtime.Gosched()
				}

				chunk := f[k*bufSize : min((k+1)*bufSize, len(f))]
				copy(d.Buffer(), chunk)

				var s Status
				if k == 0 {
					s |= StatusFirst
				}
				if k == need-1 {
					s = (s | StatusLast).WithLength(len(f))
				}
				if r.IsWrapSlot(cur) {
					s |= StatusWrap
				}
				d.Store(s)
				cur = r.Advance(cur)
			}
		}
	}()

	deadline := time.Now().Add(10 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= count {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d frames arrived", n, count)
		}

		err := rx.Poll()
		if errors.Is(err, ErrBufferEmpty) {
			runtime.Gosched()
			continue
		}
		require.NoError(t, err)
	}

	require.Len(t, got, count)
	for i, f := range got {
		assert.Equal(t, frames[i], f, "frame %d", i)
	}
}

func TestRxScatterOversizeClipped(t *testing.T) {
	rx, r, rec := newTestRx(t, 6, 8, FrameModeScatter, 16)

	// The end-of-frame slot claims more than the assembly cap; delivery is
	// clipped to the cap.
	complete(r, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8}, StatusFirst)
	complete(r, 1, []byte{9, 10, 11, 12, 13, 14, 15, 16}, 0)
	complete(r, 2, []byte{17, 18, 19, 20}, StatusLast|Status(0).WithLength(20))

	require.NoError(t, rx.Poll())
	require.Len(t, rec.frames, 1)
	assert.Len(t, rec.frames[0], 16)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, rec.frames[0])
}
