package descring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New(0, 64, DirTransmit)
	assert.ErrorIs(t, err, ErrRingSizeInvalid)

	_, err = New(-1, 64, DirTransmit)
	assert.ErrorIs(t, err, ErrRingSizeInvalid)

	_, err = New(4, 0, DirTransmit)
	assert.ErrorIs(t, err, ErrBufferSizeInvalid)

	_, err = New(4, MaxLength+1, DirTransmit)
	assert.ErrorIs(t, err, ErrBufferSizeInvalid)

	// Not a multiple of the copy granularity
	_, err = New(4, 63, DirTransmit)
	assert.ErrorIs(t, err, ErrBufferSizeInvalid)

	r, err := New(4, 64, DirTransmit)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Capacity())
	assert.Equal(t, 64, r.BufferSize())
	assert.Equal(t, DirTransmit, r.Direction())
}

func TestNewInitialOwnership(t *testing.T) {
	tx, err := New(4, 64, DirTransmit)
	require.NoError(t, err)
	for i := 0; i < tx.Capacity(); i++ {
		assert.Equal(t, OwnerSoftware, tx.OwnerAt(i), "tx slot %d", i)
	}

	rx, err := New(4, 64, DirReceive)
	require.NoError(t, err)
	for i := 0; i < rx.Capacity(); i++ {
		assert.Equal(t, OwnerHardware, rx.OwnerAt(i), "rx slot %d", i)
	}
}

// The wrap flag must sit on the final slot and nowhere else, or the DMA
// engine would either loop early or run off the list.
func TestWrapFlagPlacement(t *testing.T) {
	for _, dir := range []Direction{DirTransmit, DirReceive} {
		r, err := New(5, 64, dir)
		require.NoError(t, err)

		for i := 0; i < r.Capacity(); i++ {
			s := r.At(i).Load()
			if i == r.Capacity()-1 {
				assert.True(t, s.Wrap(), "%s slot %d", dir, i)
				assert.True(t, r.IsWrapSlot(i))
			} else {
				assert.False(t, s.Wrap(), "%s slot %d", dir, i)
				assert.False(t, r.IsWrapSlot(i))
			}
		}
	}
}

func TestAdvanceWraps(t *testing.T) {
	r, err := New(3, 64, DirTransmit)
	require.NoError(t, err)

	assert.Equal(t, 1, r.Advance(0))
	assert.Equal(t, 2, r.Advance(1))
	assert.Equal(t, 0, r.Advance(2))
}

// Reinitializing a dirty ring must restore the exact post-construction
// state, because it is the bus error recovery path.
func TestInitIdempotent(t *testing.T) {
	r, err := New(4, 8, DirReceive)
	require.NoError(t, err)

	// Dirty everything: statuses, payloads, cursor.
	for i := 0; i < r.Capacity(); i++ {
		d := r.At(i)
		copy(d.Buffer(), []byte{1, 2, 3, 4, 5, 6, 7, 8})
		d.Store(StatusLast | StatusErrCRC | Status(0).WithLength(8))
	}
	r.setCursor(3)

	r.Init()

	assert.Equal(t, 0, r.Cursor())
	for i := 0; i < r.Capacity(); i++ {
		want := StatusHardwareOwned
		if i == r.Capacity()-1 {
			want |= StatusWrap
		}
		assert.Equal(t, want, r.At(i).Load(), "slot %d", i)
		assert.Equal(t, make([]byte, 8), r.At(i).Buffer(), "slot %d buffer", i)
	}
}

func TestStatusFields(t *testing.T) {
	s := (StatusHardwareOwned | StatusLast).WithLength(100)
	assert.True(t, s.HardwareOwned())
	assert.True(t, s.Last())
	assert.False(t, s.Wrap())
	assert.False(t, s.First())
	assert.False(t, s.HasError())
	assert.Equal(t, 100, s.Length())

	// Length updates must not disturb the flags.
	s = s.WithLength(MaxLength)
	assert.True(t, s.HardwareOwned())
	assert.True(t, s.Last())
	assert.Equal(t, MaxLength, s.Length())

	assert.True(t, (s | StatusErrOverrun).HasError())
	assert.True(t, (s | StatusErrTruncated).HasError())
}

func TestBuffersAreDistinct(t *testing.T) {
	r, err := New(3, 8, DirTransmit)
	require.NoError(t, err)

	for i := 0; i < r.Capacity(); i++ {
		for j := range r.At(i).Buffer() {
			r.At(i).Buffer()[j] = byte(i + 1)
		}
	}
	for i := 0; i < r.Capacity(); i++ {
		for _, b := range r.At(i).Buffer() {
			assert.Equal(t, byte(i+1), b)
		}
	}
}
