package multiread

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/inter/idx"
)

func testMultiRead(t *testing.T, source string, lengths ...uint32) MultiRead {
	mr := MultiRead{Source: dsrc.ID("res/" + source)}
	var offset uint64
	for i, l := range lengths {
		require.NoError(t, mr.Add(Read{Offset: offset, Length: l, Voxel: 1 + idx.Voxel(i)}))
		offset += uint64(l)
	}
	return mr
}

func TestMultiReadTotals(t *testing.T) {
	require := require.New(t)

	mr := testMultiRead(t, "a", 100, 200, 50)
	require.Equal(uint64(350), mr.TotalReadSize)
	require.NoError(mr.Validate())
	require.ErrorIs(mr.Add(Read{Offset: 1}), ErrEmptyRead)

	mr.TotalReadSize++
	require.ErrorIs(mr.Validate(), ErrSizeMismatch)

	empty := MultiRead{Source: "x"}
	require.ErrorIs(empty.Validate(), ErrEmptyMultiRead)

	huge := MultiRead{TotalReadSize: math.MaxUint64 - 1}
	require.ErrorIs(huge.Add(Read{Length: 5}), ErrOverflow)
}

func TestSetAddMultiRead(t *testing.T) {
	require := require.New(t)

	s := NewSet(2)
	ref, err := s.AddMultiRead(testMultiRead(t, "a", 10, 20))
	require.NoError(err)
	require.Equal(0, ref)
	ref, err = s.AddMultiRead(testMultiRead(t, "b", 5))
	require.NoError(err)
	require.Equal(1, ref)
	require.Equal(uint64(35), s.TotalReadSize())

	_, err = s.AddMultiRead(testMultiRead(t, "c", 1))
	require.ErrorIs(err, ErrTooManyMultiReads)
	require.Equal(2, s.Len())

	from, to := s.span(1)
	require.Equal(uint64(30), from)
	require.Equal(uint64(35), to)

	_, err = NewSet(0).AddMultiRead(MultiRead{Source: "a"})
	require.ErrorIs(err, ErrEmptyMultiRead)
	require.Equal(DefaultMaxMultiReads, NewSet(0).Max())
}

func TestCodecRoundTrip(t *testing.T) {
	require := require.New(t)

	s := NewSet(8)
	for _, name := range []string{"a", "b", "c"} {
		_, err := s.AddMultiRead(testMultiRead(t, name, 3, 1, 4, 1, 5))
		require.NoError(err)
	}
	b, err := EncodeSet(s)
	require.NoError(err)

	got, err := DecodeSet(b, 8)
	require.NoError(err)
	require.Equal(s.MultiReads(), got.MultiReads())
	require.Equal(s.TotalReadSize(), got.TotalReadSize())

	var sum uint64
	for _, mr := range got.MultiReads() {
		for _, r := range mr.Reads {
			sum += uint64(r.Length)
		}
	}
	require.Equal(got.TotalReadSize(), sum)
}

func TestDecodeRejectsCorruption(t *testing.T) {
	s := NewSet(8)
	for _, name := range []string{"a", "b", "c"} {
		_, err := s.AddMultiRead(testMultiRead(t, name, 10))
		require.NoError(t, err)
	}
	reads := s.MultiReads()

	encode := func(m setMarshaling) []byte {
		b, err := rlp.EncodeToBytes(&m)
		require.NoError(t, err)
		return b
	}

	t.Run("over max", func(t *testing.T) {
		b, err := EncodeSet(s)
		require.NoError(t, err)
		_, err = DecodeSet(b, 2)
		require.ErrorIs(t, err, ErrTooManyMultiReads)
	})
	t.Run("count above entries", func(t *testing.T) {
		_, err := DecodeSet(encode(setMarshaling{Count: 3, MultiReads: reads[:2]}), 8)
		require.ErrorIs(t, err, ErrCorruptedSet)
	})
	t.Run("count below entries", func(t *testing.T) {
		_, err := DecodeSet(encode(setMarshaling{Count: 2, MultiReads: reads}), 8)
		require.ErrorIs(t, err, ErrCorruptedSet)
	})
	t.Run("total mismatch", func(t *testing.T) {
		bad := append([]MultiRead(nil), reads...)
		bad[1].TotalReadSize = 11
		_, err := DecodeSet(encode(setMarshaling{Count: 3, MultiReads: bad}), 8)
		require.ErrorIs(t, err, ErrCorruptedSet)
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := DecodeSet([]byte{0x01, 0x02}, 8)
		require.ErrorIs(t, err, ErrCorruptedSet)
	})
}
