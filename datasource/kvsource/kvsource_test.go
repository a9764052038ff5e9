package kvsource

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/kvdb/memorydb"
)

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func TestImportAndRead(t *testing.T) {
	require := require.New(t)

	db := memorydb.New()
	s, err := NewStore(db, 2)
	require.NoError(err)
	defer s.Close()

	data := testData(1000)
	size, err := s.Import("cloud", bytes.NewReader(data), 64)
	require.NoError(err)
	require.Equal(uint64(1000), size)
	_, err = s.Import("other", bytes.NewReader(nil), 64)
	require.NoError(err)

	names, err := s.Names()
	require.NoError(err)
	require.Equal([]string{"cloud", "other"}, names)

	src, err := s.Open(dsrc.Host{URL: "kv://"}, "cloud")
	require.NoError(err)
	require.Equal(dsrc.ID("cloud"), src.ID())
	require.Equal(uint64(1000), src.Size())

	// reads crossing pages, including the short last one
	for _, r := range []struct{ off, n int }{{0, 64}, {60, 10}, {100, 500}, {990, 10}, {0, 1000}} {
		dst := make([]byte, r.n)
		require.NoError(src.Read(uint64(r.off), dst))
		require.Equal(data[r.off:r.off+r.n], dst)
	}
	require.ErrorIs(src.Read(995, make([]byte, 10)), dsrc.ErrOutOfRange)

	require.NoError(src.Close())
	require.False(src.ValidHandle())
	require.ErrorIs(src.Read(0, make([]byte, 1)), dsrc.ErrInvalidHandle)

	_, err = s.Open(dsrc.Host{URL: "kv://"}, "missing")
	require.ErrorIs(err, ErrNotFound)
	_, err = s.Import("bad", bytes.NewReader(data), 0)
	require.ErrorIs(err, ErrZeroPageSize)
}

func TestMissingPage(t *testing.T) {
	require := require.New(t)

	db := memorydb.New()
	s, err := NewStore(db, 1)
	require.NoError(err)
	_, err = s.Import("cloud", bytes.NewReader(testData(200)), 64)
	require.NoError(err)
	require.NoError(db.Delete(pageKey("cloud", 1)))

	src, err := s.Open(dsrc.Host{URL: "kv://"}, "cloud")
	require.NoError(err)
	require.NoError(src.Read(0, make([]byte, 64)))
	require.ErrorIs(src.Read(64, make([]byte, 10)), ErrMissingPage)
}
