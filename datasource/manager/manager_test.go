package manager

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pointcloud/voxelstream/datasource/kvsource"
	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/kvdb/memorydb"
	"github.com/pointcloud/voxelstream/streaming/multiread"
)

var host = dsrc.Host{URL: "file://local"}

func TestDirManager(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(os.WriteFile(filepath.Join(dir, name), []byte("data-"+name), 0600))
	}
	m, err := New(host, 2, Dir(dir))
	require.NoError(err)

	a, err := m.Get("a")
	require.NoError(err)
	again, err := m.Get("a")
	require.NoError(err)
	require.Same(a, again)

	_, err = m.Get("b")
	require.NoError(err)
	_, err = m.Get("c")
	require.NoError(err)
	require.Equal(2, m.Len())
	// the least recently used handle was evicted and closed
	require.False(a.ValidHandle())

	reopened, err := m.Get("a")
	require.NoError(err)
	require.True(reopened.ValidHandle())

	_, err = m.Get("missing")
	require.ErrorIs(err, ErrNotFound)
	_, err = m.Get("../outside")
	require.ErrorIs(err, ErrNotFound)

	m.Close()
	require.Equal(0, m.Len())
	require.False(reopened.ValidHandle())
}

func TestManagerResolvesMultiReads(t *testing.T) {
	require := require.New(t)

	store, err := kvsource.NewStore(memorydb.New(), 4)
	require.NoError(err)
	_, err = store.Import("cloud", bytes.NewReader([]byte("0123456789")), 4)
	require.NoError(err)

	m, err := New(dsrc.Host{URL: "kv://"}, 4, KV(store))
	require.NoError(err)

	set := multiread.NewSet(2)
	_, err = set.AddMultiRead(multiread.MultiRead{
		Source:        "cloud",
		Reads:         []multiread.Read{{Offset: 2, Length: 5, Voxel: 1}},
		TotalReadSize: 5,
	})
	require.NoError(err)
	_, err = set.AddMultiRead(multiread.MultiRead{
		Source:        "missing",
		Reads:         []multiread.Read{{Offset: 0, Length: 1, Voxel: 2}},
		TotalReadSize: 1,
	})
	require.NoError(err)

	res, err := multiread.NewLocal(m, multiread.NewLockTable()).Execute(context.Background(), set, nil)
	require.NoError(err)
	require.Equal([]byte("23456"), res.Data(0))
	require.ErrorIs(res.Failed[1], ErrNotFound)
}
