package kvdb_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pointcloud/voxelstream/kvdb"
	"github.com/pointcloud/voxelstream/kvdb/leveldb"
	"github.com/pointcloud/voxelstream/kvdb/memorydb"
	"github.com/pointcloud/voxelstream/kvdb/pebble"
)

func producers(t *testing.T) map[string]kvdb.DBProducer {
	cache := func(string) int { return 16 << 20 }
	return map[string]kvdb.DBProducer{
		"memory":  memorydb.NewProducer(),
		"leveldb": leveldb.NewProducer(t.TempDir(), cache),
		"pebble":  pebble.NewProducer(t.TempDir(), cache),
	}
}

func TestStores(t *testing.T) {
	for name, p := range producers(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			db, err := p.OpenDB("res")
			require.NoError(err)
			defer db.Close()
			require.Equal([]string{"res"}, p.Names())

			v, err := db.Get([]byte("missing"))
			require.NoError(err)
			require.Nil(v)
			ok, err := db.Has([]byte("missing"))
			require.NoError(err)
			require.False(ok)

			b := db.NewBatch()
			for i := 0; i < 10; i++ {
				require.NoError(b.Put([]byte(fmt.Sprintf("p/%02d", i)), []byte{byte(i)}))
			}
			require.NoError(b.Put([]byte("q/0"), []byte("other")))
			require.NotZero(b.ValueSize())
			require.NoError(b.Write())

			v, err = db.Get([]byte("p/03"))
			require.NoError(err)
			require.Equal([]byte{3}, v)

			it := db.NewIterator([]byte("p/"), []byte("05"))
			var keys []string
			for it.Next() {
				keys = append(keys, string(it.Key()))
			}
			require.NoError(it.Error())
			it.Release()
			require.Equal([]string{"p/05", "p/06", "p/07", "p/08", "p/09"}, keys)

			require.NoError(db.Delete([]byte("q/0")))
			ok, err = db.Has([]byte("q/0"))
			require.NoError(err)
			require.False(ok)
		})
	}
}
