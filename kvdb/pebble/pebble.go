// Package pebble implements the key-value database layer based on Pebble.
package pebble

import (
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/pointcloud/voxelstream/kvdb"
)

// Database is a persistent key-value store. Apart from basic data storage
// functionality it also supports batch writes and iterating over the keyspace in
// binary-alphabetical order.
type Database struct {
	filename   string     // filename for reporting
	underlying *pebble.DB // Pebble instance

	quitLock sync.Mutex // Mutex protecting the quit channel access

	onClose func() error
}

const minCache = 1 << 20

var _ kvdb.Store = (*Database)(nil)

// New opens a Pebble store at path. cache is the memory budget in bytes,
// split between the block cache and the memtable.
func New(path string, cache int, handles int, close func() error) (*Database, error) {
	if cache < minCache {
		cache = minCache
	}
	ref := pebble.NewCache(int64(cache * 2 / 3))
	defer ref.Unref()
	db, err := pebble.Open(path, &pebble.Options{
		Cache:           ref,       // default 8 MB
		MemTableSize:    cache / 3, // default 4 MB
		MaxOpenFiles:    handles,   // default 1000
		WALBytesPerSync: 0,         // default 0 (matches RocksDB = no background syncing)
		MaxConcurrentCompactions: func() int {
			return 3
		}, // default 1, important for big imports performance
	})

	if err != nil {
		return nil, err
	}
	pdb := Database{
		filename:   path,
		underlying: db,
		onClose:    close,
	}
	return &pdb, nil
}

// Close flushes any pending data to disk and closes all io accesses to the
// underlying key-value store.
func (db *Database) Close() error {
	db.quitLock.Lock()
	defer db.quitLock.Unlock()

	if db.underlying == nil {
		panic("already closed")
	}

	pdb := db.underlying
	db.underlying = nil

	if db.onClose != nil {
		if err := db.onClose(); err != nil {
			return err
		}
		db.onClose = nil
	}
	if err := pdb.Close(); err != nil {
		return err
	}
	return nil
}

// Has retrieves if a key is present in the key-value store.
func (db *Database) Has(key []byte) (bool, error) {
	_, closer, err := db.underlying.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = closer.Close()
	return true, err
}

// Get retrieves the given key if it's present in the key-value store.
func (db *Database) Get(key []byte) ([]byte, error) {
	value, closer, err := db.underlying.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	clonedValue := append([]byte{}, value...)
	err = closer.Close()
	return clonedValue, err
}

// Put inserts the given value into the key-value store.
func (db *Database) Put(key []byte, value []byte) error {
	return db.underlying.Set(key, value, pebble.NoSync)
}

// Delete removes the key from the key-value store.
func (db *Database) Delete(key []byte) error {
	return db.underlying.Delete(key, pebble.NoSync)
}

// NewBatch creates a write-only key-value store that buffers changes to its host
// database until a final write is called.
func (db *Database) NewBatch() kvdb.Batch {
	return &batch{
		db: db.underlying,
		b:  db.underlying.NewBatch(),
	}
}

// NewIterator creates a binary-alphabetical iterator over a subset
// of database content with a particular key prefix, starting at a particular
// initial key (or after, if it does not exist).
func (db *Database) NewIterator(prefix []byte, start []byte) kvdb.Iterator {
	x := iterator{db.underlying.NewIter(bytesPrefixRange(prefix, start)), false, false}
	return &x
}

type iterator struct {
	*pebble.Iterator
	isStarted bool
	isClosed  bool
}

func (it *iterator) Next() bool {
	if it.isStarted {
		return it.Iterator.Next()
	} else {
		// pebble needs First() instead of the first Next()
		it.isStarted = true
		return it.Iterator.First()
	}
}

func (it *iterator) Release() {
	if it.isClosed {
		return
	}
	_ = it.Iterator.Close() // must not be called multiple times
	it.isClosed = true
}

// bytesPrefixRange returns key range that satisfy
// - the given prefix, and
// - the given seek position
func bytesPrefixRange(prefix, start []byte) *pebble.IterOptions {
	if prefix == nil && start == nil {
		return nil
	}
	var r pebble.IterOptions
	if prefix != nil {
		r = bytesPrefix(prefix)
	} else {
		r.LowerBound = []byte{}
	}
	r.LowerBound = append(r.LowerBound, start...)
	return &r
}

// bytesPrefix is copied from leveldb util
func bytesPrefix(prefix []byte) pebble.IterOptions {
	var limit []byte
	for i := len(prefix) - 1; i >= 0; i-- {
		c := prefix[i]
		if c < 0xff {
			limit = make([]byte, i+1)
			copy(limit, prefix)
			limit[i] = c + 1
			break
		}
	}
	return pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: limit,
	}
}

// Path returns the path to the database directory.
func (db *Database) Path() string {
	return db.filename
}

// batch is a write-only pebble batch that commits changes to its host database
// when Write is called. A batch cannot be used concurrently.
type batch struct {
	db   *pebble.DB
	b    *pebble.Batch
	size int
}

// Put inserts the given value into the batch for later committing.
func (b *batch) Put(key, value []byte) error {
	err := b.b.Set(key, value, pebble.NoSync)
	b.size += len(value)
	return err
}

// Delete inserts the key removal into the batch for later committing.
func (b *batch) Delete(key []byte) error {
	err := b.b.Delete(key, pebble.NoSync)
	b.size++
	return err
}

// ValueSize retrieves the amount of data queued up for writing.
func (b *batch) ValueSize() int {
	return b.size
}

// Write flushes any accumulated data to disk.
func (b *batch) Write() error {
	return b.db.Apply(b.b, pebble.NoSync)
}

// Reset resets the batch for reuse.
func (b *batch) Reset() {
	b.b.Reset()
	b.size = 0
}
