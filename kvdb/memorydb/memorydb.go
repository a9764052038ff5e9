// Package memorydb implements the key-value database layer based on memory maps.
package memorydb

import (
	"github.com/ethereum/go-ethereum/ethdb/memorydb"

	"github.com/pointcloud/voxelstream/kvdb"
)

// Database is an ephemeral key-value store. Apart from basic data storage
// functionality it also supports batch writes and iterating over the keyspace in
// binary-alphabetical order.
type Database struct {
	*memorydb.Database
}

var _ kvdb.Store = (*Database)(nil)

// New returns a wrapped map with all the required database interface methods
// implemented.
func New() *Database {
	return &Database{
		Database: memorydb.New(),
	}
}

// NewBatch creates a write-only key-value store that buffers changes to its host
// database until a final write is called.
func (db *Database) NewBatch() kvdb.Batch {
	return db.Database.NewBatch()
}

// NewIterator creates a binary-alphabetical iterator over a subset
// of database content with a particular key prefix, starting at a particular
// initial key (or after, if it does not exist).
func (db *Database) NewIterator(prefix []byte, start []byte) kvdb.Iterator {
	return db.Database.NewIterator(prefix, start)
}

// Get returns nil for a missing key, like the persistent stores do.
func (db *Database) Get(key []byte) ([]byte, error) {
	has, err := db.Database.Has(key)
	if err != nil || !has {
		return nil, err
	}
	return db.Database.Get(key)
}
