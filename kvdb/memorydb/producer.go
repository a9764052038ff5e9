package memorydb

import (
	"sort"
	"sync"

	"github.com/pointcloud/voxelstream/kvdb"
)

type producer struct {
	mu  sync.Mutex
	dbs map[string]*Database
}

// NewProducer of memory db. Opening a name twice returns the same store.
func NewProducer() kvdb.DBProducer {
	return &producer{
		dbs: make(map[string]*Database),
	}
}

// Names of existing databases.
func (p *producer) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.dbs))
	for name := range p.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenDB or create db with name.
func (p *producer) OpenDB(name string) (kvdb.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	db, ok := p.dbs[name]
	if !ok {
		db = New()
		p.dbs[name] = db
	}
	return db, nil
}
