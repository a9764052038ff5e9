// Package manager opens data sources by name and keeps a bounded number of
// them open.
package manager

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/datasource/filesource"
	"github.com/pointcloud/voxelstream/datasource/kvsource"
	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/streaming/multiread"
)

var ErrNotFound = errors.New("data source not found")

// OpenerFunc opens the data source name of host.
type OpenerFunc func(host dsrc.Host, name string) (dsrc.DataSource, error)

// Dir opens memory-mapped files under dir.
func Dir(dir string) OpenerFunc {
	return func(host dsrc.Host, name string) (dsrc.DataSource, error) {
		path := filepath.Join(dir, filepath.Clean("/"+name))
		s, err := filesource.Open(host, dsrc.ID(name), path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// KV opens resources of store.
func KV(store *kvsource.Store) OpenerFunc {
	return func(host dsrc.Host, name string) (dsrc.DataSource, error) {
		s, err := store.Open(host, name)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Manager is a get-or-open cache of data sources. Evicted sources are closed.
type Manager struct {
	host dsrc.Host
	open OpenerFunc

	mu    sync.Mutex
	cache *lru.Cache

	log log.Logger
}

var _ multiread.Resolver = (*Manager)(nil)

func New(host dsrc.Host, maxOpen int, open OpenerFunc) (*Manager, error) {
	m := &Manager{
		host: host,
		open: open,
		log:  log.New("module", "dsmanager"),
	}
	cache, err := lru.NewWithEvict(maxOpen, func(key interface{}, value interface{}) {
		if c, ok := value.(io.Closer); ok {
			if err := c.Close(); err != nil {
				m.log.Warn("Failed to close data source", "name", key, "err", err)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	m.cache = cache
	return m, nil
}

func (m *Manager) Host() dsrc.Host {
	return m.host
}

// Get returns the open data source name, opening it if needed.
func (m *Manager) Get(name string) (dsrc.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.cache.Get(name); ok {
		ds := v.(dsrc.DataSource)
		if ds.ValidHandle() {
			return ds, nil
		}
		m.cache.Remove(name)
	}
	ds, err := m.open(m.host, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, kvsource.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "%q", name)
		}
		return nil, errors.Wrapf(err, "open %q", name)
	}
	m.cache.Add(name, ds)
	return ds, nil
}

// Resolve implements multiread.Resolver.
func (m *Manager) Resolve(id dsrc.ID) (dsrc.DataSource, error) {
	return m.Get(string(id))
}

// Len is the number of open data sources.
func (m *Manager) Len() int {
	return m.cache.Len()
}

// Close closes every open data source.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Purge()
}
