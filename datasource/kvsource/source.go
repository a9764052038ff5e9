package kvsource

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/pointcloud/voxelstream/inter/dsrc"
)

// Source reads one stored resource through a cache of decompressed pages.
type Source struct {
	store *Store
	host  dsrc.Host
	name  string
	meta  meta

	mu     sync.RWMutex
	closed bool
	pages  *lru.Cache
}

var _ dsrc.DataSource = (*Source)(nil)

func newSource(store *Store, host dsrc.Host, name string, m meta) (*Source, error) {
	pages, err := lru.New(store.cachePages)
	if err != nil {
		return nil, err
	}
	return &Source{
		store: store,
		host:  host,
		name:  name,
		meta:  m,
		pages: pages,
	}, nil
}

func (s *Source) ID() dsrc.ID { return dsrc.ID(s.name) }

func (s *Source) Host() dsrc.Host { return s.host }

func (s *Source) Size() uint64 { return s.meta.Size }

func (s *Source) ValidHandle() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

func (s *Source) Read(offset uint64, dst []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return dsrc.ErrInvalidHandle
	}
	if err := dsrc.CheckRange(offset, len(dst), s.meta.Size); err != nil {
		return err
	}
	pageSize := uint64(s.meta.PageSize)
	for len(dst) > 0 {
		page := offset / pageSize
		data, err := s.page(page)
		if err != nil {
			return err
		}
		n := copy(dst, data[offset-page*pageSize:])
		dst = dst[n:]
		offset += uint64(n)
	}
	return nil
}

func (s *Source) page(page uint64) ([]byte, error) {
	if v, ok := s.pages.Get(page); ok {
		return v.([]byte), nil
	}
	data, err := s.store.readPage(s.name, s.meta, page)
	if err != nil {
		return nil, err
	}
	s.pages.Add(page, data)
	return data, nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pages.Purge()
	return nil
}
