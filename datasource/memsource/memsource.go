// Package memsource is a data source over a byte slice.
package memsource

import (
	"sync"
	"sync/atomic"

	"github.com/pointcloud/voxelstream/inter/dsrc"
)

type Source struct {
	id   dsrc.ID
	host dsrc.Host

	mu      sync.RWMutex
	data    []byte
	invalid bool

	reads uint64
}

var _ dsrc.DataSource = (*Source)(nil)

// New makes a source over data. The slice is not copied.
func New(host dsrc.Host, id dsrc.ID, data []byte) *Source {
	return &Source{
		id:   id,
		host: host,
		data: data,
	}
}

func (s *Source) ID() dsrc.ID { return s.id }

func (s *Source) Host() dsrc.Host { return s.host }

func (s *Source) ValidHandle() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.invalid
}

func (s *Source) Size() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.data))
}

func (s *Source) Read(offset uint64, dst []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.invalid {
		return dsrc.ErrInvalidHandle
	}
	if err := dsrc.CheckRange(offset, len(dst), uint64(len(s.data))); err != nil {
		return err
	}
	copy(dst, s.data[offset:])
	atomic.AddUint64(&s.reads, 1)
	return nil
}

// Invalidate makes every following Read fail, as if the handle was closed.
func (s *Source) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalid = true
}

func (s *Source) Close() error {
	s.Invalidate()
	return nil
}

// Reads is the number of successful reads served.
func (s *Source) Reads() uint64 {
	return atomic.LoadUint64(&s.reads)
}
