// Package filesource serves data source reads from a memory-mapped local file.
package filesource

import (
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/inter/dsrc"
)

// Source is a read-only memory-mapped file.
type Source struct {
	id   dsrc.ID
	host dsrc.Host
	path string

	mu     sync.RWMutex
	mm     mmap.MMap
	data   []byte
	closed bool
}

var _ dsrc.DataSource = (*Source)(nil)

// Open maps the file at path. The file descriptor is closed before Open returns.
func Open(host dsrc.Host, id dsrc.ID, path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	s := &Source{
		id:   id,
		host: host,
		path: path,
	}
	// empty files cannot be mapped
	if stat.Size() == 0 {
		return s, nil
	}
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %s", path)
	}
	adviseRandom(mm)
	s.mm = mm
	s.data = []byte(mm)
	return s, nil
}

func (s *Source) ID() dsrc.ID { return s.id }

func (s *Source) Host() dsrc.Host { return s.host }

func (s *Source) Path() string { return s.path }

func (s *Source) ValidHandle() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

func (s *Source) Size() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.data))
}

func (s *Source) Read(offset uint64, dst []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return dsrc.ErrInvalidHandle
	}
	if err := dsrc.CheckRange(offset, len(dst), uint64(len(s.data))); err != nil {
		return err
	}
	copy(dst, s.data[offset:])
	return nil
}

// Close unmaps the file. Reads in progress finish first.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.data = nil
	if s.mm == nil {
		return nil
	}
	err := s.mm.Unmap()
	s.mm = nil
	return err
}
