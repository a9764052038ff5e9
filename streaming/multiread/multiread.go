// Package multiread batches many byte-range reads of one round trip and fans
// the combined buffer back out to the readers.
package multiread

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/inter/idx"
	"github.com/pointcloud/voxelstream/inter/metric"
)

// DefaultMaxMultiReads bounds a set built with a non-positive maximum.
const DefaultMaxMultiReads = 64

var (
	ErrTooManyMultiReads = errors.New("too many multi-reads in set")
	ErrCorruptedSet      = errors.New("corrupted multi-read set")
	ErrEmptyMultiRead    = errors.New("multi-read has no reads")
	ErrEmptyRead         = errors.New("read has zero length")
	ErrOverflow          = errors.New("multi-read size overflow")
	ErrSizeMismatch      = errors.New("multi-read total does not match its reads")
)

// Read is one byte range wanted by one voxel.
type Read struct {
	Offset uint64
	Length uint32
	Voxel  idx.Voxel
}

// MultiRead is the reads of one round trip which hit one data source.
// Their data is laid out back to back in read order.
type MultiRead struct {
	Source        dsrc.ID
	Reads         []Read
	TotalReadSize uint64
}

// Add appends r, keeping TotalReadSize equal to the sum of lengths.
func (mr *MultiRead) Add(r Read) error {
	if r.Length == 0 {
		return ErrEmptyRead
	}
	total, ok := metric.AddUint64(mr.TotalReadSize, uint64(r.Length))
	if !ok {
		return ErrOverflow
	}
	mr.Reads = append(mr.Reads, r)
	mr.TotalReadSize = total
	return nil
}

// Validate checks that mr is not empty and that its total matches its reads.
func (mr *MultiRead) Validate() error {
	if len(mr.Reads) == 0 {
		return ErrEmptyMultiRead
	}
	var sum uint64
	for _, r := range mr.Reads {
		if r.Length == 0 {
			return ErrEmptyRead
		}
		var ok bool
		if sum, ok = metric.AddUint64(sum, uint64(r.Length)); !ok {
			return ErrOverflow
		}
	}
	if sum != mr.TotalReadSize {
		return errors.Wrapf(ErrSizeMismatch, "source %s: total=%d sum=%d", mr.Source, mr.TotalReadSize, sum)
	}
	return nil
}

func (mr *MultiRead) String() string {
	return fmt.Sprintf("{%s reads=%d size=%d}", mr.Source, len(mr.Reads), mr.TotalReadSize)
}

// Set is the ordered multi-reads sharing one round trip.
type Set struct {
	max    int
	reads  []MultiRead
	starts []uint64
	total  uint64
}

// NewSet makes an empty set holding at most max multi-reads.
func NewSet(max int) *Set {
	if max <= 0 {
		max = DefaultMaxMultiReads
	}
	return &Set{max: max}
}

// AddMultiRead appends mr and returns its reference within the set.
func (s *Set) AddMultiRead(mr MultiRead) (int, error) {
	if len(s.reads) >= s.max {
		return -1, errors.Wrapf(ErrTooManyMultiReads, "max %d", s.max)
	}
	if err := mr.Validate(); err != nil {
		return -1, err
	}
	total, ok := metric.AddUint64(s.total, mr.TotalReadSize)
	if !ok {
		return -1, ErrOverflow
	}
	s.reads = append(s.reads, mr)
	s.starts = append(s.starts, s.total)
	s.total = total
	return len(s.reads) - 1, nil
}

func (s *Set) Len() int {
	return len(s.reads)
}

func (s *Set) Max() int {
	return s.max
}

// At returns the multi-read with reference ref.
func (s *Set) At(ref int) *MultiRead {
	return &s.reads[ref]
}

func (s *Set) MultiReads() []MultiRead {
	return s.reads
}

// TotalReadSize is the sum of the multi-read totals.
func (s *Set) TotalReadSize() uint64 {
	return s.total
}

// span is the buffer range of multi-read ref.
func (s *Set) span(ref int) (uint64, uint64) {
	return s.starts[ref], s.starts[ref] + s.reads[ref].TotalReadSize
}
