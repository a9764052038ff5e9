// Package readset accumulates the byte ranges voxels need from one data source
// during one streaming iteration.
package readset

import (
	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/inter/idx"
	"github.com/pointcloud/voxelstream/inter/metric"
	"github.com/pointcloud/voxelstream/inter/vox"
)

var (
	ErrNotActive      = errors.New("read set is not active")
	ErrDuplicateVoxel = errors.New("voxel already has a pending read")
	ErrEmptyRequest   = errors.New("read request has zero length")
	ErrOverflow       = errors.New("read set size overflow")
)

// Request is one byte range needed by one voxel from one data source.
type Request struct {
	Voxel  vox.Voxel
	Source dsrc.ID
	Offset uint64
	Length uint32
	// First is the index of the first point covered by the range.
	First uint32
}

type key struct {
	offset uint64
	voxel  idx.Voxel
}

func compareKeys(a, b interface{}) int {
	ka, kb := a.(key), b.(key)
	switch {
	case ka.offset < kb.offset:
		return -1
	case ka.offset > kb.offset:
		return 1
	case ka.voxel < kb.voxel:
		return -1
	case ka.voxel > kb.voxel:
		return 1
	}
	return 0
}

// Set is the pending reads of one data source, ordered by offset.
type Set struct {
	source dsrc.ID
	active bool

	tree   *redblacktree.Tree
	voxels map[idx.Voxel]key
	total  metric.Metric
}

// New creates an inactive set for source.
func New(source dsrc.ID) *Set {
	return &Set{
		source: source,
		tree:   redblacktree.NewWith(compareKeys),
		voxels: make(map[idx.Voxel]key),
	}
}

func (s *Set) Source() dsrc.ID {
	return s.source
}

// Begin starts a new accumulation, dropping any previous one.
func (s *Set) Begin() {
	s.reset()
	s.active = true
}

// End drops whatever was accumulated and not consumed.
func (s *Set) End() {
	s.reset()
	s.active = false
}

func (s *Set) Active() bool {
	return s.active
}

func (s *Set) reset() {
	s.tree.Clear()
	s.voxels = make(map[idx.Voxel]key)
	s.total = metric.Metric{}
}

// Add appends r. A voxel may have at most one pending request.
func (s *Set) Add(r Request) error {
	if !s.active {
		return ErrNotActive
	}
	if r.Length == 0 {
		return ErrEmptyRequest
	}
	id := r.Voxel.ID()
	if _, ok := s.voxels[id]; ok {
		return errors.Wrapf(ErrDuplicateVoxel, "voxel %d", id)
	}
	total, ok := s.total.Add(metric.Of(uint64(r.Length)))
	if !ok {
		return ErrOverflow
	}
	r.Source = s.source
	k := key{offset: r.Offset, voxel: id}
	s.tree.Put(k, r)
	s.voxels[id] = k
	s.total = total
	return nil
}

// Remove drops the pending request of a voxel, if any.
func (s *Set) Remove(id idx.Voxel) bool {
	k, ok := s.voxels[id]
	if !ok {
		return false
	}
	v, _ := s.tree.Get(k)
	r := v.(Request)
	s.tree.Remove(k)
	delete(s.voxels, id)
	s.total.Num--
	s.total.Size -= uint64(r.Length)
	return true
}

func (s *Set) Contains(id idx.Voxel) bool {
	_, ok := s.voxels[id]
	return ok
}

// Requests returns the pending requests in ascending offset order.
func (s *Set) Requests() []Request {
	res := make([]Request, 0, s.tree.Size())
	it := s.tree.Iterator()
	for it.Next() {
		res = append(res, it.Value().(Request))
	}
	return res
}

func (s *Set) Len() int {
	return s.tree.Size()
}

// Total is the number of requests and their summed length.
func (s *Set) Total() metric.Metric {
	return s.total
}
