package streamhost

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/inter/idx"
	"github.com/pointcloud/voxelstream/inter/metric"
	"github.com/pointcloud/voxelstream/inter/vox"
	"github.com/pointcloud/voxelstream/streaming/multiread"
	"github.com/pointcloud/voxelstream/streaming/readset"
)

// StreamDataSource binds the voxels of one host which need bytes from one
// data source to that source.
type StreamDataSource struct {
	ds     dsrc.DataSource
	voxels []vox.Voxel
	index  map[idx.Voxel]int
	reads  *readset.Set
}

func newStreamDataSource(ds dsrc.DataSource) *StreamDataSource {
	return &StreamDataSource{
		ds:    ds,
		index: make(map[idx.Voxel]int),
		reads: readset.New(ds.ID()),
	}
}

func (s *StreamDataSource) ID() dsrc.ID {
	return s.ds.ID()
}

func (s *StreamDataSource) DataSource() dsrc.DataSource {
	return s.ds
}

// Voxels returns the registered voxels in activation order.
func (s *StreamDataSource) Voxels() []vox.Voxel {
	return s.voxels
}

func (s *StreamDataSource) Len() int {
	return len(s.voxels)
}

func (s *StreamDataSource) Contains(id idx.Voxel) bool {
	_, ok := s.index[id]
	return ok
}

// ReadSet is the accumulation of the current iteration.
func (s *StreamDataSource) ReadSet() *readset.Set {
	return s.reads
}

func (s *StreamDataSource) add(v vox.Voxel) bool {
	if _, ok := s.index[v.ID()]; ok {
		return false
	}
	s.index[v.ID()] = len(s.voxels)
	s.voxels = append(s.voxels, v)
	return true
}

func (s *StreamDataSource) clear() {
	s.voxels = nil
	s.index = make(map[idx.Voxel]int)
	s.reads.End()
}

// request records req for v in the read set.
func (s *StreamDataSource) request(v vox.Voxel, req vox.Requirement) error {
	return s.reads.Add(readset.Request{
		Voxel:  v,
		Offset: req.Offset,
		Length: req.Length,
		First:  req.First,
	})
}

// multiRead turns the accumulated requests into one multi-read.
func (s *StreamDataSource) multiRead() (multiread.MultiRead, error) {
	mr := multiread.MultiRead{Source: s.ID()}
	for _, r := range s.reads.Requests() {
		if err := mr.Add(multiread.Read{
			Offset: r.Offset,
			Length: r.Length,
			Voxel:  r.Voxel.ID(),
		}); err != nil {
			return mr, err
		}
	}
	return mr, nil
}

// pending is the size of the accumulated requests.
func (s *StreamDataSource) pending() metric.Metric {
	return s.reads.Total()
}

// readDirect loads req into v with one blocking read of the data source.
// On any failure v is left unchanged.
func (s *StreamDataSource) readDirect(ctx context.Context, locks *multiread.LockTable, v vox.Voxel, req vox.Requirement) error {
	release := locks.Acquire(s.ID())
	defer release()

	if !s.ds.ValidHandle() {
		return errors.Wrapf(dsrc.ErrInvalidHandle, "source %s", s.ID())
	}
	data := make([]byte, req.Length)
	if err := dsrc.ReadContext(ctx, s.ds, req.Offset, data); err != nil {
		return errors.Wrapf(err, "read %s at %d", s.ID(), req.Offset)
	}
	return v.Write(req.First, data)
}
