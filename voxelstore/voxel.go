// Package voxelstore holds point data of voxels loaded by the streaming scheduler.
package voxelstore

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/inter/idx"
	"github.com/pointcloud/voxelstream/inter/vox"
)

var (
	ErrOutOfOrder  = errors.New("write does not continue the loaded points")
	ErrNotLoaded   = errors.New("voxel is not whole loaded")
	ErrUnsupported = errors.New("unsupported point format")
)

// Voxel is a spatial cell whose points are encoded contiguously in a data source.
// It is safe for concurrent use.
type Voxel struct {
	id     idx.Voxel
	offset uint64
	lod    uint32
	format Format

	mu       sync.RWMutex
	progress vox.Progress
	raw      []byte
	points   []Point
}

var (
	_ vox.Voxel     = (*Voxel)(nil)
	_ vox.Finalizer = (*Voxel)(nil)
)

func New(id idx.Voxel, offset uint64, lod uint32, format Format) *Voxel {
	return &Voxel{
		id:     id,
		offset: offset,
		lod:    lod,
		format: format,
	}
}

func (v *Voxel) ID() idx.Voxel { return v.id }

func (v *Voxel) Offset() uint64 { return v.offset }

func (v *Voxel) LodPointCount() uint32 { return v.lod }

func (v *Voxel) PointSize() uint32 { return v.format.Size() }

func (v *Voxel) Format() Format { return v.format }

// Size is the encoded size of all the voxel's points.
func (v *Voxel) Size() uint64 {
	return uint64(v.lod) * uint64(v.format.Size())
}

func (v *Voxel) Progress() vox.Progress {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.progress
}

// Write stores encoded points. Writes must continue exactly where the
// previous one stopped, so a voxel never holds a gap.
func (v *Voxel) Write(first uint32, data []byte) error {
	size := v.format.Size()
	if size == 0 {
		return ErrUnsupported
	}
	if uint32(len(data))%size != 0 {
		return vox.ErrPartialPoint
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	loaded := v.progress.Loaded(v.lod)
	if first != loaded {
		return errors.Wrapf(ErrOutOfOrder, "voxel %d: write at point %d, loaded %d", v.id, first, loaded)
	}
	next, err := v.progress.Advance(uint32(len(data))/size, v.lod)
	if err != nil {
		return err
	}
	if v.raw == nil {
		v.raw = make([]byte, 0, v.Size())
	}
	v.raw = append(v.raw, data...)
	v.progress = next
	return nil
}

// Finalize decodes the whole loaded points, moving the voxel to Done.
func (v *Voxel) Finalize() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.progress.State {
	case vox.Done:
		return nil
	case vox.WholeLoaded:
	default:
		return errors.Wrapf(ErrNotLoaded, "voxel %d is %s", v.id, v.progress)
	}
	points, err := Decode(v.format, v.raw)
	if err != nil {
		return errors.Wrapf(err, "voxel %d", v.id)
	}
	v.points = points
	v.raw = nil
	v.progress = vox.Progress{State: vox.Done}
	return nil
}

// Points returns the decoded points of a Done voxel.
func (v *Voxel) Points() []Point {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]Point(nil), v.points...)
}

// Raw returns a copy of the loaded encoded points of a not yet finalized voxel.
func (v *Voxel) Raw() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]byte(nil), v.raw...)
}

// Unload drops the loaded data, returning the voxel to Invalid.
// This is the only way progress moves backwards.
func (v *Voxel) Unload() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.raw = nil
	v.points = nil
	v.progress = vox.Progress{}
}
