package vox

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/inter/idx"
)

// State of a voxel's point loading. States only move forward.
type State uint8

const (
	Invalid State = iota
	PartiallyLoaded
	WholeLoaded
	Done
)

var (
	ErrProgressRegress = errors.New("voxel progress cannot move backwards")
	ErrPartialPoint    = errors.New("write is not a whole number of points")
	ErrOutOfCapacity   = errors.New("write exceeds voxel point capacity")
)

func (s State) String() string {
	switch s {
	case Invalid:
		return "invalid"
	case PartiallyLoaded:
		return "partial"
	case WholeLoaded:
		return "whole"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Progress is a voxel's loading state. Points is meaningful for PartiallyLoaded.
type Progress struct {
	State  State
	Points uint32
}

func (p Progress) String() string {
	if p.State == PartiallyLoaded {
		return fmt.Sprintf("partial(%d)", p.Points)
	}
	return p.State.String()
}

// Loaded returns the number of points already present for a voxel of lod points.
func (p Progress) Loaded(lod uint32) uint32 {
	switch p.State {
	case PartiallyLoaded:
		return p.Points
	case WholeLoaded, Done:
		return lod
	}
	return 0
}

// Advance returns the progress after points more points were stored.
func (p Progress) Advance(points, lod uint32) (Progress, error) {
	if p.State >= WholeLoaded {
		return p, ErrProgressRegress
	}
	loaded := uint64(p.Loaded(lod)) + uint64(points)
	if loaded > uint64(lod) {
		return p, ErrOutOfCapacity
	}
	if loaded == uint64(lod) {
		return Progress{State: WholeLoaded}, nil
	}
	if loaded == 0 {
		return p, nil
	}
	return Progress{State: PartiallyLoaded, Points: uint32(loaded)}, nil
}

// Voxel is a spatial data cell owned by the selection layer.
type Voxel interface {
	ID() idx.Voxel
	Progress() Progress
	// LodPointCount is the number of points to load at the current LOD.
	LodPointCount() uint32
	// PointSize is the encoded size of one point in bytes.
	PointSize() uint32
	// Offset is the data source offset of the voxel's first point.
	Offset() uint64
	// Write stores whole encoded points starting at point index first.
	Write(first uint32, data []byte) error
}

// Finalizer is implemented by voxels which post-process whole loaded data
// (decode, decompress) before they can be displayed.
type Finalizer interface {
	Finalize() error
}

// Requirement is the next byte range a voxel needs.
type Requirement struct {
	Offset uint64
	Length uint32
	First  uint32
	Points uint32
}

// Pending returns the range needed to load the rest of v, capped to maxBytes
// rounded down to whole points. At least one point is always returned so that
// a voxel larger than the cap still progresses. maxBytes == 0 means no cap.
func Pending(v Voxel, maxBytes uint64) (Requirement, bool) {
	lod := v.LodPointCount()
	size := v.PointSize()
	if size == 0 {
		return Requirement{}, false
	}
	loaded := v.Progress().Loaded(lod)
	if loaded >= lod {
		return Requirement{}, false
	}
	points := uint64(lod - loaded)
	if maxBytes != 0 && points*uint64(size) > maxBytes {
		points = maxBytes / uint64(size)
		if points == 0 {
			points = 1
		}
	}
	if limit := uint64(math.MaxUint32) / uint64(size); points > limit {
		points = limit
	}
	return Requirement{
		Offset: v.Offset() + uint64(loaded)*uint64(size),
		Length: uint32(points * uint64(size)),
		First:  loaded,
		Points: uint32(points),
	}, true
}
