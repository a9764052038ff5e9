package voxelstore

import (
	"github.com/pointcloud/voxelstream/inter/idx"
)

// Layout creates voxels stored back to back starting at base, one per entry
// of counts, with ids starting at firstID.
func Layout(firstID idx.Voxel, base uint64, format Format, counts ...uint32) []*Voxel {
	res := make([]*Voxel, len(counts))
	offset := base
	for i, n := range counts {
		res[i] = New(firstID+idx.Voxel(i), offset, n, format)
		offset += res[i].Size()
	}
	return res
}

// LayoutSize returns the byte size of a layout.
func LayoutSize(voxels []*Voxel) uint64 {
	var size uint64
	for _, v := range voxels {
		size += v.Size()
	}
	return size
}

// SyntheticPoints generates n deterministic points, used to fill demo and test resources.
func SyntheticPoints(seed uint32, n uint32) []Point {
	points := make([]Point, n)
	for i := range points {
		k := seed*7919 + uint32(i)
		points[i] = Point{
			X:         float32(k % 1000),
			Y:         float32((k / 1000) % 1000),
			Z:         float32(k % 97),
			Intensity: k,
		}
	}
	return points
}
