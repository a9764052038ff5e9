package idx

import (
	"github.com/pointcloud/voxelstream/common/bigendian"
)

type (
	// Voxel numeration.
	Voxel uint64

	// Iteration numeration.
	Iteration uint64

	// Call numeration.
	Call uint64
)

// Bytes gets the byte representation of the index.
func (v Voxel) Bytes() []byte {
	return bigendian.Uint64ToBytes(uint64(v))
}

// Bytes gets the byte representation of the index.
func (i Iteration) Bytes() []byte {
	return bigendian.Uint64ToBytes(uint64(i))
}

// Bytes gets the byte representation of the index.
func (c Call) Bytes() []byte {
	return bigendian.Uint64ToBytes(uint64(c))
}

// BytesToVoxel converts bytes to voxel index.
func BytesToVoxel(b []byte) Voxel {
	return Voxel(bigendian.BytesToUint64(b))
}

// BytesToIteration converts bytes to iteration index.
func BytesToIteration(b []byte) Iteration {
	return Iteration(bigendian.BytesToUint64(b))
}

// BytesToCall converts bytes to call index.
func BytesToCall(b []byte) Call {
	return Call(bigendian.BytesToUint64(b))
}
