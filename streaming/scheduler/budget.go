package scheduler

import "fmt"

// Budget are the byte counters of one iteration.
type Budget struct {
	// TotalUsed is the bytes admitted across every host.
	TotalUsed uint64
	// IterationUsed is the bytes admitted by the last host pass.
	IterationUsed uint64
	// PerVoxelUsed is the bytes admitted for the last served voxel.
	PerVoxelUsed uint64
	// TotalNotUsed is the bytes which were needed and not admitted.
	TotalNotUsed uint64
	// VoxelsServed is the number of voxels admitted.
	VoxelsServed int
}

func (b Budget) String() string {
	return fmt.Sprintf("used=%d/%d notUsed=%d voxels=%d", b.TotalUsed, b.IterationUsed, b.TotalNotUsed, b.VoxelsServed)
}

// admits reports whether need more bytes may be loaded under limit.
// The first read of an iteration is always admitted so that a voxel larger
// than the whole budget still progresses.
func (b Budget) admits(need, limit uint64) bool {
	if b.TotalUsed >= limit {
		return false
	}
	if b.TotalUsed == 0 {
		return true
	}
	return need <= limit-b.TotalUsed
}

func (b *Budget) use(n uint64) {
	b.TotalUsed += n
	b.IterationUsed += n
	b.PerVoxelUsed = n
	b.VoxelsServed++
}

// refund moves the bytes of admitted reads which then failed to load back
// to the not used counter.
func (b *Budget) refund(n uint64, voxels int) {
	if n > b.TotalUsed {
		n = b.TotalUsed
	}
	b.TotalUsed -= n
	b.TotalNotUsed += n
	if voxels > b.VoxelsServed {
		voxels = b.VoxelsServed
	}
	b.VoxelsServed -= voxels
}
