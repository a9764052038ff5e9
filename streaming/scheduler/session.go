package scheduler

import (
	"context"

	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/inter/vox"
)

// Session is the surface used by the selection layer: it activates the
// visible voxels of each frame between BeginIteration and EndIteration.
type Session struct {
	s *Scheduler
}

func NewSession(s *Scheduler) *Session {
	return &Session{s: s}
}

func (x *Session) Scheduler() *Scheduler {
	return x.s
}

// ActivateVoxel requests v from ds during the current iteration.
// Callers activate voxels in priority order.
func (x *Session) ActivateVoxel(ds dsrc.DataSource, v vox.Voxel) bool {
	_, _, err := x.s.AddActiveDataSourceVoxel(ds, v)
	if err != nil {
		x.s.log.Warn("Failed to activate voxel", "err", err)
		return false
	}
	return true
}

func (x *Session) BeginIteration() {
	x.s.BeginStreaming()
}

// EndIteration loads the activated voxels within the budget and closes the iteration.
func (x *Session) EndIteration(ctx context.Context) (Report, error) {
	report, err := x.s.Process(ctx)
	x.s.EndStreaming()
	return report, err
}

func (x *Session) SetPaused(paused bool) {
	x.s.SetPaused(paused)
}
