package vox

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pointcloud/voxelstream/inter/idx"
)

type testVoxel struct {
	progress Progress
	lod      uint32
	size     uint32
	offset   uint64
}

func (v *testVoxel) ID() idx.Voxel         { return 1 }
func (v *testVoxel) Progress() Progress    { return v.progress }
func (v *testVoxel) LodPointCount() uint32 { return v.lod }
func (v *testVoxel) PointSize() uint32     { return v.size }
func (v *testVoxel) Offset() uint64        { return v.offset }
func (v *testVoxel) Write(first uint32, data []byte) error {
	next, err := v.progress.Advance(uint32(len(data))/v.size, v.lod)
	if err != nil {
		return err
	}
	v.progress = next
	return nil
}

func TestProgressAdvance(t *testing.T) {
	require := require.New(t)

	p := Progress{}
	p, err := p.Advance(3, 10)
	require.NoError(err)
	require.Equal(Progress{State: PartiallyLoaded, Points: 3}, p)

	p, err = p.Advance(7, 10)
	require.NoError(err)
	require.Equal(WholeLoaded, p.State)
	require.Equal(uint32(10), p.Loaded(10))

	_, err = p.Advance(1, 10)
	require.ErrorIs(err, ErrProgressRegress)

	_, err = Progress{}.Advance(11, 10)
	require.ErrorIs(err, ErrOutOfCapacity)

	same, err := Progress{}.Advance(0, 10)
	require.NoError(err)
	require.Equal(Invalid, same.State)
}

func TestPending(t *testing.T) {
	require := require.New(t)

	v := &testVoxel{lod: 10, size: 4, offset: 100}
	r, ok := Pending(v, 0)
	require.True(ok)
	require.Equal(Requirement{Offset: 100, Length: 40, First: 0, Points: 10}, r)

	// capped to whole points
	r, ok = Pending(v, 10)
	require.True(ok)
	require.Equal(Requirement{Offset: 100, Length: 8, First: 0, Points: 2}, r)

	// cap smaller than a point still yields one point
	r, ok = Pending(v, 1)
	require.True(ok)
	require.Equal(uint32(1), r.Points)

	require.NoError(v.Write(0, make([]byte, 8)))
	r, ok = Pending(v, 0)
	require.True(ok)
	require.Equal(Requirement{Offset: 108, Length: 32, First: 2, Points: 8}, r)

	require.NoError(v.Write(2, make([]byte, 32)))
	_, ok = Pending(v, 0)
	require.False(ok)

	_, ok = Pending(&testVoxel{lod: 1}, 0)
	require.False(ok)
}
