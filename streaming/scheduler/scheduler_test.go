package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/pointcloud/voxelstream/datasource/memsource"
	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/inter/dsrc/dsrcmock"
	"github.com/pointcloud/voxelstream/inter/idx"
	"github.com/pointcloud/voxelstream/inter/vox"
	"github.com/pointcloud/voxelstream/utils/cachescale"
	"github.com/pointcloud/voxelstream/voxelstore"
)

// testVoxel stores one byte per point.
type testVoxel struct {
	id     idx.Voxel
	offset uint64
	lod    uint32

	mu       sync.Mutex
	progress vox.Progress
	data     []byte
}

func (v *testVoxel) ID() idx.Voxel         { return v.id }
func (v *testVoxel) Offset() uint64        { return v.offset }
func (v *testVoxel) LodPointCount() uint32 { return v.lod }
func (v *testVoxel) PointSize() uint32     { return 1 }

func (v *testVoxel) Progress() vox.Progress {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.progress
}

func (v *testVoxel) Write(first uint32, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if first != v.progress.Loaded(v.lod) {
		return errors.New("out of order write")
	}
	next, err := v.progress.Advance(uint32(len(data)), v.lod)
	if err != nil {
		return err
	}
	v.data = append(v.data, data...)
	v.progress = next
	return nil
}

// fixture lays out voxels of the given byte sizes over one source of host.
func fixture(host dsrc.Host, id dsrc.ID, first idx.Voxel, sizes ...uint32) (*memsource.Source, []*testVoxel) {
	var voxels []*testVoxel
	var offset uint64
	for i, size := range sizes {
		voxels = append(voxels, &testVoxel{id: first + idx.Voxel(i), offset: offset, lod: size})
		offset += uint64(size)
	}
	data := make([]byte, offset)
	for i := range data {
		data[i] = byte(i)
	}
	return memsource.New(host, id, data), voxels
}

var (
	hostA = dsrc.Host{URL: "tcp://a"}
	hostB = dsrc.Host{URL: "tcp://b"}
)

func testConfig(budget uint64, batching bool) Config {
	cfg := DefaultConfig(cachescale.Identity)
	cfg.TotalBudgetBytes = budget
	cfg.PerVoxelBudgetBytes = 0
	cfg.Batching = batching
	cfg.DecodeThreads = 0
	return cfg
}

func iterate(t *testing.T, s *Scheduler, activate func(x *Session)) Report {
	x := NewSession(s)
	x.BeginIteration()
	activate(x)
	report, err := x.EndIteration(context.Background())
	require.NoError(t, err)
	return report
}

func TestActivationValidation(t *testing.T) {
	require := require.New(t)

	s := New(testConfig(1000, true), Callbacks{})
	src, voxels := fixture(hostA, "a", 1, 10)

	_, _, err := s.AddActiveDataSourceVoxel(nil, voxels[0])
	require.ErrorIs(err, ErrNilDataSource)
	_, _, err = s.AddActiveDataSourceVoxel(src, nil)
	require.ErrorIs(err, ErrNilVoxel)
	invalid, _ := fixture(dsrc.Host{}, "a", 1, 10)
	_, _, err = s.AddActiveDataSourceVoxel(invalid, voxels[0])
	require.ErrorIs(err, ErrInvalidHost)

	cfg := testConfig(1000, true)
	cfg.MultiReadBufferBytes = 0
	zero := New(cfg, Callbacks{})
	_, _, err = zero.AddActiveDataSourceVoxel(src, voxels[0])
	require.Error(err)
	require.Equal(0, zero.NumStreamHosts())
	require.Equal(0, zero.NumVoxelsActive())

	require.Equal(0, s.NumStreamHosts())
	require.Equal(0, s.NumStreamHostsActive())
	require.Equal(0, s.NumVoxelsActive())
}

func TestIdempotentActivation(t *testing.T) {
	require := require.New(t)

	s := New(testConfig(1000, true), Callbacks{})
	s.BeginStreaming()
	src, voxels := fixture(hostA, "a", 1, 10, 20)

	sds, created, err := s.AddActiveDataSourceVoxel(src, voxels[0])
	require.NoError(err)
	require.True(created)
	again, created, err := s.AddActiveDataSourceVoxel(src, voxels[0])
	require.NoError(err)
	require.False(created)
	require.Same(sds, again)
	require.Equal(1, s.NumVoxelsActive())
	require.Equal(1, s.NumStreamHostsActive())

	_, created, err = s.AddActiveDataSourceVoxel(src, voxels[1])
	require.NoError(err)
	require.True(created)
	require.Equal(2, s.NumVoxelsActive())
	require.Equal(1, s.NumStreamHostsActive())

	h := s.ActiveHosts()[0]
	require.True(s.IsStreamHostActive(h))

	s.ClearActive()
	require.Equal(0, s.NumVoxelsActive())
	require.Equal(0, s.NumStreamHostsActive())
	require.False(s.IsStreamHostActive(h))
	require.Equal(1, s.NumStreamHosts())

	s.Clear()
	require.Equal(0, s.NumStreamHosts())
	_, ok := s.StreamHost(h)
	require.False(ok)
	require.ErrorIs(s.GenerateHostReadSets(context.Background(), h, s.cfg.Params()), ErrStaleHandle)
}

func TestBasicFetch(t *testing.T) {
	for _, batching := range []bool{true, false} {
		t.Run(map[bool]string{true: "batched", false: "direct"}[batching], func(t *testing.T) {
			require := require.New(t)

			s := New(testConfig(1000, batching), Callbacks{})
			src, voxels := fixture(hostA, "a", 1, 100, 100, 100)
			report := iterate(t, s, func(x *Session) {
				for _, v := range voxels {
					require.True(x.ActivateVoxel(src, v))
				}
			})

			require.Equal(3, report.Voxels)
			require.Equal(uint64(300), report.Bytes)
			b := s.Budget()
			require.Equal(uint64(300), b.TotalUsed)
			require.Equal(uint64(0), b.TotalNotUsed)
			require.Equal(3, b.VoxelsServed)
			for i, v := range voxels {
				require.Equal(vox.WholeLoaded, v.Progress().State)
				require.Equal(byte(i*100), v.data[0])
			}
		})
	}
}

func TestBudgetExhaustion(t *testing.T) {
	require := require.New(t)

	s := New(testConfig(150, true), Callbacks{})
	src, voxels := fixture(hostA, "a", 1, 100, 200)
	iterate(t, s, func(x *Session) {
		for _, v := range voxels {
			x.ActivateVoxel(src, v)
		}
	})

	b := s.Budget()
	require.Equal(uint64(100), b.TotalUsed)
	require.GreaterOrEqual(b.TotalNotUsed, uint64(200))
	require.Equal(vox.WholeLoaded, voxels[0].Progress().State)
	require.Equal(vox.Invalid, voxels[1].Progress().State)

	// the next iteration serves what is left
	iterate(t, s, func(x *Session) {
		for _, v := range voxels {
			x.ActivateVoxel(src, v)
		}
	})
	require.Equal(vox.WholeLoaded, voxels[1].Progress().State)
	require.Equal(uint64(200), s.Budget().TotalUsed)
}

func TestSingleOverrun(t *testing.T) {
	require := require.New(t)

	s := New(testConfig(150, true), Callbacks{})
	src, voxels := fixture(hostA, "a", 1, 300, 10)
	iterate(t, s, func(x *Session) {
		for _, v := range voxels {
			x.ActivateVoxel(src, v)
		}
	})

	b := s.Budget()
	require.Equal(uint64(300), b.TotalUsed)
	require.Equal(uint64(10), b.TotalNotUsed)
	require.Equal(vox.WholeLoaded, voxels[0].Progress().State)
	require.Equal(vox.Invalid, voxels[1].Progress().State)
}

func TestPerVoxelBudget(t *testing.T) {
	require := require.New(t)

	cfg := testConfig(1000, true)
	cfg.PerVoxelBudgetBytes = 100
	s := New(cfg, Callbacks{})
	src, voxels := fixture(hostA, "a", 1, 250)

	var used []uint64
	for i := 0; i < 3; i++ {
		iterate(t, s, func(x *Session) {
			x.ActivateVoxel(src, voxels[0])
		})
		used = append(used, s.Budget().PerVoxelUsed)
	}
	require.Equal([]uint64{100, 100, 50}, used)
	require.Equal(vox.WholeLoaded, voxels[0].Progress().State)
	require.Equal(byte(249), voxels[0].data[249])
}

func TestMaxReadsPerIteration(t *testing.T) {
	require := require.New(t)

	cfg := testConfig(1000, true)
	cfg.MaxReadsPerIteration = 2
	s := New(cfg, Callbacks{})
	src, voxels := fixture(hostA, "a", 1, 10, 10, 10)
	iterate(t, s, func(x *Session) {
		for _, v := range voxels {
			x.ActivateVoxel(src, v)
		}
	})
	require.Equal(2, s.Budget().VoxelsServed)
	require.Equal(uint64(10), s.Budget().TotalNotUsed)
	require.Equal(vox.Invalid, voxels[2].Progress().State)
}

func TestPauseMidIteration(t *testing.T) {
	require := require.New(t)

	checks := 0
	s := New(testConfig(1000, true), Callbacks{
		Suspend: func() bool {
			checks++
			return checks > 1
		},
	})
	src, voxels := fixture(hostA, "a", 1, 10, 20, 30)
	iterate(t, s, func(x *Session) {
		for _, v := range voxels {
			x.ActivateVoxel(src, v)
		}
	})

	b := s.Budget()
	require.Equal(1, b.VoxelsServed)
	require.Equal(uint64(10), b.TotalUsed)
	require.Equal(uint64(50), b.TotalNotUsed)
	require.Equal(vox.WholeLoaded, voxels[0].Progress().State)
	require.Equal(vox.Invalid, voxels[1].Progress().State)
	require.Equal(vox.Invalid, voxels[2].Progress().State)
}

func TestSetPaused(t *testing.T) {
	require := require.New(t)

	s := New(testConfig(1000, true), Callbacks{})
	src, voxels := fixture(hostA, "a", 1, 10)
	x := NewSession(s)
	x.SetPaused(true)
	require.True(s.Paused())
	iterate(t, s, func(x *Session) {
		x.ActivateVoxel(src, voxels[0])
	})
	require.Equal(vox.Invalid, voxels[0].Progress().State)
	require.Equal(uint64(10), s.Budget().TotalNotUsed)

	x.SetPaused(false)
	iterate(t, s, func(x *Session) {
		x.ActivateVoxel(src, voxels[0])
	})
	require.Equal(vox.WholeLoaded, voxels[0].Progress().State)
}

func TestUnreachableHost(t *testing.T) {
	for _, batching := range []bool{true, false} {
		t.Run(map[bool]string{true: "batched", false: "direct"}[batching], func(t *testing.T) {
			require := require.New(t)
			ctrl := gomock.NewController(t)

			a, va := fixture(hostA, "a", 1, 100)
			b := dsrcmock.NewMockDataSource(ctrl)
			b.EXPECT().ID().Return(dsrc.ID("b")).AnyTimes()
			b.EXPECT().Host().Return(hostB).AnyTimes()
			b.EXPECT().ValidHandle().Return(true).AnyTimes()
			b.EXPECT().Read(gomock.Any(), gomock.Any()).Return(errors.New("connection refused")).AnyTimes()
			vb := &testVoxel{id: 2, lod: 50}
			_, vc := fixture(hostA, "a", 3, 100)

			s := New(testConfig(1000, batching), Callbacks{})
			report := iterate(t, s, func(x *Session) {
				require.True(x.ActivateVoxel(a, va[0]))
				require.True(x.ActivateVoxel(b, vb))
				require.True(x.ActivateVoxel(a, vc[0]))
			})
			require.Equal(2, s.NumStreamHostsActive())
			require.Equal(2, report.Voxels)
			require.Equal(vox.WholeLoaded, va[0].Progress().State)
			require.Equal(vox.Invalid, vb.Progress().State)
			require.Equal(vox.WholeLoaded, vc[0].Progress().State)
			if batching {
				require.Equal(1, report.FailedHosts)
			}
			budget := s.Budget()
			require.Equal(uint64(200), budget.TotalUsed)
			require.Equal(uint64(50), budget.TotalNotUsed)
			require.Equal(2, budget.VoxelsServed)
		})
	}
}

func TestDeadHostDoesNotStarveOthers(t *testing.T) {
	for _, batching := range []bool{true, false} {
		t.Run(map[bool]string{true: "batched", false: "direct"}[batching], func(t *testing.T) {
			require := require.New(t)

			dead, vd := fixture(hostB, "dead", 1, 900)
			dead.Invalidate()
			live, vl := fixture(hostA, "live", 2, 200)

			s := New(testConfig(1000, batching), Callbacks{})
			for i := 0; i < 3; i++ {
				iterate(t, s, func(x *Session) {
					require.True(x.ActivateVoxel(dead, vd[0]))
					require.True(x.ActivateVoxel(live, vl[0]))
				})
				if i == 0 {
					budget := s.Budget()
					require.Equal(uint64(200), budget.TotalUsed)
					require.GreaterOrEqual(budget.TotalNotUsed, uint64(900))
				}
				require.Equal(vox.WholeLoaded, vl[0].Progress().State)
				require.Equal(vox.Invalid, vd[0].Progress().State)
			}
		})
	}
}

func TestFailedBatchIsRefunded(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)

	b := dsrcmock.NewMockDataSource(ctrl)
	b.EXPECT().ID().Return(dsrc.ID("b")).AnyTimes()
	b.EXPECT().Host().Return(hostB).AnyTimes()
	b.EXPECT().ValidHandle().Return(true).AnyTimes()
	b.EXPECT().Read(gomock.Any(), gomock.Any()).Return(errors.New("connection reset")).AnyTimes()
	vb := &testVoxel{id: 1, lod: 900}
	a, va := fixture(hostA, "a", 2, 200)

	s := New(testConfig(1000, true), Callbacks{})
	report := iterate(t, s, func(x *Session) {
		require.True(x.ActivateVoxel(b, vb))
		require.True(x.ActivateVoxel(a, va[0]))
	})
	require.Equal(1, report.FailedHosts)
	require.Equal(1, report.FailedVoxels)
	require.Zero(report.Voxels)

	budget := s.Budget()
	require.Zero(budget.TotalUsed)
	require.Equal(uint64(900+200), budget.TotalNotUsed)
	require.Zero(budget.VoxelsServed)
	require.Equal(vox.Invalid, vb.Progress().State)
	require.Equal(vox.Invalid, va[0].Progress().State)
}

func TestStopTwice(t *testing.T) {
	require := require.New(t)

	cfg := testConfig(1000, true)
	cfg.DecodeThreads = 2
	s := New(cfg, Callbacks{})
	s.Start()
	require.NotNil(s.decoders)

	src, voxels := fixture(hostA, "a", 1, 10)
	iterate(t, s, func(x *Session) {
		x.ActivateVoxel(src, voxels[0])
	})

	s.Stop()
	require.NotPanics(s.Stop)
	s.Start()
	require.Nil(s.decoders)
	s.WaitDecoded()
	require.Equal(0, s.NumStreamHosts())
}

func TestIdleHostRetirement(t *testing.T) {
	require := require.New(t)

	cfg := testConfig(1000, true)
	cfg.HostIdleIterations = 2
	s := New(cfg, Callbacks{})
	a, va := fixture(hostA, "a", 1, 10)
	b, vb := fixture(hostB, "b", 2, 10)

	iterate(t, s, func(x *Session) {
		x.ActivateVoxel(a, va[0])
		x.ActivateVoxel(b, vb[0])
	})
	require.Equal(2, s.NumStreamHosts())

	for i := 0; i < 2; i++ {
		iterate(t, s, func(x *Session) {
			x.ActivateVoxel(a, va[0])
		})
	}
	require.Equal(1, s.NumStreamHosts())
	require.Equal(1, s.NumStreamHostsActive())
}

func TestBackgroundFinalization(t *testing.T) {
	require := require.New(t)

	cfg := testConfig(1<<20, true)
	cfg.DecodeThreads = 2
	s := New(cfg, Callbacks{})
	s.Start()

	voxels := voxelstore.Layout(1, 0, voxelstore.FormatXYZI, 10, 20)
	var data []byte
	for i, v := range voxels {
		data = voxelstore.Encode(data, voxelstore.FormatXYZI, voxelstore.SyntheticPoints(uint32(i), v.LodPointCount()))
	}
	src := memsource.New(hostA, "points", data)

	iterate(t, s, func(x *Session) {
		for _, v := range voxels {
			x.ActivateVoxel(src, v)
		}
	})
	s.WaitDecoded()
	for i, v := range voxels {
		require.Equal(vox.Done, v.Progress().State)
		require.Equal(voxelstore.SyntheticPoints(uint32(i), v.LodPointCount()), v.Points())
	}
	s.Stop()
	require.Equal(0, s.NumStreamHosts())
}
