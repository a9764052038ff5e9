//go:generate go run github.com/golang/mock/mockgen -package=dsrcmock -destination=dsrcmock/datasource.go github.com/pointcloud/voxelstream/inter/dsrc DataSource

package dsrc

import (
	"context"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/pointcloud/voxelstream/hash"
)

func TestHostValidity(t *testing.T) {
	require := require.New(t)

	require.False(Host{}.IsPartiallyValid())
	require.True(Host{URL: "ws://a"}.IsPartiallyValid())
	require.True(Host{GUID: hash.FakeGUID(1)}.IsPartiallyValid())

	// hosts are looked up by value
	m := map[Host]int{{URL: "ws://a"}: 1}
	require.Equal(1, m[Host{URL: "ws://a"}])
}

func TestCheckRange(t *testing.T) {
	require := require.New(t)

	require.NoError(CheckRange(0, 10, 10))
	require.NoError(CheckRange(10, 0, 10))
	require.True(errors.Is(CheckRange(5, 6, 10), ErrOutOfRange))
	require.True(errors.Is(CheckRange(math.MaxUint64, 2, math.MaxUint64), ErrOutOfRange))
}

type plainSource struct{ reads int }

func (s *plainSource) ID() ID            { return "plain" }
func (s *plainSource) Host() Host        { return Host{URL: "mem://plain"} }
func (s *plainSource) ValidHandle() bool { return true }
func (s *plainSource) Read(offset uint64, dst []byte) error {
	s.reads++
	return nil
}

type cancellableSource struct {
	plainSource
	ctx context.Context
}

func (s *cancellableSource) ReadContext(ctx context.Context, offset uint64, dst []byte) error {
	s.ctx = ctx
	return ctx.Err()
}

func TestReadContext(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	plain := &plainSource{}
	require.NoError(ReadContext(ctx, plain, 0, make([]byte, 4)))
	require.Equal(1, plain.reads)

	c := &cancellableSource{}
	require.NoError(ReadContext(ctx, c, 0, make([]byte, 4)))
	require.Equal(ctx, c.ctx)
	require.Equal(0, c.reads)

	cancel()
	require.ErrorIs(ReadContext(ctx, plain, 0, make([]byte, 4)), context.Canceled)
	require.Equal(1, plain.reads)
	require.ErrorIs(ReadContext(ctx, c, 0, make([]byte, 4)), context.Canceled)
}
