// Package remote serves data sources of an rpc server. Multi-read sets of
// remote sources are executed as single round trips.
package remote

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/streaming/multiread"
	"github.com/pointcloud/voxelstream/streaming/streamhost"
	"github.com/pointcloud/voxelstream/transport/rpc"
)

// Source is an object of the server behind client.
type Source struct {
	client *rpc.Client
	host   dsrc.Host
	name   string
	size   uint64
	closed atomic.Bool
}

var (
	_ dsrc.DataSource             = (*Source)(nil)
	_ dsrc.ContextReader          = (*Source)(nil)
	_ streamhost.ExecutorProvider = (*Source)(nil)
)

// Open looks up object name. Sources of one client share the host
// identified by the client URL.
func Open(ctx context.Context, client *rpc.Client, name string) (*Source, error) {
	size, err := client.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Source{
		client: client,
		host:   HostOf(client),
		name:   name,
		size:   size,
	}, nil
}

// HostOf is the host of the sources opened with client.
func HostOf(client *rpc.Client) dsrc.Host {
	return dsrc.Host{URL: client.URL()}
}

func (s *Source) ID() dsrc.ID { return dsrc.ID(s.name) }

func (s *Source) Host() dsrc.Host { return s.host }

func (s *Source) Size() uint64 { return s.size }

func (s *Source) ValidHandle() bool {
	return !s.closed.Load() && !s.client.Closed()
}

func (s *Source) Read(offset uint64, dst []byte) error {
	return s.ReadContext(context.Background(), offset, dst)
}

// ReadContext is Read which gives up when ctx is done.
func (s *Source) ReadContext(ctx context.Context, offset uint64, dst []byte) error {
	if !s.ValidHandle() {
		return dsrc.ErrInvalidHandle
	}
	if err := dsrc.CheckRange(offset, len(dst), s.size); err != nil {
		return err
	}
	return s.client.Read(ctx, s.name, offset, dst)
}

// Close invalidates the source. The client stays open.
func (s *Source) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Source) MultiReadExecutor() multiread.Executor {
	return NewExecutor(s.client)
}

// Executor runs multi-read sets on the server of a client.
type Executor struct {
	client *rpc.Client
}

func NewExecutor(client *rpc.Client) *Executor {
	return &Executor{client: client}
}

// Execute sends set in one round trip. Multi-reads the server could not
// serve are reported in Result.Failed, a transport failure fails the set.
func (e *Executor) Execute(ctx context.Context, set *multiread.Set, buf *multiread.Buffer) (res *multiread.Result, err error) {
	if set.Len() == 0 {
		return nil, multiread.ErrEmptySet
	}
	if buf == nil {
		buf = multiread.Allocate(set.TotalReadSize(), nil)
	}
	defer func() {
		if err != nil {
			buf.Release()
		}
	}()
	if buf.Len() < set.TotalReadSize() {
		return nil, errors.Wrapf(multiread.ErrBufferTooSmall, "have %d, need %d", buf.Len(), set.TotalReadSize())
	}

	failed, err := e.client.MultiRead(ctx, set, buf.Bytes())
	if err != nil {
		return nil, err
	}
	res = multiread.NewResult(set, buf)
	for ref, ferr := range failed {
		res.Failed[ref] = ferr
	}
	if len(res.Failed) == set.Len() {
		return nil, errors.Wrap(multiread.ErrAllFailed, res.Failed[0].Error())
	}
	return res, nil
}
