package multiread

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/inter/dsrc"
)

var (
	ErrEmptySet       = errors.New("multi-read set is empty")
	ErrBufferTooSmall = errors.New("buffer is smaller than the set")
	ErrAllFailed      = errors.New("every multi-read of the set failed")
)

// Resolver finds the data source a multi-read names.
type Resolver interface {
	Resolve(id dsrc.ID) (dsrc.DataSource, error)
}

// ResolverFunc is a function Resolver.
type ResolverFunc func(id dsrc.ID) (dsrc.DataSource, error)

func (f ResolverFunc) Resolve(id dsrc.ID) (dsrc.DataSource, error) {
	return f(id)
}

// Executor runs a set as one round trip. With a nil buf the executor
// allocates an owned buffer.
type Executor interface {
	Execute(ctx context.Context, set *Set, buf *Buffer) (*Result, error)
}

// Result is the outcome of an executed set.
type Result struct {
	Set    *Set
	Buffer *Buffer
	// Failed holds the error of each multi-read which could not be served.
	Failed map[int]error
}

// NewResult makes an empty result for set over buf.
func NewResult(set *Set, buf *Buffer) *Result {
	return &Result{
		Set:    set,
		Buffer: buf,
		Failed: make(map[int]error),
	}
}

// OK reports whether multi-read ref was served.
func (r *Result) OK(ref int) bool {
	_, failed := r.Failed[ref]
	return !failed
}

// Data returns the bytes of multi-read ref.
func (r *Result) Data(ref int) []byte {
	from, to := r.Set.span(ref)
	return r.Buffer.Bytes()[from:to]
}

// ForEachRead calls fn for every read of every served multi-read, in set order.
// Iteration stops when fn returns false.
func (r *Result) ForEachRead(fn func(ref int, read Read, data []byte) bool) {
	for ref, mr := range r.Set.MultiReads() {
		if !r.OK(ref) {
			continue
		}
		data := r.Data(ref)
		var cursor uint64
		for _, read := range mr.Reads {
			end := cursor + uint64(read.Length)
			if !fn(ref, read, data[cursor:end]) {
				return
			}
			cursor = end
		}
	}
}

// Release gives back an owned buffer.
func (r *Result) Release() {
	r.Buffer.Release()
}

// Local executes sets against data sources of this process.
type Local struct {
	resolver Resolver
	locks    *LockTable
}

// NewLocal makes a local executor. A nil locks gets a private table.
func NewLocal(resolver Resolver, locks *LockTable) *Local {
	if locks == nil {
		locks = NewLockTable()
	}
	return &Local{
		resolver: resolver,
		locks:    locks,
	}
}

func (l *Local) Execute(ctx context.Context, set *Set, buf *Buffer) (*Result, error) {
	return Execute(ctx, l.resolver, l.locks, set, buf)
}

// Execute reads every multi-read of set into consecutive ranges of buf.
// A multi-read which fails is recorded in Result.Failed and does not stop the
// others. When the set as a whole fails, an owned buffer is released.
func Execute(ctx context.Context, resolver Resolver, locks *LockTable, set *Set, buf *Buffer) (res *Result, err error) {
	if set.Len() == 0 {
		return nil, ErrEmptySet
	}
	if buf == nil {
		buf = Allocate(set.TotalReadSize(), nil)
	}
	defer func() {
		if err != nil {
			buf.Release()
		}
	}()
	if buf.Len() < set.TotalReadSize() {
		return nil, errors.Wrapf(ErrBufferTooSmall, "have %d, need %d", buf.Len(), set.TotalReadSize())
	}

	res = NewResult(set, buf)
	for ref := range set.MultiReads() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := executeOne(resolver, locks, set.At(ref), res.Data(ref)); err != nil {
			res.Failed[ref] = err
		}
	}
	if len(res.Failed) == set.Len() {
		return nil, errors.Wrap(ErrAllFailed, res.Failed[0].Error())
	}
	return res, nil
}

func executeOne(resolver Resolver, locks *LockTable, mr *MultiRead, dst []byte) error {
	ds, err := resolver.Resolve(mr.Source)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", mr.Source)
	}
	release := locks.Acquire(mr.Source)
	defer release()

	if !ds.ValidHandle() {
		return errors.Wrapf(dsrc.ErrInvalidHandle, "source %s", mr.Source)
	}
	var cursor uint64
	for _, r := range mr.Reads {
		end := cursor + uint64(r.Length)
		if err := ds.Read(r.Offset, dst[cursor:end]); err != nil {
			return errors.Wrapf(err, "read %s at %d", mr.Source, r.Offset)
		}
		cursor = end
	}
	return nil
}
