package dsrc

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/hash"
)

// MaxReadLength is the largest single read a data source must serve.
const MaxReadLength = math.MaxUint32

var (
	ErrInvalidHandle = errors.New("data source handle is not valid")
	ErrOutOfRange    = errors.New("read range is out of data source bounds")
	ErrReadTooLong   = errors.New("read length exceeds MaxReadLength")
)

// ID identifies a data source within its host.
type ID string

// Host is the identity of a data location. Hosts are compared by value.
type Host struct {
	URL  string
	GUID hash.GUID
}

// IsPartiallyValid reports whether at least one of URL and GUID is set.
func (h Host) IsPartiallyValid() bool {
	return h.URL != "" || !h.GUID.IsZero()
}

func (h Host) String() string {
	if h.GUID.IsZero() {
		return h.URL
	}
	return fmt.Sprintf("%s#%s", h.URL, h.GUID.TerminalString())
}

// DataSource is a byte-addressable resource: a local file or a remote session.
// Implementations must allow concurrent Read calls; callers which need cursor
// semantics serialize reads themselves.
type DataSource interface {
	ID() ID
	Host() Host
	ValidHandle() bool
	// Read fills dst with the bytes at [offset, offset+len(dst)).
	Read(offset uint64, dst []byte) error
}

// ContextReader is implemented by data sources whose reads can be cancelled.
type ContextReader interface {
	ReadContext(ctx context.Context, offset uint64, dst []byte) error
}

// ReadContext reads through ds, passing ctx on when ds supports it.
func ReadContext(ctx context.Context, ds DataSource, offset uint64, dst []byte) error {
	if r, ok := ds.(ContextReader); ok {
		return r.ReadContext(ctx, offset, dst)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ds.Read(offset, dst)
}

// Sizer is implemented by data sources with a known size.
type Sizer interface {
	Size() uint64
}

// CheckRange validates a read of length bytes at offset against size.
func CheckRange(offset uint64, length int, size uint64) error {
	if uint64(length) > MaxReadLength {
		return ErrReadTooLong
	}
	end := offset + uint64(length)
	if end < offset || end > size {
		return errors.Wrapf(ErrOutOfRange, "offset=%d length=%d size=%d", offset, length, size)
	}
	return nil
}
