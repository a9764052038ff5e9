package rpc

import (
	"os"

	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/datasource/kvsource"
	"github.com/pointcloud/voxelstream/datasource/manager"
	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/streaming/multiread"
)

var (
	// ErrObjectNotFound aborts the multi-read of the missing object only.
	ErrObjectNotFound = errors.New("object not found")
	// ErrHostLockFailed means the server binding changed. The client has
	// taken the new binding, so the call may be repeated.
	ErrHostLockFailed = errors.New("host lock failed")
	ErrPipeInitFailed = errors.New("pipe initialize failed")

	ErrBadRequest  = errors.New("bad request")
	ErrInternal    = errors.New("internal server error")
	ErrChecksum    = errors.New("payload checksum mismatch")
	ErrProtocol    = errors.New("protocol violation")
	ErrUnreachable = errors.New("host unreachable")
	ErrClosed      = errors.New("client closed")
)

func codeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrObjectNotFound),
		errors.Is(err, manager.ErrNotFound),
		errors.Is(err, kvsource.ErrNotFound),
		errors.Is(err, os.ErrNotExist):
		return CodeObjectNotFound
	case errors.Is(err, ErrHostLockFailed):
		return CodeHostLockFailed
	case errors.Is(err, ErrPipeInitFailed):
		return CodePipeInitFailed
	case errors.Is(err, dsrc.ErrOutOfRange),
		errors.Is(err, dsrc.ErrReadTooLong),
		errors.Is(err, multiread.ErrTooManyMultiReads),
		errors.Is(err, multiread.ErrCorruptedSet),
		errors.Is(err, multiread.ErrEmptySet),
		errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	case errors.Is(err, multiread.ErrAllFailed):
		return CodeAllFailed
	}
	return CodeInternal
}

func errorOf(code Code, msg string) error {
	var err error
	switch code {
	case CodeOK:
		return nil
	case CodeObjectNotFound:
		err = ErrObjectNotFound
	case CodeHostLockFailed:
		err = ErrHostLockFailed
	case CodePipeInitFailed:
		err = ErrPipeInitFailed
	case CodeBadRequest:
		err = ErrBadRequest
	case CodeAllFailed:
		err = multiread.ErrAllFailed
	default:
		err = ErrInternal
	}
	if msg == "" {
		return err
	}
	return errors.Wrap(err, msg)
}

// IsTransport reports whether err aborts every multi-read of a round trip.
func IsTransport(err error) bool {
	return errors.Is(err, ErrHostLockFailed) ||
		errors.Is(err, ErrPipeInitFailed) ||
		errors.Is(err, ErrChecksum) ||
		errors.Is(err, ErrProtocol) ||
		errors.Is(err, ErrUnreachable)
}
