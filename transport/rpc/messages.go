package rpc

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/hash"
)

type Method uint8

const (
	MethodOpen Method = iota + 1
	MethodRead
	MethodMultiRead
)

func (m Method) String() string {
	switch m {
	case MethodOpen:
		return "open"
	case MethodRead:
		return "read"
	case MethodMultiRead:
		return "multiread"
	}
	return fmt.Sprintf("method(%d)", uint8(m))
}

// Code is the status of a Return.
type Code uint8

const (
	CodeOK Code = iota
	CodeObjectNotFound
	CodeHostLockFailed
	CodePipeInitFailed
	CodeBadRequest
	CodeAllFailed
	CodeInternal
)

// Call is a request. Host is the server binding the client holds, zero for
// a client which has not bound yet.
type Call struct {
	ID     uint64
	Method Method
	Host   hash.GUID
	Name   string
	Offset uint64
	Length uint64
	Set    []byte
}

// Failure is a multi-read of a set which the server could not serve.
type Failure struct {
	Ref     uint64
	Code    Code
	Message string
}

const flagCompressed = 1

// Return answers the Call with the same ID. Host is the current binding of
// the server.
type Return struct {
	ID       uint64
	Host     hash.GUID
	Code     Code
	Message  string
	Size     uint64
	Failed   []Failure
	Flags    uint8
	Checksum uint64
	Payload  []byte
}

func encodeCall(c *Call) ([]byte, error) {
	return rlp.EncodeToBytes(c)
}

func decodeCall(b []byte) (*Call, error) {
	c := new(Call)
	if err := rlp.DecodeBytes(b, c); err != nil {
		return nil, errors.Wrap(ErrProtocol, err.Error())
	}
	return c, nil
}

func decodeReturn(b []byte) (*Return, error) {
	r := new(Return)
	if err := rlp.DecodeBytes(b, r); err != nil {
		return nil, errors.Wrap(ErrProtocol, err.Error())
	}
	return r, nil
}

// setPayload checksums data and compresses it when worthwhile.
func (r *Return) setPayload(data []byte, threshold int, enc *zstd.Encoder) {
	r.Checksum = xxhash.Sum64(data)
	r.Flags = 0
	if threshold > 0 && len(data) > threshold {
		compressed := enc.EncodeAll(data, make([]byte, 0, len(data)/2))
		if len(compressed) < len(data) {
			r.Payload = compressed
			r.Flags |= flagCompressed
			return
		}
	}
	r.Payload = data
}

// payload returns the verified uncompressed data. Payloads which would
// expand beyond max bytes are rejected before they are decoded.
func (r *Return) payload(dec *zstd.Decoder, max uint64) ([]byte, error) {
	data := r.Payload
	if r.Flags&flagCompressed != 0 {
		var err error
		data, err = dec.DecodeAll(r.Payload, make([]byte, 0, max))
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
			return nil, errors.Wrapf(ErrProtocol, "payload expands beyond %d bytes", max)
		}
		if err != nil {
			return nil, errors.Wrap(ErrChecksum, err.Error())
		}
	}
	if uint64(len(data)) > max {
		return nil, errors.Wrapf(ErrProtocol, "payload of %d bytes, want at most %d", len(data), max)
	}
	if sum := xxhash.Sum64(data); sum != r.Checksum {
		return nil, errors.Wrapf(ErrChecksum, "have %x, want %x", sum, r.Checksum)
	}
	return data, nil
}
