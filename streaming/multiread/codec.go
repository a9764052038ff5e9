package multiread

import (
	"bytes"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

type setMarshaling struct {
	Count      uint64
	MultiReads []MultiRead
}

// EncodeSet serializes s as its count followed by its multi-reads.
func EncodeSet(s *Set) ([]byte, error) {
	return rlp.EncodeToBytes(&setMarshaling{
		Count:      uint64(len(s.reads)),
		MultiReads: s.reads,
	})
}

// DecodeSet parses a set encoded by EncodeSet. A count above max rejects the
// whole set before any multi-read is decoded.
func DecodeSet(b []byte, max int) (*Set, error) {
	set := NewSet(max)
	stream := rlp.NewStream(bytes.NewReader(b), uint64(len(b)))
	if _, err := stream.List(); err != nil {
		return nil, errors.Wrapf(ErrCorruptedSet, "header: %v", err)
	}
	count, err := stream.Uint()
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptedSet, "count: %v", err)
	}
	if count > uint64(set.max) {
		return nil, errors.Wrapf(ErrTooManyMultiReads, "count %d, max %d", count, set.max)
	}
	if _, err := stream.List(); err != nil {
		return nil, errors.Wrapf(ErrCorruptedSet, "entries: %v", err)
	}
	for i := uint64(0); i < count; i++ {
		var mr MultiRead
		if err := stream.Decode(&mr); err != nil {
			return nil, errors.Wrapf(ErrCorruptedSet, "multi-read %d of %d: %v", i, count, err)
		}
		if _, err := set.AddMultiRead(mr); err != nil {
			return nil, errors.Wrapf(ErrCorruptedSet, "multi-read %d: %v", i, err)
		}
	}
	if err := stream.ListEnd(); err != nil {
		return nil, errors.Wrapf(ErrCorruptedSet, "more than %d multi-reads", count)
	}
	if err := stream.ListEnd(); err != nil {
		return nil, errors.Wrapf(ErrCorruptedSet, "trailer: %v", err)
	}
	return set, nil
}
