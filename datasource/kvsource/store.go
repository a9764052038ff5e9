// Package kvsource keeps resources as compressed fixed-size pages in a
// key-value store and serves them as data sources.
package kvsource

import (
	"io"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/status-im/keycard-go/hexutils"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/pointcloud/voxelstream/common/bigendian"
	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/kvdb"
)

const DefaultPageSize = 64 * opt.KiB

var (
	ErrNotFound     = errors.New("resource not found")
	ErrMissingPage  = errors.New("resource page is missing")
	ErrBadPage      = errors.New("resource page has a wrong size")
	ErrZeroPageSize = errors.New("page size is zero")
)

var (
	metaPrefix = []byte("m")
	pagePrefix = []byte("p")
)

type meta struct {
	Size     uint64
	PageSize uint32
}

func (m meta) pages() uint64 {
	return (m.Size + uint64(m.PageSize) - 1) / uint64(m.PageSize)
}

func metaKey(name string) []byte {
	return append(append([]byte{}, metaPrefix...), name...)
}

func pageKey(name string, page uint64) []byte {
	prefix := append(append([]byte{}, pagePrefix...), name...)
	prefix = append(prefix, 0)
	return bigendian.PrefixedUint64(prefix, page)
}

// Store holds resources in a key-value database.
type Store struct {
	db  kvdb.Store
	enc *zstd.Encoder
	dec *zstd.Decoder

	cachePages int

	log log.Logger
}

// NewStore wraps db. cachePages is the number of decompressed pages each
// opened source keeps.
func NewStore(db kvdb.Store, cachePages int) (*Store, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	if cachePages <= 0 {
		cachePages = 1
	}
	return &Store{
		db:         db,
		enc:        enc,
		dec:        dec,
		cachePages: cachePages,
		log:        log.New("module", "kvsource"),
	}, nil
}

// Close releases the codecs. The database is not closed.
func (s *Store) Close() error {
	s.dec.Close()
	return s.enc.Close()
}

// Import stores the content of r as resource name, overwriting a previous
// version. The resource becomes visible once all pages are written.
func (s *Store) Import(name string, r io.Reader, pageSize uint32) (uint64, error) {
	if pageSize == 0 {
		return 0, ErrZeroPageSize
	}
	batch := s.db.NewBatch()
	buf := make([]byte, pageSize)
	var size, page uint64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if err := batch.Put(pageKey(name, page), s.enc.EncodeAll(buf[:n], nil)); err != nil {
				return 0, err
			}
			size += uint64(n)
			page++
		}
		if batch.ValueSize() >= kvdb.IdealBatchSize {
			if err := batch.Write(); err != nil {
				return 0, err
			}
			batch.Reset()
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return 0, errors.Wrapf(err, "import %s", name)
		}
	}
	b, err := rlp.EncodeToBytes(&meta{Size: size, PageSize: pageSize})
	if err != nil {
		return 0, err
	}
	if err := batch.Put(metaKey(name), b); err != nil {
		return 0, err
	}
	if err := batch.Write(); err != nil {
		return 0, err
	}
	s.log.Debug("Imported resource", "name", name, "size", size, "pages", page)
	return size, nil
}

// Names lists the stored resources in key order.
func (s *Store) Names() ([]string, error) {
	it := s.db.NewIterator(metaPrefix, nil)
	defer it.Release()
	var names []string
	for it.Next() {
		names = append(names, string(it.Key()[len(metaPrefix):]))
	}
	return names, it.Error()
}

func (s *Store) meta(name string) (meta, error) {
	var m meta
	b, err := s.db.Get(metaKey(name))
	if err != nil {
		return m, err
	}
	if b == nil {
		return m, errors.Wrapf(ErrNotFound, "%q", name)
	}
	if err := rlp.DecodeBytes(b, &m); err != nil {
		return m, errors.Wrapf(err, "resource %q meta", name)
	}
	if m.PageSize == 0 {
		return m, errors.Wrapf(ErrZeroPageSize, "resource %q", name)
	}
	return m, nil
}

// Size of resource name.
func (s *Store) Size(name string) (uint64, error) {
	m, err := s.meta(name)
	return m.Size, err
}

// Open makes a data source of resource name.
func (s *Store) Open(host dsrc.Host, name string) (*Source, error) {
	m, err := s.meta(name)
	if err != nil {
		return nil, err
	}
	return newSource(s, host, name, m)
}

func (s *Store) readPage(name string, m meta, page uint64) ([]byte, error) {
	key := pageKey(name, page)
	b, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errors.Wrapf(ErrMissingPage, "key %s", hexutils.BytesToHex(key))
	}
	data, err := s.dec.DecodeAll(b, make([]byte, 0, m.PageSize))
	if err != nil {
		return nil, errors.Wrapf(err, "key %s", hexutils.BytesToHex(key))
	}
	want := uint64(m.PageSize)
	if page == m.pages()-1 {
		want = m.Size - page*uint64(m.PageSize)
	}
	if uint64(len(data)) != want {
		return nil, errors.Wrapf(ErrBadPage, "key %s: %d bytes, want %d", hexutils.BytesToHex(key), len(data), want)
	}
	return data, nil
}
