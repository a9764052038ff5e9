package rpc

import (
	"time"

	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/pointcloud/voxelstream/streaming/multiread"
	"github.com/pointcloud/voxelstream/utils/cachescale"
)

type Config struct {
	// CompressThreshold is the payload size above which returns are
	// compressed. 0 disables compression.
	CompressThreshold int    `yaml:"compressThreshold"`
	MaxPayloadBytes   uint64 `yaml:"maxPayloadBytes"` // Largest read or multi-read set served in one return
	MaxMultiReads     int    `yaml:"maxMultiReads"`   // Multi-reads accepted in one set

	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	CallTimeout      time.Duration `yaml:"callTimeout"` // Applied when the caller's context has no deadline

	ReadBufferSize  int `yaml:"readBufferSize"`
	WriteBufferSize int `yaml:"writeBufferSize"`
}

func DefaultConfig(scale cachescale.Func) Config {
	return Config{
		CompressThreshold: 4 * opt.KiB,
		MaxPayloadBytes:   scale.U64(64 * opt.MiB),
		MaxMultiReads:     multiread.DefaultMaxMultiReads,
		HandshakeTimeout:  5 * time.Second,
		CallTimeout:       30 * time.Second,
		ReadBufferSize:    64 * opt.KiB,
		WriteBufferSize:   64 * opt.KiB,
	}
}

// maxMessage bounds an encoded message. Compression never grows a payload,
// so the bound is the payload limit plus framing.
func (c Config) maxMessage() int64 {
	return int64(c.MaxPayloadBytes) + 64*opt.KiB
}
