package scheduler

import (
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/pointcloud/voxelstream/streaming/multiread"
	"github.com/pointcloud/voxelstream/streaming/streamhost"
	"github.com/pointcloud/voxelstream/utils/cachescale"
)

type Config struct {
	TotalBudgetBytes     uint64 `yaml:"totalBudgetBytes"`     // Bytes loaded per iteration across every host
	PerVoxelBudgetBytes  uint64 `yaml:"perVoxelBudgetBytes"`  // Bytes loaded into one voxel per iteration, 0 is unlimited
	MaxReadsPerIteration int    `yaml:"maxReadsPerIteration"` // Reads issued by one host per iteration, 0 is unlimited
	MaxMultiReadsPerSet  int    `yaml:"maxMultiReadsPerSet"`  // Data sources served by one round trip
	MaxReadsPerMultiRead int    `yaml:"maxReadsPerMultiRead"` // Reads of one data source in one round trip, 0 is unlimited
	MultiReadBufferBytes uint64 `yaml:"multiReadBufferBytes"` // Multi-read buffering capacity of each host

	// Batching merges the reads of a host into one round trip per iteration.
	// Without it every read is served as soon as it is admitted.
	Batching      bool `yaml:"batching"`
	ParallelHosts int  `yaml:"parallelHosts"` // Round trips of different hosts in flight

	DecodeThreads  int `yaml:"decodeThreads"`
	MaxDecodeTasks int `yaml:"maxDecodeTasks"`

	// HostIdleIterations is the number of iterations without activation after
	// which a host is dropped. 0 keeps hosts until Clear.
	HostIdleIterations uint64 `yaml:"hostIdleIterations"`
}

func DefaultConfig(scale cachescale.Func) Config {
	return Config{
		TotalBudgetBytes:     scale.U64(16 * opt.MiB),
		PerVoxelBudgetBytes:  scale.U64(1 * opt.MiB),
		MaxReadsPerIteration: 4096,
		MaxMultiReadsPerSet:  multiread.DefaultMaxMultiReads,
		MaxReadsPerMultiRead: 1024,
		MultiReadBufferBytes: scale.U64(32 * opt.MiB),
		Batching:             true,
		ParallelHosts:        8,
		DecodeThreads:        2,
		MaxDecodeTasks:       scale.I(1024),
		HostIdleIterations:   64,
	}
}

// Params are the limits of one GenerateHostReadSets pass.
type Params struct {
	TotalBudget    uint64
	PerVoxelBudget uint64
	MaxReads       int
	Batching       bool
}

func (c Config) Params() Params {
	return Params{
		TotalBudget:    c.TotalBudgetBytes,
		PerVoxelBudget: c.PerVoxelBudgetBytes,
		MaxReads:       c.MaxReadsPerIteration,
		Batching:       c.Batching,
	}
}

func (c Config) hostConfig() streamhost.Config {
	return streamhost.Config{
		MaxMultiReadsPerSet:  c.MaxMultiReadsPerSet,
		MaxReadsPerMultiRead: c.MaxReadsPerMultiRead,
	}
}
