// Package config aggregates the settings of a streaming client and a data
// server.
package config

import (
	"os"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"gopkg.in/yaml.v3"

	"github.com/pointcloud/voxelstream/datasource/kvsource"
	"github.com/pointcloud/voxelstream/kvdb"
	"github.com/pointcloud/voxelstream/kvdb/leveldb"
	"github.com/pointcloud/voxelstream/kvdb/memorydb"
	"github.com/pointcloud/voxelstream/kvdb/pebble"
	"github.com/pointcloud/voxelstream/streaming/scheduler"
	"github.com/pointcloud/voxelstream/transport/rpc"
	"github.com/pointcloud/voxelstream/utils/cachescale"
)

const (
	BackendDir     = "dir"
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendPebble  = "pebble"
)

var ErrUnknownBackend = errors.New("unknown data source backend")

type DataSourceConfig struct {
	// Backend is where served objects live: files of a directory or
	// resources of a key-value store.
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`

	MaxOpen    int    `yaml:"maxOpen"`    // Data sources kept open
	PageSize   uint32 `yaml:"pageSize"`   // Page size of imported resources
	CachePages int    `yaml:"cachePages"` // Decompressed pages cached per resource
	DBCache    int    `yaml:"dbCache"`    // Cache of the persistent key-value store, bytes
}

type Config struct {
	Scheduler  scheduler.Config `yaml:"scheduler"`
	RPC        rpc.Config       `yaml:"rpc"`
	DataSource DataSourceConfig `yaml:"datasource"`
}

func DefaultConfig(scale cachescale.Func) Config {
	return Config{
		Scheduler: scheduler.DefaultConfig(scale),
		RPC:       rpc.DefaultConfig(scale),
		DataSource: DataSourceConfig{
			Backend:    BackendDir,
			Dir:        ".",
			MaxOpen:    256,
			PageSize:   kvsource.DefaultPageSize,
			CachePages: scale.I(64),
			DBCache:    scale.I(64 * opt.MiB),
		},
	}
}

// Load overrides the defaults with the YAML file at path.
func Load(path string, scale cachescale.Func) (Config, error) {
	cfg := DefaultConfig(scale)
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Scheduler.TotalBudgetBytes == 0:
		return errors.New("scheduler.totalBudgetBytes must be positive")
	case c.Scheduler.MultiReadBufferBytes == 0:
		return errors.New("scheduler.multiReadBufferBytes must be positive")
	case c.Scheduler.MaxMultiReadsPerSet <= 0:
		return errors.New("scheduler.maxMultiReadsPerSet must be positive")
	case c.RPC.MaxMultiReads < c.Scheduler.MaxMultiReadsPerSet:
		return errors.New("rpc.maxMultiReads is below scheduler.maxMultiReadsPerSet")
	case c.DataSource.MaxOpen <= 0:
		return errors.New("datasource.maxOpen must be positive")
	case c.DataSource.PageSize == 0:
		return errors.New("datasource.pageSize must be positive")
	}
	switch c.DataSource.Backend {
	case BackendDir, BackendMemory, BackendLevelDB, BackendPebble:
	default:
		return errors.Wrapf(ErrUnknownBackend, "%q", c.DataSource.Backend)
	}
	return nil
}

// Producer returns the key-value store producer of the backend. The
// directory backend has none.
func (c DataSourceConfig) Producer() (kvdb.DBProducer, error) {
	getCache := func(string) int { return c.DBCache }
	switch c.Backend {
	case BackendMemory:
		return memorydb.NewProducer(), nil
	case BackendLevelDB:
		return leveldb.NewProducer(c.Dir, getCache), nil
	case BackendPebble:
		return pebble.NewProducer(c.Dir, getCache), nil
	}
	return nil, errors.Wrapf(ErrUnknownBackend, "%q has no key-value store", c.Backend)
}
