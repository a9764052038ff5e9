package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pointcloud/voxelstream/utils/cachescale"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig(cachescale.Identity).Validate())
}

func TestLoad(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "voxelstream.yaml")
	require.NoError(os.WriteFile(path, []byte(`
scheduler:
  totalBudgetBytes: 1000
  batching: false
rpc:
  compressThreshold: 0
datasource:
  backend: memory
`), 0600))

	cfg, err := Load(path, cachescale.Identity)
	require.NoError(err)
	def := DefaultConfig(cachescale.Identity)

	require.Equal(uint64(1000), cfg.Scheduler.TotalBudgetBytes)
	require.False(cfg.Scheduler.Batching)
	require.Zero(cfg.RPC.CompressThreshold)
	require.Equal(BackendMemory, cfg.DataSource.Backend)
	// untouched keys keep their defaults
	require.Equal(def.Scheduler.MaxMultiReadsPerSet, cfg.Scheduler.MaxMultiReadsPerSet)
	require.Equal(def.RPC.CallTimeout, cfg.RPC.CallTimeout)
	require.Equal(def.DataSource.PageSize, cfg.DataSource.PageSize)

	producer, err := cfg.DataSource.Producer()
	require.NoError(err)
	db, err := producer.OpenDB("voxels")
	require.NoError(err)
	require.NoError(db.Close())
}

func TestLoadRejects(t *testing.T) {
	for name, body := range map[string]string{
		"backend": "datasource:\n  backend: tape\n",
		"budget":  "scheduler:\n  totalBudgetBytes: 0\n",
		"set":     "scheduler:\n  maxMultiReadsPerSet: 128\nrpc:\n  maxMultiReads: 64\n",
		"yaml":    "scheduler: [",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "voxelstream.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0600))
			_, err := Load(path, cachescale.Identity)
			require.Error(t, err)
		})
	}

	_, err := DefaultConfig(cachescale.Identity).DataSource.Producer()
	require.ErrorIs(t, err, ErrUnknownBackend)
}
