package leveldb

import (
	"os"
	"path/filepath"

	"github.com/pointcloud/voxelstream/kvdb"
)

type Producer struct {
	datadir  string
	getCache func(string) int
}

// NewProducer of level db.
func NewProducer(datadir string, getCache func(string) int) kvdb.DBProducer {
	return &Producer{
		datadir:  datadir,
		getCache: getCache,
	}
}

// Names of existing databases.
func (p *Producer) Names() []string {
	var names []string

	files, err := os.ReadDir(p.datadir)
	if err != nil {
		return nil
	}

	for _, f := range files {
		if !f.IsDir() {
			continue
		}
		names = append(names, f.Name())
	}
	return names
}

// OpenDB or create db with name.
func (p *Producer) OpenDB(name string) (kvdb.Store, error) {
	path := p.resolvePath(name)

	err := os.MkdirAll(path, 0700)
	if err != nil {
		return nil, err
	}

	db, err := New(path, p.getCache(name), 0, nil)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func (p *Producer) resolvePath(name string) string {
	return filepath.Join(p.datadir, name)
}
