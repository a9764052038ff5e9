// Command voxelserve serves point-cloud resources to streaming clients.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/config"
	"github.com/pointcloud/voxelstream/datasource/kvsource"
	"github.com/pointcloud/voxelstream/datasource/manager"
	"github.com/pointcloud/voxelstream/hash"
	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/transport/rpc"
	"github.com/pointcloud/voxelstream/utils/cachescale"
)

const storeName = "voxels"

type importList []string

func (l *importList) String() string     { return strings.Join(*l, ",") }
func (l *importList) Set(v string) error { *l = append(*l, v); return nil }

func main() {
	var (
		addr       = flag.String("addr", ":7878", "http listen address")
		path       = flag.String("path", "/v1/stream", "websocket endpoint")
		configPath = flag.String("config", "", "path to a YAML config (optional)")
		backend    = flag.String("backend", "", "data source backend: dir, memory, leveldb, pebble (overrides config)")
		dir        = flag.String("dir", "", "served directory or database directory (overrides config)")
		verbosity  = flag.Int("verbosity", int(log.LvlInfo), "log level, 0-5")
		imports    importList
	)
	flag.Var(&imports, "import", "file imported into the key-value store before serving (repeatable)")
	flag.Parse()

	log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(*verbosity), log.StreamHandler(os.Stderr, log.TerminalFormat(false))))

	cfg := config.DefaultConfig(cachescale.Identity)
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath, cachescale.Identity); err != nil {
			log.Crit("Failed to load config", "path", *configPath, "err", err)
		}
	}
	if *backend != "" {
		cfg.DataSource.Backend = *backend
	}
	if *dir != "" {
		cfg.DataSource.Dir = *dir
	}
	if err := cfg.Validate(); err != nil {
		log.Crit("Invalid config", "err", err)
	}

	if err := run(*addr, *path, cfg, imports); err != nil {
		log.Crit("Server failed", "err", err)
	}
}

func run(addr, path string, cfg config.Config, imports []string) error {
	host := dsrc.Host{URL: "ws://" + addr + path}

	open, closeStore, err := opener(host, cfg.DataSource, imports)
	if err != nil {
		return err
	}
	defer closeStore()

	sources, err := manager.New(host, cfg.DataSource.MaxOpen, open)
	if err != nil {
		return err
	}
	defer sources.Close()

	var guid hash.GUID
	if _, err := rand.Read(guid[:]); err != nil {
		return err
	}
	server, err := rpc.NewServer(guid, sources, cfg.RPC)
	if err != nil {
		return err
	}
	defer server.Close()

	mux := http.NewServeMux()
	mux.Handle(path, server.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.RPC.HandshakeTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Info("Serving", "addr", addr, "path", path, "backend", cfg.DataSource.Backend, "dir", cfg.DataSource.Dir, "guid", guid.TerminalString())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// opener returns how the backend opens objects, importing files into a
// key-value backend first.
func opener(host dsrc.Host, cfg config.DataSourceConfig, imports []string) (manager.OpenerFunc, func(), error) {
	if cfg.Backend == config.BackendDir {
		if len(imports) != 0 {
			return nil, nil, errors.New("imports need a key-value backend")
		}
		return manager.Dir(cfg.Dir), func() {}, nil
	}
	producer, err := cfg.Producer()
	if err != nil {
		return nil, nil, err
	}
	db, err := producer.OpenDB(storeName)
	if err != nil {
		return nil, nil, err
	}
	store, err := kvsource.NewStore(db, cfg.CachePages)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			log.Warn("Failed to close store", "err", err)
		}
		if err := db.Close(); err != nil {
			log.Warn("Failed to close database", "err", err)
		}
	}
	for _, path := range imports {
		if err := importFile(store, path, cfg.PageSize); err != nil {
			closeStore()
			return nil, nil, err
		}
	}
	names, err := store.Names()
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	log.Info("Opened store", "backend", cfg.Backend, "resources", len(names))
	return manager.KV(store), closeStore, nil
}

func importFile(store *kvsource.Store, path string, pageSize uint32) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := filepath.Base(path)
	start := time.Now()
	size, err := store.Import(name, f, pageSize)
	if err != nil {
		return errors.Wrapf(err, "import %s", path)
	}
	log.Info("Imported resource", "name", name, "size", size, "elapsed", time.Since(start))
	return nil
}
