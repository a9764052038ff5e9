// Command voxelfetch streams the voxels of a served resource through the
// scheduler and prints the budget of every iteration.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/config"
	"github.com/pointcloud/voxelstream/datasource/remote"
	"github.com/pointcloud/voxelstream/inter/vox"
	"github.com/pointcloud/voxelstream/streaming/scheduler"
	"github.com/pointcloud/voxelstream/transport/rpc"
	"github.com/pointcloud/voxelstream/utils/cachescale"
	"github.com/pointcloud/voxelstream/voxelstore"
)

func main() {
	var (
		url         = flag.String("url", "ws://127.0.0.1:7878/v1/stream", "voxelserve endpoint")
		name        = flag.String("name", "", "resource to stream")
		format      = flag.String("format", "xyzi", "point format: xyz or xyzi")
		voxelPoints = flag.Uint("voxel-points", 4096, "points per voxel")
		iterations  = flag.Int("iterations", 1000, "iterations before giving up")
		configPath  = flag.String("config", "", "path to a YAML config (optional)")
		verbosity   = flag.Int("verbosity", int(log.LvlWarn), "log level, 0-5")
	)
	flag.Parse()

	log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(*verbosity), log.StreamHandler(os.Stderr, log.TerminalFormat(false))))

	cfg := config.DefaultConfig(cachescale.Identity)
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath, cachescale.Identity); err != nil {
			log.Crit("Failed to load config", "path", *configPath, "err", err)
		}
	}
	f, err := parseFormat(*format)
	if err != nil {
		log.Crit("Bad format", "err", err)
	}
	if *name == "" || *voxelPoints == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, *url, *name, f, uint32(*voxelPoints), *iterations); err != nil {
		log.Crit("Fetch failed", "err", err)
	}
}

func parseFormat(s string) (voxelstore.Format, error) {
	switch s {
	case "xyz":
		return voxelstore.FormatXYZ, nil
	case "xyzi":
		return voxelstore.FormatXYZI, nil
	}
	return 0, errors.Errorf("unknown point format %q", s)
}

// layout splits size bytes into voxels of n points. Trailing bytes which do
// not make a whole point are left out.
func layout(size uint64, f voxelstore.Format, n uint32) []*voxelstore.Voxel {
	points := size / uint64(f.Size())
	var counts []uint32
	for points > 0 {
		c := uint64(n)
		if points < c {
			c = points
		}
		counts = append(counts, uint32(c))
		points -= c
	}
	return voxelstore.Layout(1, 0, f, counts...)
}

func run(ctx context.Context, cfg config.Config, url, name string, f voxelstore.Format, voxelPoints uint32, iterations int) error {
	client, err := rpc.Dial(ctx, url, cfg.RPC)
	if err != nil {
		return err
	}
	defer client.Close()

	src, err := remote.Open(ctx, client, name)
	if err != nil {
		return err
	}
	voxels := layout(src.Size(), f, voxelPoints)
	if len(voxels) == 0 {
		return errors.Errorf("resource %q holds no whole %s point", name, f)
	}
	fmt.Printf("%s: %d bytes, %d voxels of up to %d %s points\n", name, src.Size(), len(voxels), voxelPoints, f)

	s := scheduler.New(cfg.Scheduler, scheduler.Callbacks{})
	s.Start()
	defer s.Stop()
	x := scheduler.NewSession(s)

	start := time.Now()
	var loaded uint64
	for i := 1; i <= iterations; i++ {
		x.BeginIteration()
		for _, v := range voxels {
			x.ActivateVoxel(src, v)
		}
		report, err := x.EndIteration(ctx)
		if err != nil {
			return err
		}
		s.WaitDecoded()
		loaded += report.Bytes

		done := 0
		for _, v := range voxels {
			if v.Progress().State == vox.Done {
				done++
			}
		}
		fmt.Printf("%5d  %s  done=%d/%d failedHosts=%d failedVoxels=%d\n",
			i, s.Budget(), done, len(voxels), report.FailedHosts, report.FailedVoxels)
		if done == len(voxels) {
			elapsed := time.Since(start)
			fmt.Printf("loaded %d bytes in %d iterations, %v\n", loaded, i, elapsed)
			return nil
		}
	}
	return errors.Errorf("%d iterations were not enough", iterations)
}
