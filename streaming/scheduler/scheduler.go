// Package scheduler decides, iteration by iteration, which voxel bytes are
// loaded from which hosts within a byte budget.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/inter/idx"
	"github.com/pointcloud/voxelstream/inter/vox"
	"github.com/pointcloud/voxelstream/streaming/hostregistry"
	"github.com/pointcloud/voxelstream/streaming/streamhost"
	"github.com/pointcloud/voxelstream/utils/workers"
)

var (
	ErrNilDataSource = errors.New("data source is nil")
	ErrNilVoxel      = errors.New("voxel is nil")
	ErrInvalidHost   = errors.New("data source host has neither URL nor GUID")
	ErrStaleHandle   = errors.New("stream host handle is stale")
)

var (
	usedMeter        = metrics.GetOrRegisterMeter("voxelstream/scheduler/used", nil)
	notUsedMeter     = metrics.GetOrRegisterMeter("voxelstream/scheduler/notused", nil)
	servedMeter      = metrics.GetOrRegisterMeter("voxelstream/scheduler/voxels", nil)
	failedReadsCount = metrics.GetOrRegisterCounter("voxelstream/scheduler/failed/multireads", nil)
	failedHostsCount = metrics.GetOrRegisterCounter("voxelstream/scheduler/failed/hosts", nil)
)

type Callbacks struct {
	// Suspend is checked between voxels. Returning true pauses the iteration.
	Suspend func() bool
}

// Report is the outcome of Process.
type Report struct {
	Hosts            int
	Voxels           int
	Bytes            uint64
	FailedHosts      int
	FailedMultiReads int
	FailedVoxels     int
}

// Scheduler drives the streaming iterations of one session.
type Scheduler struct {
	cfg      Config
	callback Callbacks

	registry  *hostregistry.Registry
	active    []hostregistry.Handle
	activeSet map[hostregistry.Handle]struct{}
	numVoxels int

	iteration idx.Iteration
	streaming bool
	paused    uint32

	mu     sync.Mutex
	budget Budget

	decoders *workers.Workers
	started  bool
	stopped  bool
	stopOnce sync.Once
	quit     chan struct{}
	wg       sync.WaitGroup

	log log.Logger
}

func New(cfg Config, callback Callbacks) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		callback:  callback,
		registry:  hostregistry.New(),
		activeSet: make(map[hostregistry.Handle]struct{}),
		quit:      make(chan struct{}),
		log:       log.New("module", "scheduler"),
	}
	if cfg.MaxDecodeTasks <= 0 {
		s.cfg.MaxDecodeTasks = 1
	}
	return s
}

// Start boots up the background decoders. Hosts created before Start
// finalize voxels synchronously. A stopped scheduler is not restarted.
func (s *Scheduler) Start() {
	if s.stopped {
		s.log.Warn("Scheduler is stopped, not starting decoders")
		return
	}
	if s.started || s.cfg.DecodeThreads <= 0 {
		return
	}
	s.decoders = workers.New(&s.wg, s.quit, s.cfg.MaxDecodeTasks)
	s.decoders.Start(s.cfg.DecodeThreads)
	s.started = true
}

// Stop interrupts the decoders and drops every host.
// Stop waits until all the internal goroutines have finished.
// Calls after the first one are no-ops.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.decoders != nil {
			s.decoders.Wait()
		}
		close(s.quit)
		s.wg.Wait()
		s.Clear()
		s.decoders = nil
		s.stopped = true
	})
}

// WaitDecoded blocks until every enqueued finalization has finished.
func (s *Scheduler) WaitDecoded() {
	if s.decoders != nil {
		s.decoders.Wait()
	}
}

// AddActiveDataSourceVoxel registers v as needing bytes from ds during the
// current iteration. created reports a voxel newly registered on its host.
func (s *Scheduler) AddActiveDataSourceVoxel(ds dsrc.DataSource, v vox.Voxel) (*streamhost.StreamDataSource, bool, error) {
	if ds == nil {
		return nil, false, ErrNilDataSource
	}
	if v == nil {
		return nil, false, ErrNilVoxel
	}
	host := ds.Host()
	if !host.IsPartiallyValid() {
		return nil, false, ErrInvalidHost
	}

	h, sh, ok := s.registry.Lookup(host)
	if !ok {
		sh = streamhost.New(host, s.cfg.hostConfig(), s.decoders, nil)
		if err := sh.Initialize(s.cfg.MultiReadBufferBytes); err != nil {
			s.log.Error("Failed to initialize stream host", "host", host, "err", err)
			return nil, false, err
		}
		h = s.registry.Insert(host, sh)
	}
	sds, created, err := sh.AddActiveDataSourceVoxel(ds, v)
	if err != nil {
		return nil, false, err
	}
	if _, ok := s.activeSet[h]; !ok {
		s.activeSet[h] = struct{}{}
		s.active = append(s.active, h)
	}
	sh.Touch(s.iteration)
	if created {
		s.numVoxels++
	}
	return sds, created, nil
}

// ClearActive drops every registration. Hosts are kept.
func (s *Scheduler) ClearActive() {
	for _, h := range s.active {
		if sh, ok := s.registry.Get(h); ok {
			sh.ClearActive()
		}
	}
	s.active = nil
	s.activeSet = make(map[hostregistry.Handle]struct{})
	s.numVoxels = 0
}

// Clear drops every registration and every host.
func (s *Scheduler) Clear() {
	s.ClearActive()
	s.registry.Clear()
}

// BeginStreaming starts an iteration.
func (s *Scheduler) BeginStreaming() {
	s.ClearActive()
	s.mu.Lock()
	s.budget = Budget{}
	s.mu.Unlock()
	s.iteration++
	s.streaming = true
}

// EndStreaming finishes the iteration, drops unserved reads and retires idle hosts.
func (s *Scheduler) EndStreaming() {
	for _, h := range s.active {
		if sh, ok := s.registry.Get(h); ok {
			sh.EndStreaming()
		}
	}
	b := s.Budget()
	usedMeter.Mark(int64(b.TotalUsed))
	notUsedMeter.Mark(int64(b.TotalNotUsed))
	servedMeter.Mark(int64(b.VoxelsServed))
	s.log.Debug("Streaming iteration finished", "iteration", s.iteration, "hosts", len(s.active),
		"voxels", s.numVoxels, "used", b.TotalUsed, "notUsed", b.TotalNotUsed, "served", b.VoxelsServed)

	for _, sh := range s.registry.RetireIdle(s.iteration, s.cfg.HostIdleIterations) {
		s.log.Debug("Retired idle stream host", "host", sh.Host(), "lastActive", sh.LastActive())
	}
	s.streaming = false
}

// Iteration is the number of the current or last iteration.
func (s *Scheduler) Iteration() idx.Iteration {
	return s.iteration
}

func (s *Scheduler) Streaming() bool {
	return s.streaming
}

func (s *Scheduler) SetPaused(paused bool) {
	var v uint32
	if paused {
		v = 1
	}
	atomic.StoreUint32(&s.paused, v)
}

func (s *Scheduler) Paused() bool {
	if atomic.LoadUint32(&s.paused) != 0 {
		return true
	}
	return s.callback.Suspend != nil && s.callback.Suspend()
}

// Budget returns a snapshot of the iteration counters.
func (s *Scheduler) Budget() Budget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget
}

// ActiveHosts returns the hosts activated during the iteration, in activation order.
func (s *Scheduler) ActiveHosts() []hostregistry.Handle {
	return append([]hostregistry.Handle(nil), s.active...)
}

// StreamHost resolves h.
func (s *Scheduler) StreamHost(h hostregistry.Handle) (*streamhost.StreamHost, bool) {
	return s.registry.Get(h)
}

func (s *Scheduler) IsStreamHostActive(h hostregistry.Handle) bool {
	if _, ok := s.activeSet[h]; !ok {
		return false
	}
	sh, ok := s.registry.Get(h)
	return ok && sh.State() != streamhost.Idle
}

func (s *Scheduler) NumStreamHostsActive() int {
	return len(s.active)
}

func (s *Scheduler) NumVoxelsActive() int {
	return s.numVoxels
}

// NumStreamHosts is the number of registered hosts, active or not.
func (s *Scheduler) NumStreamHosts() int {
	return s.registry.Len()
}

// GenerateHostReadSets admits the voxels of one host in activation order
// until the budget, the read limit or a pause stops it. With batching the
// admitted reads are accumulated for the host's next multi-read set,
// otherwise they are served at once.
func (s *Scheduler) GenerateHostReadSets(ctx context.Context, h hostregistry.Handle, p Params) error {
	sh, ok := s.registry.Get(h)
	if !ok {
		return ErrStaleHandle
	}
	sh.BeginStreaming()

	b := s.Budget()
	defer func() {
		s.mu.Lock()
		s.budget = b
		s.mu.Unlock()
	}()
	b.IterationUsed = 0

	entries := sh.ActiveVoxels()
	for i, e := range entries {
		if s.Paused() || b.TotalUsed >= p.TotalBudget || (p.MaxReads > 0 && sh.NumReadsIssued() >= p.MaxReads) {
			b.TotalNotUsed += notUsed(entries[i:], p)
			return nil
		}
		req, ok := vox.Pending(e.Voxel, p.PerVoxelBudget)
		if !ok {
			continue
		}
		need := uint64(req.Length)
		if !b.admits(need, p.TotalBudget) {
			b.TotalNotUsed += notUsed(entries[i:], p)
			return nil
		}

		var err error
		if p.Batching {
			err = sh.Request(e, req)
		} else {
			err = sh.ReadDirect(ctx, e, req)
		}
		if err != nil {
			b.TotalNotUsed += need
			if !isCapacityErr(err) {
				s.log.Warn("Failed to read voxel", "host", sh.Host(), "source", e.Source.ID(), "voxel", e.Voxel.ID(), "err", err)
			}
			continue
		}
		b.use(need)
	}
	return nil
}

func isCapacityErr(err error) bool {
	return errors.Is(err, streamhost.ErrBufferFull) ||
		errors.Is(err, streamhost.ErrSetFull) ||
		errors.Is(err, streamhost.ErrReadSetFull)
}

// notUsed sums the needs of the voxels left out of the iteration.
func notUsed(entries []streamhost.Entry, p Params) uint64 {
	var sum uint64
	for _, e := range entries {
		if req, ok := vox.Pending(e.Voxel, p.PerVoxelBudget); ok {
			sum += uint64(req.Length)
		}
	}
	return sum
}

type hostResult struct {
	stats streamhost.LoadStats
	err   error
}

// Process runs one iteration over every active host. Round trips of
// different hosts run concurrently. A failed host does not stop the others.
func (s *Scheduler) Process(ctx context.Context) (Report, error) {
	p := s.cfg.Params()
	hosts := s.ActiveHosts()
	report := Report{Hosts: len(hosts)}

	for _, h := range hosts {
		if err := s.GenerateHostReadSets(ctx, h, p); err != nil {
			s.log.Warn("Failed to generate read sets", "handle", h, "err", err)
			report.FailedHosts++
		}
	}
	if !p.Batching {
		b := s.Budget()
		report.Voxels = b.VoxelsServed
		report.Bytes = b.TotalUsed
		s.endHosts(hosts)
		failedHostsCount.Inc(int64(report.FailedHosts))
		return report, ctx.Err()
	}

	results := make([]hostResult, len(hosts))
	var g errgroup.Group
	if s.cfg.ParallelHosts > 0 {
		g.SetLimit(s.cfg.ParallelHosts)
	}
	for i, h := range hosts {
		sh, ok := s.registry.Get(h)
		if !ok {
			continue
		}
		i := i
		g.Go(func() error {
			results[i] = s.loadHost(ctx, sh)
			return nil
		})
	}
	_ = g.Wait()
	s.endHosts(hosts)

	s.mu.Lock()
	for _, r := range results {
		s.budget.refund(r.stats.FailedBytes, r.stats.FailedVoxels)
	}
	s.mu.Unlock()

	for _, r := range results {
		report.Voxels += r.stats.Voxels
		report.Bytes += r.stats.Bytes
		report.FailedMultiReads += r.stats.FailedMultiReads
		report.FailedVoxels += r.stats.FailedVoxels
		if r.err != nil {
			report.FailedHosts++
		}
	}
	failedReadsCount.Inc(int64(report.FailedMultiReads))
	failedHostsCount.Inc(int64(report.FailedHosts))
	return report, ctx.Err()
}

func (s *Scheduler) loadHost(ctx context.Context, sh *streamhost.StreamHost) hostResult {
	set, err := sh.GenerateMultiReadSet()
	if err != nil {
		s.log.Warn("Failed to generate multi-read set", "host", sh.Host(), "err", err)
		stats := streamhost.LoadStats{
			FailedVoxels: sh.NumReadsIssued(),
			FailedBytes:  sh.Pending().Size,
		}
		return hostResult{stats: stats, err: err}
	}
	if set.Len() == 0 {
		return hostResult{}
	}
	stats, err := sh.LoadMultiReadSetVoxelData(ctx)
	if err != nil {
		s.log.Warn("Failed to load multi-read set", "host", sh.Host(), "multireads", set.Len(), "size", set.TotalReadSize(), "err", err)
		return hostResult{stats: stats, err: err}
	}
	return hostResult{stats: stats}
}

func (s *Scheduler) endHosts(hosts []hostregistry.Handle) {
	for _, h := range hosts {
		if sh, ok := s.registry.Get(h); ok {
			sh.EndStreaming()
		}
	}
}
