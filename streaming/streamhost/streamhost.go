// Package streamhost aggregates, per data host, the data sources and voxels
// requested during one streaming iteration and serves them in one round trip.
package streamhost

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/inter/idx"
	"github.com/pointcloud/voxelstream/inter/metric"
	"github.com/pointcloud/voxelstream/inter/vox"
	"github.com/pointcloud/voxelstream/streaming/multiread"
	"github.com/pointcloud/voxelstream/utils/datasemaphore"
	"github.com/pointcloud/voxelstream/utils/workers"
)

var (
	ErrZeroCapacity      = errors.New("multi-read buffer capacity is zero")
	ErrNotInitialized    = errors.New("stream host is not initialized")
	ErrForeignHost       = errors.New("data source belongs to another host")
	ErrNotStreaming      = errors.New("stream host is not streaming")
	ErrNotRegistered     = errors.New("voxel is not registered on the stream host")
	ErrReadSetNotFound   = errors.New("read set not found")
	ErrSetFull           = errors.New("multi-read set is full")
	ErrReadSetFull       = errors.New("read set is full")
	ErrBufferFull        = errors.New("multi-read buffer is full")
	ErrBufferUnavailable = errors.New("multi-read buffer unavailable")
)

// State of a stream host within an iteration.
type State uint8

const (
	// Idle hosts have no registered voxels.
	Idle State = iota
	// Active hosts have registered voxels.
	Active
	// Streaming hosts are accumulating or serving reads.
	Streaming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Streaming:
		return "streaming"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// ExecutorProvider is implemented by data sources whose multi-read sets are
// served by a remote peer.
type ExecutorProvider interface {
	MultiReadExecutor() multiread.Executor
}

// Config of a stream host.
type Config struct {
	// MaxMultiReadsPerSet bounds the data sources served in one round trip.
	MaxMultiReadsPerSet int
	// MaxReadsPerMultiRead bounds the reads of one data source in one round trip.
	MaxReadsPerMultiRead int
}

// Entry is one registered voxel with the data source it reads from.
type Entry struct {
	Source *StreamDataSource
	Voxel  vox.Voxel
}

// LoadStats is the outcome of LoadMultiReadSetVoxelData.
type LoadStats struct {
	Voxels           int
	Bytes            uint64
	FailedMultiReads int
	FailedVoxels     int
	// FailedBytes is the requested size which was not delivered.
	FailedBytes      uint64
}

// StreamHost holds every active data source of one host.
type StreamHost struct {
	host dsrc.Host
	cfg  Config

	state   State
	sources map[dsrc.ID]*StreamDataSource
	order   []*StreamDataSource
	voxels  map[idx.Voxel]Entry
	active  []Entry

	buffer   *datasemaphore.DataSemaphore
	locks    *multiread.LockTable
	remote   multiread.Executor
	decoders *workers.Workers

	set     *multiread.Set
	pending metric.Metric
	issued  int

	lastActive idx.Iteration

	log log.Logger
}

// New makes an uninitialized stream host. decoders may be nil, in which case
// whole loaded voxels are finalized synchronously.
func New(host dsrc.Host, cfg Config, decoders *workers.Workers, logger log.Logger) *StreamHost {
	if logger == nil {
		logger = log.New("module", "streamhost")
	}
	if cfg.MaxMultiReadsPerSet <= 0 {
		cfg.MaxMultiReadsPerSet = multiread.DefaultMaxMultiReads
	}
	return &StreamHost{
		host:     host,
		cfg:      cfg,
		sources:  make(map[dsrc.ID]*StreamDataSource),
		voxels:   make(map[idx.Voxel]Entry),
		locks:    multiread.NewLockTable(),
		decoders: decoders,
		log:      logger.New("host", host.String()),
	}
}

// Initialize allocates the multi-read buffering budget.
func (h *StreamHost) Initialize(capacity uint64) error {
	if capacity == 0 {
		return ErrZeroCapacity
	}
	h.buffer = datasemaphore.New(metric.Metric{Num: 1, Size: capacity}, func(received, processing, releasing metric.Metric) {
		h.log.Warn("Multi-read buffer accounting mismatch", "processing", processing, "releasing", releasing)
	})
	return nil
}

func (h *StreamHost) Initialized() bool {
	return h.buffer != nil
}

func (h *StreamHost) Host() dsrc.Host {
	return h.host
}

func (h *StreamHost) State() State {
	return h.state
}

// Capacity is the multi-read buffer size.
func (h *StreamHost) Capacity() uint64 {
	if h.buffer == nil {
		return 0
	}
	return h.buffer.Capacity().Size
}

// Touch records that the host was activated during iteration it.
func (h *StreamHost) Touch(it idx.Iteration) {
	h.lastActive = it
}

func (h *StreamHost) LastActive() idx.Iteration {
	return h.lastActive
}

// AddActiveDataSourceVoxel registers v as needing bytes from ds.
// created reports whether v was not registered on the host before.
// A voxel already registered with another data source keeps that one.
func (h *StreamHost) AddActiveDataSourceVoxel(ds dsrc.DataSource, v vox.Voxel) (*StreamDataSource, bool, error) {
	if !h.Initialized() {
		return nil, false, ErrNotInitialized
	}
	if ds.Host() != h.host {
		return nil, false, errors.Wrapf(ErrForeignHost, "%s on %s", ds.Host(), h.host)
	}
	if e, ok := h.voxels[v.ID()]; ok {
		if e.Source.ID() != ds.ID() {
			h.log.Warn("Voxel already active with another data source", "voxel", v.ID(), "active", e.Source.ID(), "requested", ds.ID())
		}
		return e.Source, false, nil
	}

	s, ok := h.sources[ds.ID()]
	if !ok {
		s = newStreamDataSource(ds)
		h.sources[ds.ID()] = s
		h.order = append(h.order, s)
		if p, ok := ds.(ExecutorProvider); ok && h.remote == nil {
			h.remote = p.MultiReadExecutor()
		}
		if h.state == Streaming {
			s.reads.Begin()
		}
	}
	s.add(v)
	e := Entry{Source: s, Voxel: v}
	h.voxels[v.ID()] = e
	h.active = append(h.active, e)
	if h.state == Idle {
		h.state = Active
	}
	return s, true, nil
}

// ActiveVoxels returns the registered voxels in activation order.
func (h *StreamHost) ActiveVoxels() []Entry {
	return h.active
}

func (h *StreamHost) NumVoxels() int {
	return len(h.active)
}

// DataSources returns the stream data sources in first activation order.
func (h *StreamHost) DataSources() []*StreamDataSource {
	return h.order
}

// ClearActive drops every registration and destroys the stream data sources.
func (h *StreamHost) ClearActive() {
	for _, s := range h.order {
		s.clear()
	}
	h.sources = make(map[dsrc.ID]*StreamDataSource)
	h.order = nil
	h.remote = nil
	h.voxels = make(map[idx.Voxel]Entry)
	h.active = nil
	h.set = nil
	h.pending = metric.Metric{}
	h.issued = 0
	h.state = Idle
}

// BeginStreaming starts accumulating reads for the iteration.
func (h *StreamHost) BeginStreaming() {
	for _, s := range h.order {
		s.reads.Begin()
	}
	h.set = nil
	h.pending = metric.Metric{}
	h.issued = 0
	h.state = Streaming
}

// EndStreaming drops every unserved read.
func (h *StreamHost) EndStreaming() {
	for _, s := range h.order {
		s.reads.End()
	}
	h.set = nil
	h.pending = metric.Metric{}
	if h.state == Streaming {
		h.state = Active
		if len(h.active) == 0 {
			h.state = Idle
		}
	}
}

// NumReadsIssued is the number of reads issued since BeginStreaming.
func (h *StreamHost) NumReadsIssued() int {
	return h.issued
}

// Pending is the size of the reads accumulated since BeginStreaming.
func (h *StreamHost) Pending() metric.Metric {
	return h.pending
}

// Request accumulates req of entry e for the next multi-read set.
func (h *StreamHost) Request(e Entry, req vox.Requirement) error {
	if h.state != Streaming {
		return ErrNotStreaming
	}
	s := e.Source
	if !s.Contains(e.Voxel.ID()) {
		return ErrNotRegistered
	}
	if !s.ds.ValidHandle() {
		return errors.Wrapf(dsrc.ErrInvalidHandle, "source %s", s.ID())
	}
	if s.reads.Len() == 0 && h.pendingSources() >= h.cfg.MaxMultiReadsPerSet {
		return ErrSetFull
	}
	if h.cfg.MaxReadsPerMultiRead > 0 && s.reads.Len() >= h.cfg.MaxReadsPerMultiRead {
		return ErrReadSetFull
	}
	pending, ok := h.pending.Add(metric.Of(uint64(req.Length)))
	if !ok || pending.Size > h.Capacity() {
		return ErrBufferFull
	}
	if err := s.request(e.Voxel, req); err != nil {
		return err
	}
	h.pending = pending
	h.issued++
	return nil
}

func (h *StreamHost) pendingSources() int {
	n := 0
	for _, s := range h.order {
		if s.pending().Num != 0 {
			n++
		}
	}
	return n
}

// ReadDirect serves req of entry e at once, without batching.
// On failure the voxel keeps its progress.
func (h *StreamHost) ReadDirect(ctx context.Context, e Entry, req vox.Requirement) error {
	if h.state != Streaming {
		return ErrNotStreaming
	}
	h.issued++
	if err := e.Source.readDirect(ctx, h.locks, e.Voxel, req); err != nil {
		return err
	}
	h.finalizeIfLoaded(e.Voxel)
	return nil
}

// GenerateMultiReadSet builds one multi-read per data source with pending reads.
func (h *StreamHost) GenerateMultiReadSet() (*multiread.Set, error) {
	if h.state != Streaming {
		return nil, ErrNotStreaming
	}
	set := multiread.NewSet(h.cfg.MaxMultiReadsPerSet)
	for _, s := range h.order {
		if !s.reads.Active() {
			return nil, errors.Wrapf(ErrReadSetNotFound, "source %s", s.ID())
		}
		if s.reads.Len() == 0 {
			continue
		}
		mr, err := s.multiRead()
		if err != nil {
			return nil, errors.Wrapf(err, "source %s", s.ID())
		}
		if _, err := set.AddMultiRead(mr); err != nil {
			return nil, err
		}
	}
	h.set = set
	return set, nil
}

// MultiReadSet is the set built by the last GenerateMultiReadSet.
func (h *StreamHost) MultiReadSet() *multiread.Set {
	return h.set
}

func (h *StreamHost) executor() multiread.Executor {
	if h.remote != nil {
		return h.remote
	}
	return multiread.NewLocal(multiread.ResolverFunc(h.resolve), h.locks)
}

func (h *StreamHost) resolve(id dsrc.ID) (dsrc.DataSource, error) {
	s, ok := h.sources[id]
	if !ok {
		return nil, errors.Wrapf(ErrReadSetNotFound, "source %s", id)
	}
	return s.ds, nil
}

// LoadMultiReadSetVoxelData executes the generated set as one round trip and
// writes the received bytes into the voxels. The stats account for the
// whole set even when an error is returned.
func (h *StreamHost) LoadMultiReadSetVoxelData(ctx context.Context) (LoadStats, error) {
	var stats LoadStats
	set := h.set
	if set == nil || set.Len() == 0 {
		return stats, nil
	}
	h.set = nil

	weight := metric.Metric{Num: 1, Size: set.TotalReadSize()}
	if !h.buffer.Acquire(ctx, weight) {
		if err := ctx.Err(); err != nil {
			return setFailed(set), err
		}
		return setFailed(set), errors.Wrapf(ErrBufferUnavailable, "need %d of %d", weight.Size, h.Capacity())
	}
	buf := multiread.Allocate(weight.Size, func() {
		h.buffer.Release(weight)
	})

	res, err := h.executor().Execute(ctx, set, buf)
	if err != nil {
		buf.Release()
		return setFailed(set), err
	}
	defer res.Release()

	for ref, err := range res.Failed {
		mr := set.At(ref)
		h.log.Warn("Multi-read failed", "source", mr.Source, "reads", len(mr.Reads), "err", err)
		stats.FailedMultiReads++
		stats.FailedVoxels += len(mr.Reads)
		stats.FailedBytes += mr.TotalReadSize
	}
	res.ForEachRead(func(_ int, read multiread.Read, data []byte) bool {
		e, ok := h.voxels[read.Voxel]
		if !ok {
			stats.FailedBytes += uint64(len(data))
			return true
		}
		if err := h.scatter(e.Voxel, read, data); err != nil {
			h.log.Warn("Failed to store voxel data", "voxel", read.Voxel, "err", err)
			stats.FailedVoxels++
			stats.FailedBytes += uint64(len(data))
			return true
		}
		stats.Voxels++
		stats.Bytes += uint64(len(data))
		return true
	})
	return stats, nil
}

// setFailed accounts every read of set as failed.
func setFailed(set *multiread.Set) LoadStats {
	stats := LoadStats{
		FailedMultiReads: set.Len(),
		FailedBytes:      set.TotalReadSize(),
	}
	for i := 0; i < set.Len(); i++ {
		stats.FailedVoxels += len(set.At(i).Reads)
	}
	return stats
}

func (h *StreamHost) scatter(v vox.Voxel, read multiread.Read, data []byte) error {
	size := uint64(v.PointSize())
	if size == 0 || read.Offset < v.Offset() || (read.Offset-v.Offset())%size != 0 {
		return errors.Errorf("read at %d is not point aligned for voxel at %d", read.Offset, v.Offset())
	}
	if err := v.Write(uint32((read.Offset-v.Offset())/size), data); err != nil {
		return err
	}
	h.finalizeIfLoaded(v)
	return nil
}

func (h *StreamHost) finalizeIfLoaded(v vox.Voxel) {
	f, ok := v.(vox.Finalizer)
	if !ok || v.Progress().State != vox.WholeLoaded {
		return
	}
	finalize := func() {
		if err := f.Finalize(); err != nil {
			h.log.Warn("Failed to finalize voxel", "voxel", v.ID(), "err", err)
		}
	}
	if h.decoders == nil || h.decoders.Enqueue(finalize) != nil {
		finalize()
	}
}
