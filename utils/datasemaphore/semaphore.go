package datasemaphore

import (
	"context"
	"sync"

	"github.com/pointcloud/voxelstream/inter/metric"
)

// DataSemaphore limits the number and the total size of reads in flight.
type DataSemaphore struct {
	processing    metric.Metric
	maxProcessing metric.Metric

	mu   sync.Mutex
	cond *sync.Cond

	warning func(received metric.Metric, processing metric.Metric, releasing metric.Metric)
}

func New(maxProcessing metric.Metric, warning func(received metric.Metric, processing metric.Metric, releasing metric.Metric)) *DataSemaphore {
	s := &DataSemaphore{
		maxProcessing: maxProcessing,
		warning:       warning,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Acquire blocks until weight fits or ctx is done.
// A weight which can never fit fails immediately.
func (s *DataSemaphore) Acquire(ctx context.Context, weight metric.Metric) bool {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.tryAcquire(weight) {
		if !weight.Fits(s.maxProcessing) || ctx.Err() != nil {
			return false
		}
		s.cond.Wait()
	}
	return true
}

func (s *DataSemaphore) TryAcquire(weight metric.Metric) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tryAcquire(weight)
}

func (s *DataSemaphore) tryAcquire(weight metric.Metric) bool {
	tmp, ok := s.processing.Add(weight)
	if !ok || !tmp.Fits(s.maxProcessing) {
		return false
	}
	s.processing = tmp
	return true
}

func (s *DataSemaphore) Release(weight metric.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing.Num < weight.Num || s.processing.Size < weight.Size {
		if s.warning != nil {
			s.warning(s.processing, s.processing, weight)
		}
		s.processing = metric.Metric{}
	} else {
		s.processing.Num -= weight.Num
		s.processing.Size -= weight.Size
	}
	s.cond.Broadcast()
}

// Terminate makes every pending and future Acquire fail.
func (s *DataSemaphore) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxProcessing = metric.Metric{}
	s.cond.Broadcast()
}

func (s *DataSemaphore) Processing() metric.Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

func (s *DataSemaphore) Capacity() metric.Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxProcessing
}

func (s *DataSemaphore) Available() metric.Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.processing.Fits(s.maxProcessing) {
		return metric.Metric{}
	}
	return metric.Metric{
		Num:  s.maxProcessing.Num - s.processing.Num,
		Size: s.maxProcessing.Size - s.processing.Size,
	}
}
