package metric

import (
	"fmt"
	"math"
)

// Metric is a number of reads and their total size in bytes.
type Metric struct {
	Num  uint32
	Size uint64
}

// Of returns the metric of a single read of size bytes.
func Of(size uint64) Metric {
	return Metric{Num: 1, Size: size}
}

// Add returns m+o, or false if either counter would overflow.
func (m Metric) Add(o Metric) (Metric, bool) {
	num, ok := AddUint32(m.Num, o.Num)
	if !ok {
		return m, false
	}
	size, ok := AddUint64(m.Size, o.Size)
	if !ok {
		return m, false
	}
	return Metric{Num: num, Size: size}, true
}

// Fits reports whether m is within limit on both counters.
func (m Metric) Fits(limit Metric) bool {
	return m.Num <= limit.Num && m.Size <= limit.Size
}

func (m Metric) String() string {
	return fmt.Sprintf("{Num=%d,Size=%d}", m.Num, m.Size)
}

// AddUint64 returns a+b and false on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return a, false
	}
	return a + b, true
}

// AddUint32 returns a+b and false on overflow.
func AddUint32(a, b uint32) (uint32, bool) {
	if a > math.MaxUint32-b {
		return a, false
	}
	return a + b, true
}

// SatAddUint64 returns a+b clamped to math.MaxUint64.
func SatAddUint64(a, b uint64) uint64 {
	if sum, ok := AddUint64(a, b); ok {
		return sum
	}
	return math.MaxUint64
}
