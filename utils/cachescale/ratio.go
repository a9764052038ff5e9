package cachescale

import (
	"math"
	"math/bits"
)

// Ratio alters the sizes proportionally to a ratio
type Ratio struct {
	Base   uint64
	Target uint64
}

var _ Func = (*Ratio)(nil)

// Identity doesn't alter the sizes
var Identity = Ratio{1, 1}

// U64 rounds up and saturates at math.MaxUint64.
func (r Ratio) U64(v uint64) uint64 {
	hi, lo := bits.Mul64(v, r.Target)
	if hi >= r.Base {
		return math.MaxUint64
	}
	quo, rem := bits.Div64(hi, lo, r.Base)
	if rem == 0 || quo == math.MaxUint64 {
		return quo
	}
	return quo + 1
}

func (r Ratio) F32(v float32) float32 {
	return v * (float32(r.Target) / float32(r.Base))
}

func (r Ratio) F64(v float64) float64 {
	return v * (float64(r.Target) / float64(r.Base))
}

func (r Ratio) U(v uint) uint {
	return uint(r.U64(uint64(v)))
}

func (r Ratio) U32(v uint32) uint32 {
	s := r.U64(uint64(v))
	if s > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(s)
}

func (r Ratio) I(v int) int {
	return int(r.I64(int64(v)))
}

func (r Ratio) I32(v int32) int32 {
	s := r.I64(int64(v))
	if s > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(s)
}

func (r Ratio) I64(v int64) int64 {
	if v <= 0 {
		return v
	}
	s := r.U64(uint64(v))
	if s > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(s)
}
