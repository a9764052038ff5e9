package cachescale

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRatio(t *testing.T) {
	require := require.New(t)

	require.Equal(uint64(10), Identity.U64(10))
	half := Ratio{Base: 2, Target: 1}
	require.Equal(uint64(5), half.U64(10))
	require.Equal(uint64(6), half.U64(11)) // rounds up
	require.Equal(3, half.I(5))
	require.Equal(int64(-4), half.I64(-4))

	double := Ratio{Base: 1, Target: 2}
	require.Equal(uint64(math.MaxUint64), double.U64(math.MaxUint64))
	require.Equal(uint32(math.MaxUint32), double.U32(math.MaxUint32))
	require.Equal(int32(math.MaxInt32), double.I32(math.MaxInt32))
	require.Equal(float64(3), double.F64(1.5))
}
