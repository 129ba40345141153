package common

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaturatingAddUint64ClampsOnOverflow(t *testing.T) {
	require.Equal(t, uint64(30), SaturatingAddUint64(10, 20))
	require.Equal(t, uint64(math.MaxUint64), SaturatingAddUint64(math.MaxUint64, 1))
}

func TestSaturatingSubUint64ClampsOnUnderflow(t *testing.T) {
	require.Equal(t, uint64(5), SaturatingSubUint64(10, 5))
	require.Equal(t, uint64(0), SaturatingSubUint64(5, 10))
}

func TestSaturatingMulPercentUint64(t *testing.T) {
	// 100 * (100+10) / 100 == 110
	require.Equal(t, uint64(110), SaturatingMulPercentUint64(100, 10))
	require.Equal(t, uint64(math.MaxUint64), SaturatingMulPercentUint64(math.MaxUint64, 10))
}
