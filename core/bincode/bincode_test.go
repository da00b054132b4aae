package bincode

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteLength(t *testing.T) {
	tests := []struct {
		value    uint64
		expected int
	}{
		{0, 1},
		{1, 1},
		{255, 1},
		{256, 2},
		{65535, 2},
		{65536, 3},
		{1 << 24, 4},
		{1 << 32, 5},
		{1 << 56, 8},
		{^uint64(0), 8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ByteLength(tt.value), "value %d", tt.value)
	}
}

func TestUintFixedRoundTrip(t *testing.T) {
	for _, length := range []int{1, 2, 4, 8} {
		for _, v := range []uint64{0, 1, 200, 255} {
			b, err := EncodeUint(v, length)
			require.NoError(t, err)
			assert.Len(t, b, length)
			got, err := DecodeUint(b)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	}

	_, err := EncodeUint(256, 1)
	assert.Error(t, err)
	_, err = EncodeUint(1, 9)
	assert.Error(t, err)
}

func TestIntFixedOrdering(t *testing.T) {
	values := []int64{-128, -100, -1, 0, 1, 100, 127}
	var prev []byte
	for _, v := range values {
		b, err := EncodeInt(v, 1, false)
		require.NoError(t, err)
		if prev != nil {
			assert.Negative(t, Compare(prev, b), "expected %d to sort after its predecessor", v)
		}
		got, ok, err := DecodeInt(b, false)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, v, got)
		prev = b
	}
}

func TestIntFixedNullable(t *testing.T) {
	null, err := EncodeNull(2)
	require.NoError(t, err)

	b, err := EncodeInt(-32768, 2, false)
	require.NoError(t, err)
	assert.Positive(t, Compare(b, null), "null must sort before the smallest value")

	b, err = EncodeInt(-100, 2, true)
	require.NoError(t, err)
	v, ok, err := DecodeInt(b, true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(-100), v)

	_, ok, err = DecodeInt(null, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIntAdaptiveOrdering(t *testing.T) {
	// The exact sequence from the monotonicity scenario, plus extremes.
	values := []int64{math.MinInt64, -65536, -257, -256, -3, -1, 0, 1, 7, 255, 256, 65535, math.MaxInt64}
	var prev []byte
	for _, v := range values {
		b := EncodeIntAdaptive(v)
		if prev != nil {
			assert.Negative(t, Compare(prev, b), "expected %d to sort after its predecessor", v)
		}
		got, rest, err := DecodeIntAdaptive(b)
		require.NoError(t, err)
		assert.Empty(t, rest)
		assert.Equal(t, v, got)
		prev = b
	}
}

func TestUintAdaptiveRoundTrip(t *testing.T) {
	var prev []byte
	for _, v := range []uint64{0, 1, 255, 256, 65535, 65536, 1 << 40, ^uint64(0)} {
		b := EncodeUintAdaptive(v)
		got, ok, rest, err := DecodeUintAdaptive(b)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, rest)
		assert.Equal(t, v, got)
		if prev != nil {
			assert.Negative(t, Compare(prev, b))
		}
		prev = b
	}

	_, ok, _, err := DecodeUintAdaptive(NullAdaptive())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Negative(t, Compare(NullAdaptive(), EncodeUintAdaptive(0)), "null sorts first")
}

func TestAdaptiveConcatenation(t *testing.T) {
	buf := append(EncodeIntAdaptive(-3), EncodeIntAdaptive(500)...)
	a, rest, err := DecodeIntAdaptive(buf)
	require.NoError(t, err)
	b, rest, err := DecodeIntAdaptive(rest)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, int64(-3), a)
	assert.Equal(t, int64(500), b)
}

func TestCompareInfinities(t *testing.T) {
	empty := []byte{}
	some := []byte{0x01}

	assert.Equal(t, 0, Compare(nil, nil))
	assert.Equal(t, 1, Compare(nil, some))
	assert.Equal(t, -1, Compare(some, nil))
	assert.LessOrEqual(t, Compare(empty, some), 0)
	assert.LessOrEqual(t, Compare(empty, empty), 0)
	assert.Positive(t, Compare(nil, empty))
}

func TestHash(t *testing.T) {
	assert.Equal(t, uint32(2166136261), Hash(nil))
	assert.Equal(t, uint32(0xe40c292c), Hash([]byte("a")))
	assert.Equal(t, uint32(0xbf9cf968), Hash([]byte("foobar")))
	assert.NotEqual(t, Hash([]byte("ab")), Hash([]byte("ba")))
}
