// Package bincode provides order-preserving byte-level encodings for index
// keys. Encoded values compare correctly under unsigned lexicographic byte
// comparison, so a storage layer can sort and range-scan keys without
// decoding them.
package bincode

import (
	"bytes"

	"github.com/zeebo/errs"
)

// Error wraps all failures reported by this package.
var Error = errs.Class("bincode")

// MaxLength is the largest supported fixed encoding width in bytes.
const MaxLength = 8

// ByteLength returns the number of bytes needed to represent v, between 1
// and 8. Implemented as a descending chain of power-of-256 comparisons,
// which is considerably faster than a floating-point log.
func ByteLength(v uint64) int {
	switch {
	case v >= 1<<56:
		return 8
	case v >= 1<<48:
		return 7
	case v >= 1<<40:
		return 6
	case v >= 1<<32:
		return 5
	case v >= 1<<24:
		return 4
	case v >= 1<<16:
		return 3
	case v >= 1<<8:
		return 2
	default:
		return 1
	}
}

// EncodeUint encodes v big-endian into exactly length bytes (1-8).
func EncodeUint(v uint64, length int) ([]byte, error) {
	if length < 1 || length > MaxLength {
		return nil, Error.New("invalid length %d", length)
	}
	if length < MaxLength && v >= uint64(1)<<(8*length) {
		return nil, Error.New("value %d does not fit in %d bytes", v, length)
	}
	out := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out, nil
}

// DecodeUint is the inverse of EncodeUint.
func DecodeUint(b []byte) (uint64, error) {
	if len(b) < 1 || len(b) > MaxLength {
		return 0, Error.New("invalid encoding length %d", len(b))
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// EncodeInt encodes a signed integer into exactly length bytes by shifting
// into the unsigned range, so the byte order matches the numeric order.
// When nullable is true the smallest code point is reserved for null and
// every value is shifted up by one.
func EncodeInt(v int64, length int, nullable bool) ([]byte, error) {
	if length < 1 || length > MaxLength {
		return nil, Error.New("invalid length %d", length)
	}
	var u uint64
	if length == MaxLength {
		u = uint64(v) + 1<<63
	} else {
		bias := int64(1) << (8*length - 1)
		if v < -bias || v >= bias {
			return nil, Error.New("value %d does not fit in %d bytes", v, length)
		}
		u = uint64(v + bias)
	}
	if nullable {
		u++
	}
	return EncodeUint(u, length)
}

// EncodeNull returns the reserved null encoding for a nullable fixed-width
// slot of the given length.
func EncodeNull(length int) ([]byte, error) {
	return EncodeUint(0, length)
}

// DecodeInt is the inverse of EncodeInt. The boolean result is false when
// the encoding is the reserved null.
func DecodeInt(b []byte, nullable bool) (int64, bool, error) {
	u, err := DecodeUint(b)
	if err != nil {
		return 0, false, err
	}
	if nullable {
		if u == 0 {
			return 0, false, nil
		}
		u--
	}
	if len(b) == MaxLength {
		return int64(u - 1<<63), true, nil
	}
	bias := int64(1) << (8*len(b) - 1)
	return int64(u) - bias, true, nil
}

// EncodeUintAdaptive encodes v with a leading length byte followed by the
// minimal big-endian payload. The length byte 0 is reserved for null, which
// sorts before every value.
func EncodeUintAdaptive(v uint64) []byte {
	n := ByteLength(v)
	out := make([]byte, n+1)
	out[0] = byte(n)
	for i := n; i >= 1; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

// NullAdaptive is the adaptive encoding of null: a zero length byte.
func NullAdaptive() []byte { return []byte{0} }

// DecodeUintAdaptive decodes an adaptive unsigned encoding and returns the
// value, whether it was non-null, and the unread remainder of b.
func DecodeUintAdaptive(b []byte) (uint64, bool, []byte, error) {
	if len(b) == 0 {
		return 0, false, nil, Error.New("empty input")
	}
	n := int(b[0])
	if n == 0 {
		return 0, false, b[1:], nil
	}
	if n > MaxLength || len(b) < n+1 {
		return 0, false, nil, Error.New("truncated adaptive encoding")
	}
	v, err := DecodeUint(b[1 : n+1])
	if err != nil {
		return 0, false, nil, err
	}
	return v, true, b[n+1:], nil
}

// EncodeIntAdaptive encodes a signed integer with adaptive length. The
// first byte carries the sign and magnitude length: 128-n for negatives,
// 128 for zero, 128+n for positives. Payloads of negatives are stored as
// 256^n minus the magnitude so that byte order follows numeric order.
func EncodeIntAdaptive(v int64) []byte {
	if v == 0 {
		return []byte{128}
	}
	if v > 0 {
		n := ByteLength(uint64(v))
		out := make([]byte, n+1)
		out[0] = byte(128 + n)
		u := uint64(v)
		for i := n; i >= 1; i-- {
			out[i] = byte(u)
			u >>= 8
		}
		return out
	}
	m := uint64(-v)
	n := ByteLength(m)
	out := make([]byte, n+1)
	out[0] = byte(128 - n)
	var u uint64
	if n == MaxLength {
		u = -m // wraps to 2^64 - m
	} else {
		u = uint64(1)<<(8*n) - m
	}
	for i := n; i >= 1; i-- {
		out[i] = byte(u)
		u >>= 8
	}
	return out
}

// DecodeIntAdaptive is the inverse of EncodeIntAdaptive; it returns the
// value and the unread remainder of b.
func DecodeIntAdaptive(b []byte) (int64, []byte, error) {
	if len(b) == 0 {
		return 0, nil, Error.New("empty input")
	}
	tag := int(b[0])
	if tag == 128 {
		return 0, b[1:], nil
	}
	var n int
	neg := tag < 128
	if neg {
		n = 128 - tag
	} else {
		n = tag - 128
	}
	if n < 1 || n > MaxLength || len(b) < n+1 {
		return 0, nil, Error.New("truncated adaptive encoding")
	}
	u, err := DecodeUint(b[1 : n+1])
	if err != nil {
		return 0, nil, err
	}
	rest := b[n+1:]
	if !neg {
		return int64(u), rest, nil
	}
	if n == MaxLength {
		return -int64(-u), rest, nil
	}
	m := uint64(1)<<(8*n) - u
	return -int64(m), rest, nil
}

// Compare performs unsigned lexicographic comparison of two encodings.
// A nil slice means positive infinity and an empty non-nil slice means
// negative infinity, so open-ended scan bounds compare naturally.
func Compare(a, b []byte) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return bytes.Compare(a, b)
}

const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// Hash computes the 32-bit FNV-1a hash of b.
func Hash(b []byte) uint32 {
	h := uint32(fnvOffset32)
	for _, c := range b {
		h ^= uint32(c)
		h *= fnvPrime32
	}
	return h
}
