// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package bitround rewrites a float32 buffer in place, masking off low
// mantissa bits while leaving sign, exponent, NaNs and a caller-declared
// missing/fill value untouched.
package bitround

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/huanglangwen/bitround-go/internal/bitword"
)

// ErrMisalignedBuffer is returned when buf's length is not a multiple of 4.
var ErrMisalignedBuffer = errors.New("bitround: buffer length is not a multiple of 4")

// BitroundInPlace rewrites buf, the native-endian in-memory image of a
// float32 array, keeping nsb mantissa bits. Elements that are NaN, or
// that equal *missing (when missing is non-nil), are left unchanged.
//
// Applying BitroundInPlace twice with the same nsb is idempotent, and
// applying it with nsb1 then nsb2 <= nsb1 equals applying it with nsb2
// alone, because the mask for a smaller nsb always clears a superset of the
// bits cleared by a larger one.
func BitroundInPlace(buf []byte, nsb int, missing *float32) error {
	if len(buf) == 0 {
		return nil
	}
	if len(buf)%4 != 0 {
		return ErrMisalignedBuffer
	}
	mask, hshv, err := bitword.BitroundMask(nsb)
	if err != nil {
		return err
	}

	for off := 0; off < len(buf); off += 4 {
		word := binary.NativeEndian.Uint32(buf[off : off+4])
		v := math.Float32frombits(word)
		if math.IsNaN(float64(v)) {
			continue
		}
		if missing != nil && v == *missing {
			continue
		}
		rounded := (word + hshv) & mask
		binary.NativeEndian.PutUint32(buf[off:off+4], rounded)
	}
	return nil
}
