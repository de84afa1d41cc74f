// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package bitinfo estimates, per bit position of a float32 value, how much
// mutual information that bit shares with the same bit position of the next
// value in sequence, the statistical basis for deciding how many mantissa
// bits are worth keeping.
package bitinfo

import (
	"errors"
	"math"

	"github.com/dgryski/go-tinylfu"
	"github.com/huanglangwen/bitround-go/internal/bitword"
)

// NBits is the width of the mutual-information vector: one entry per bit of
// a float32 word, index 0 = MSB, index 31 = LSB.
const NBits = 32

// ErrInsufficientSamples is returned when fewer than two values are given.
var ErrInsufficientSamples = errors.New("bitinfo: need at least two values")

// Confidence is the confidence level used to derive the free-entropy floor.
const Confidence = 0.99

// Bitinformation computes the 32-entry mutual-information vector for xs,
// zeroing any entry at or below the binomial-confidence free-entropy floor.
// A single pass is made over xs; the per-bit contingency tables are fixed
// size (32 x 2 x 2), never proportional to len(xs).
func Bitinformation(xs []float32) ([NBits]float64, error) {
	var m [NBits]float64
	if len(xs) < 2 {
		return m, ErrInsufficientSamples
	}

	var counts [NBits][2][2]float64
	prev := bitword.SignedExponent(xs[0])
	for k := 1; k < len(xs); k++ {
		cur := bitword.SignedExponent(xs[k])
		for b := 0; b < NBits; b++ {
			shift := uint(NBits - 1 - b)
			i := (prev >> shift) & 1
			j := (cur >> shift) & 1
			counts[b][i][j]++
		}
		prev = cur
	}

	n := float64(len(xs) - 1)
	floor := FreeEntropyFloor(len(xs), Confidence)
	for b := 0; b < NBits; b++ {
		m[b] = mutualInformationBits(counts[b], n)
		if m[b] <= floor {
			m[b] = 0
		}
	}
	return m, nil
}

func mutualInformationBits(c [2][2]float64, n float64) float64 {
	var p [2][2]float64
	var px, py [2]float64
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			p[i][j] = c[i][j] / n
			px[i] += p[i][j]
			py[j] += p[i][j]
		}
	}

	var sum float64
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if p[i][j] > 0 {
				sum += p[i][j] * math.Log(p[i][j]/(px[i]*py[j]))
			}
		}
	}
	return sum / math.Ln2
}

// floorKey identifies one (sample count, confidence) pair; a bit-rounding
// rewrite of a chunked variable calls FreeEntropyFloor once per slab, and
// every slab of one variable has the same sample count, so memoizing here
// turns that into a cache hit instead of an acklamInverseNormal call.
type floorKey struct {
	n          int
	confidence float64
}

func floorHash(k floorKey) uint64 {
	return uint64(k.n)*2654435761 ^ math.Float64bits(k.confidence)
}

// floorCache holds recently computed free-entropy floors behind a tinylfu
// admission policy, called synchronously since the core is single-threaded.
var floorCache = tinylfu.New[floorKey, float64](256, 2560, floorHash)

// FreeEntropyFloor computes the information, in bits, that a fair-coin
// null hypothesis over n-1 trials would already explain at the given
// confidence level. Any per-bit mutual information at or below this value
// is noise and is zeroed by Bitinformation.
func FreeEntropyFloor(n int, confidence float64) float64 {
	key := floorKey{n, confidence}
	if v, ok := floorCache.Get(key); ok {
		return v
	}

	trials := float64(n - 1)
	var floor float64
	if trials <= 0 {
		floor = 1
	} else {
		q := 0.5 + acklamInverseNormal(1-(1-confidence)/2)/(2*math.Sqrt(trials))
		if q > 1 {
			q = 1
		}
		floor = 1 - binaryEntropy(q, 1-q)
	}
	floorCache.Add(key, floor)
	return floor
}

// binaryEntropy is the base-2 entropy of a two-outcome distribution.
// 0*log2(0) is taken to be 0 by convention.
func binaryEntropy(p, q float64) float64 {
	var h float64
	if p > 0 {
		h -= p * math.Log2(p)
	}
	if q > 0 {
		h -= q * math.Log2(q)
	}
	return h
}
