// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package ctr

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// BitState is the observed state of one bit position across every value of
// a variable or slice.
type BitState int

const (
	AllZero BitState = iota
	AllOne
	Mixed
)

func (s BitState) char() byte {
	switch s {
	case AllZero:
		return '0'
	case AllOne:
		return '1'
	default:
		return '-'
	}
}

// BitPattern is the per-bit {ALLZERO,ALLONE,MIXED} summary for one
// variable or slab, plus tallies of each state.
type BitPattern struct {
	Type             ElementType
	States           []BitState // MSB first, len == Type.ByteWidth()*8
	AllZeroCount     int
	AllOneCount      int
	MixedCount       int
	ConsideredValues int // finite values actually folded in
}

// NewBitPatternAccumulator starts a BitPattern accumulator for t, which
// must be numeric-analyzable.
func NewBitPatternAccumulator(t ElementType) *BitPattern {
	width := t.ByteWidth() * 8
	bp := &BitPattern{Type: t, States: make([]BitState, width)}
	for i := range bp.States {
		bp.States[i] = -1 // "unseen" sentinel, resolved to AllZero/AllOne/Mixed below
	}
	return bp
}

// unseen is the accumulator-only sentinel meaning "no value observed yet".
const unseen = BitState(-1)

// Add folds one raw element's bytes (native-endian, width matching bp.Type)
// into the accumulator. Non-finite float values are ignored.
func (bp *BitPattern) Add(raw []byte) {
	if bp.Type.IsFloat() && !isFinite(bp.Type, raw) {
		return
	}
	bp.ConsideredValues++

	word := wordOf(bp.Type, raw)
	width := len(bp.States)
	for i := 0; i < width; i++ {
		bit := BitState((word >> uint(width-1-i)) & 1)
		switch bp.States[i] {
		case unseen:
			bp.States[i] = bit
		case bit:
			// unchanged
		default:
			bp.States[i] = Mixed
		}
	}
}

// Finish resolves any still-unseen bit (no finite values at all) to
// AllZero and computes the tallies.
func (bp *BitPattern) Finish() {
	bp.AllZeroCount, bp.AllOneCount, bp.MixedCount = 0, 0, 0
	for i, s := range bp.States {
		if s == unseen {
			bp.States[i] = AllZero
			s = AllZero
		}
		switch s {
		case AllZero:
			bp.AllZeroCount++
		case AllOne:
			bp.AllOneCount++
		case Mixed:
			bp.MixedCount++
		}
	}
}

func isFinite(t ElementType, raw []byte) bool {
	switch t {
	case F32:
		v := math.Float32frombits(binary.NativeEndian.Uint32(raw))
		return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
	case F64:
		v := math.Float64frombits(binary.NativeEndian.Uint64(raw))
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	default:
		return true
	}
}

func wordOf(t ElementType, raw []byte) uint64 {
	switch t.ByteWidth() {
	case 2:
		return uint64(binary.NativeEndian.Uint16(raw))
	case 4:
		return uint64(binary.NativeEndian.Uint32(raw))
	case 8:
		return binary.NativeEndian.Uint64(raw)
	default:
		return 0
	}
}

// separatorIndices returns the string-indices (MSB-first, 0-based) after
// which an IEEE-754 field separator belongs, for float types only.
func separatorIndices(t ElementType) []int {
	switch t {
	case F32:
		return []int{0, 8} // after the sign bit, after the last exponent bit
	case F64:
		return []int{0, 11}
	default:
		return nil
	}
}

// FormatPattern renders bp.States as the load-bearing textual pattern:
// 8-per-space grouping, IEEE separators for float32/float64, bracketed by
// "(MSB) " / " (LSB)".
func (bp *BitPattern) FormatPattern() string {
	seps := make(map[int]bool)
	for _, i := range separatorIndices(bp.Type) {
		seps[i] = true
	}

	var b strings.Builder
	b.WriteString("(MSB) ")
	width := len(bp.States)
	for i, s := range bp.States {
		b.WriteByte(s.char())
		switch {
		case seps[i]:
			b.WriteByte('|')
		case (i+1)%8 == 0 && i != width-1:
			b.WriteByte(' ')
		}
	}
	b.WriteString(" (LSB)")
	return b.String()
}

// SliceLabel formats a leading-dimension index tuple as "[i1,...,ir-2,:,:]".
func SliceLabel(idx []int64) string {
	var b strings.Builder
	b.WriteByte('[')
	for _, i := range idx {
		b.WriteString(strconv.FormatInt(i, 10))
		b.WriteByte(',')
	}
	b.WriteString(":,:]")
	return b.String()
}

// Report column widths. Downstream tooling parses these columns by
// position, so they are fixed.
const (
	NameColumnWidth  = 45
	ShapeColumnWidth = 20
)

// FormatReportRow left-pads name/shape to the fixed report column widths
// and appends rest.
func FormatReportRow(name string, shape []int64, rest string) string {
	return fmt.Sprintf("%-*s%-*s%s", NameColumnWidth, name, ShapeColumnWidth, formatShape(shape), rest)
}

func formatShape(shape []int64) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, e := range shape {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatInt(e, 10))
	}
	b.WriteByte(')')
	return b.String()
}
