// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package orchestrator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/huanglangwen/bitround-go/internal/bitinfo"
	"github.com/huanglangwen/bitround-go/internal/bitround"
	"github.com/huanglangwen/bitround-go/internal/ctr"
	"github.com/huanglangwen/bitround-go/internal/keepbits"
)

// BitroundOptions configures one Bitround run.
type BitroundOptions struct {
	Inflevel  float64 // in [0,1]
	Complevel int     // 0: no compression requested; else in [1,9]
	Rule      keepbits.Rule
}

// VarNSBStat is the end-of-run NSB report line for one variable: a single
// value for small variables, min/max over chunks for large ones.
type VarNSBStat struct {
	Name        string
	Passthrough bool
	Reason      string
	Min, Max    int
}

// Bitround runs the bit-rounding rewrite operation: every
// variable of r is classified, float variables are rewritten chunk-slab by
// chunk-slab through the Information Estimator, Keep-Bits Selector and
// Bit-Round Applier, and everything else is copied through unchanged.
func Bitround(r ctr.Reader, w ctr.Writer, opts BitroundOptions, out io.Writer) ([]VarNSBStat, error) {
	if opts.Inflevel < 0 || opts.Inflevel > 1 {
		return nil, newErr(InvalidInput, "", fmt.Sprintf("inflevel %g outside [0,1]", opts.Inflevel), nil)
	}
	if opts.Complevel != 0 && (opts.Complevel < 1 || opts.Complevel > 9) {
		return nil, newErr(InvalidInput, "", fmt.Sprintf("complevel %d outside [1,9]", opts.Complevel), nil)
	}

	dims := r.Dimensions()
	for _, d := range dims {
		if err := w.CreateDimension(d); err != nil {
			return nil, err
		}
	}
	for _, a := range mustAttrs(r, "") {
		if err := w.SetAttribute("", a); err != nil {
			return nil, err
		}
	}

	var report []VarNSBStat
	for _, v := range r.Variables() {
		class := ctr.Classify(v, dims)

		outMeta := v
		if opts.Complevel > 0 && class == ctr.ClassLarge {
			outMeta.ChunkShape = compressedChunkShape(v.Shape)
			outMeta.Filters = []ctr.FilterSpec{
				{ID: "shuffle"},
				{ID: "deflate", Params: map[string]uint32{"level": uint32(opts.Complevel)}},
			}
		} else if opts.Complevel > 0 && class == ctr.ClassSmall {
			outMeta.ChunkShape = append([]int64(nil), v.Shape...)
			outMeta.Filters = []ctr.FilterSpec{
				{ID: "shuffle"},
				{ID: "deflate", Params: map[string]uint32{"level": uint32(opts.Complevel)}},
			}
		}
		if err := w.CreateVar(outMeta); err != nil {
			return nil, err
		}
		for _, a := range v.Attrs {
			if err := w.SetAttribute(v.Name, a); err != nil {
				logSkip(newErr(ContainerIOError, v.Name, "attribute copy failed: "+err.Error(), err))
			}
		}

		if class != ctr.ClassSmall && class != ctr.ClassLarge {
			if err := passthrough(r, w, v); err != nil {
				if ferr := failVariable(v.Name, err); ferr != nil {
					return nil, ferr
				}
				continue
			}
			report = append(report, VarNSBStat{Name: v.Name, Passthrough: true, Reason: class.String()})
			continue
		}

		stat, err := bitroundVariable(r, w, v, opts)
		if err != nil {
			if ferr := failVariable(v.Name, err); ferr != nil {
				return nil, ferr
			}
			continue
		}
		report = append(report, stat)
	}

	fmt.Fprintln(out, "-- NSB report --")
	for _, s := range report {
		if s.Passthrough {
			fmt.Fprintf(out, "%-45s passthrough (%s)\n", s.Name, s.Reason)
		} else if s.Min == s.Max {
			fmt.Fprintf(out, "%-45s nsb=%d\n", s.Name, s.Min)
		} else {
			fmt.Fprintf(out, "%-45s nsb=[%d,%d]\n", s.Name, s.Min, s.Max)
		}
	}

	return report, w.Flush()
}

func mustAttrs(r ctr.Reader, scope string) []ctr.Attr {
	a, err := r.Attributes(scope)
	if err != nil {
		return nil
	}
	return a
}

// compressedChunkShape is 1 along every leading dimension and the full
// extent along the trailing two.
func compressedChunkShape(shape []int64) []int64 {
	cs := make([]int64, len(shape))
	for i := range cs {
		cs[i] = 1
	}
	if n := len(shape); n >= 2 {
		cs[n-2] = shape[n-2]
		cs[n-1] = shape[n-1]
	} else if n == 1 {
		cs[0] = shape[0]
	}
	return cs
}

func passthrough(r ctr.Reader, w ctr.Writer, v ctr.VarMeta) error {
	buf, err := r.ReadAll(v.Name)
	if err != nil {
		return err
	}
	return fatalWrite(w.WriteAll(v.Name, buf))
}

// errContaminated aborts the rounding walk when a slab contains a missing
// value; never escapes bitroundVariable.
var errContaminated = errors.New("slab contains missing value")

// bitroundVariable rewrites one float32 variable, slab by slab, returning
// its NSB statistics. One slab containing NaN or the declared fill value
// aborts rounding for the whole variable: any slabs already rounded are
// rewritten from the source and the variable is reported as a passthrough.
func bitroundVariable(r ctr.Reader, w ctr.Writer, v ctr.VarMeta, opts BitroundOptions) (VarNSBStat, error) {
	var fillPtr *float32
	if v.FillValue != nil {
		f := *v.FillValue
		fillPtr = &f
	}

	stat := VarNSBStat{Name: v.Name}
	first := true

	applySlab := func(buf []byte) ([]byte, error) {
		if containsMissing(buf, fillPtr) {
			logSkip(newErr(MissingValueInChunk, v.Name, "contains missing", nil))
			return nil, errContaminated
		}
		xs := floatsOf(buf)
		m, err := bitinfo.Bitinformation(xs)
		if err != nil {
			logSkip(newErr(InsufficientSamples, v.Name, err.Error(), err))
			// Fewer than two samples in this slab: nothing to round, pass through.
			return buf, nil
		}
		nsb := keepbits.GetKeepBits(m, opts.Inflevel, opts.Rule)
		if err := bitround.BitroundInPlace(buf, nsb, fillPtr); err != nil {
			return nil, err
		}
		if first {
			stat.Min, stat.Max = nsb, nsb
			first = false
		} else {
			if nsb < stat.Min {
				stat.Min = nsb
			}
			if nsb > stat.Max {
				stat.Max = nsb
			}
		}
		return buf, nil
	}

	if v.Rank() <= 2 {
		buf, err := r.ReadAll(v.Name)
		if err != nil {
			return stat, err
		}
		rounded, err := applySlab(buf)
		if err == errContaminated {
			stat = VarNSBStat{Name: v.Name, Passthrough: true, Reason: "contains missing"}
			return stat, fatalWrite(w.WriteAll(v.Name, buf))
		}
		if err != nil {
			return stat, err
		}
		return stat, fatalWrite(w.WriteAll(v.Name, rounded))
	}

	err := forEachSlab(v, func(start, count []int64) error {
		buf, err := r.ReadHyperslab(v.Name, start, count)
		if err != nil {
			return err
		}
		buf, err = applySlab(buf)
		if err != nil {
			return err
		}
		return fatalWrite(w.WriteHyperslab(v.Name, start, count, buf))
	})
	if err == errContaminated {
		stat = VarNSBStat{Name: v.Name, Passthrough: true, Reason: "contains missing"}
		return stat, copyBySlab(r, w, v)
	}
	return stat, err
}

// forEachSlab walks v's leading-dimension index tuples in row-major order,
// handing visit the start/count of each trailing 2-D slab.
func forEachSlab(v ctr.VarMeta, visit func(start, count []int64) error) error {
	leading := v.Shape[:v.Rank()-2]
	trailing := v.Shape[v.Rank()-2:]
	return rowMajorOdometer(leading, func(idx []int64) error {
		start := make([]int64, v.Rank())
		count := make([]int64, v.Rank())
		copy(start, idx)
		for i := range idx {
			count[i] = 1
		}
		count[len(idx)] = trailing[0]
		count[len(idx)+1] = trailing[1]
		return visit(start, count)
	})
}

// copyBySlab rewrites every slab of v from r into w unchanged, undoing any
// slabs a rounding walk already rewrote before it was aborted.
func copyBySlab(r ctr.Reader, w ctr.Writer, v ctr.VarMeta) error {
	return forEachSlab(v, func(start, count []int64) error {
		buf, err := r.ReadHyperslab(v.Name, start, count)
		if err != nil {
			return err
		}
		return fatalWrite(w.WriteHyperslab(v.Name, start, count, buf))
	})
}

func containsMissing(buf []byte, fill *float32) bool {
	for off := 0; off+4 <= len(buf); off += 4 {
		v := math.Float32frombits(binary.NativeEndian.Uint32(buf[off : off+4]))
		if math.IsNaN(float64(v)) {
			return true
		}
		if fill != nil && v == *fill {
			return true
		}
	}
	return false
}

func floatsOf(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.NativeEndian.Uint32(buf[i*4 : i*4+4]))
	}
	return out
}
