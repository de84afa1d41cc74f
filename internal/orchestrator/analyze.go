// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package orchestrator

import (
	"fmt"
	"io"

	"github.com/huanglangwen/bitround-go/internal/ctr"
)

// AnalyzeTally counts how many variables were processed whole versus
// slab-by-slab, printed as the operation's final line.
type AnalyzeTally struct {
	WholeProcessed int
	SlabProcessed  int
	Skipped        int
}

// Analyze runs the bit-pattern analysis operation over every
// variable of r, in container-index order, writing a fixed-width textual
// report to out.
func Analyze(r ctr.Reader, out io.Writer) (AnalyzeTally, error) {
	var tally AnalyzeTally
	dims := r.Dimensions()

	for _, v := range r.Variables() {
		class := ctr.ClassifyAnalyzable(v, dims)
		switch class {
		case ctr.ClassCoordinate, ctr.ClassScalar:
			fmt.Fprintln(out, ctr.FormatReportRow(v.Name, v.Shape, "(skipped: "+class.String()+")"))
			tally.Skipped++
			continue
		}
		if class == ctr.ClassNonFloat32 {
			e := newErr(UnsupportedType, v.Name, "unsupported type "+v.Type.String(), nil)
			logSkip(e)
			fmt.Fprintln(out, ctr.FormatReportRow(v.Name, v.Shape, "(skipped: "+e.Reason+")"))
			tally.Skipped++
			continue
		}

		if v.Rank() <= 2 {
			buf, err := r.ReadAll(v.Name)
			if err != nil {
				logSkip(newErr(ContainerIOError, v.Name, err.Error(), err))
				continue
			}
			bp := summarizeSlab(v.Type, buf)
			fmt.Fprintln(out, ctr.FormatReportRow(v.Name, v.Shape, bp.FormatPattern()))
			tally.WholeProcessed++
			continue
		}

		leading := v.Shape[:v.Rank()-2]
		trailing := v.Shape[v.Rank()-2:]
		err := rowMajorOdometer(leading, func(idx []int64) error {
			start := make([]int64, v.Rank())
			count := make([]int64, v.Rank())
			copy(start, idx)
			for i := range idx {
				count[i] = 1
			}
			count[len(idx)] = trailing[0]
			count[len(idx)+1] = trailing[1]

			buf, err := r.ReadHyperslab(v.Name, start, count)
			if err != nil {
				return err
			}
			bp := summarizeSlab(v.Type, buf)
			fmt.Fprintln(out, ctr.FormatReportRow(v.Name, v.Shape, ctr.SliceLabel(idx)+" "+bp.FormatPattern()))
			return nil
		})
		if err != nil {
			logSkip(newErr(ContainerIOError, v.Name, err.Error(), err))
			continue
		}
		tally.SlabProcessed++
	}

	fmt.Fprintf(out, "processed %d whole, %d by slab, %d skipped\n", tally.WholeProcessed, tally.SlabProcessed, tally.Skipped)
	return tally, nil
}

// summarizeSlab folds every finite element of buf (native-endian, type t)
// into a fresh BitPattern accumulator.
func summarizeSlab(t ctr.ElementType, buf []byte) *ctr.BitPattern {
	bp := ctr.NewBitPatternAccumulator(t)
	width := t.ByteWidth()
	if width == 0 {
		bp.Finish()
		return bp
	}
	for off := 0; off+width <= len(buf); off += width {
		bp.Add(buf[off : off+width])
	}
	bp.Finish()
	return bp
}
