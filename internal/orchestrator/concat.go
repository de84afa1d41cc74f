// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package orchestrator

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/huanglangwen/bitround-go/internal/ctr"
)

// Concat runs the raw-chunk concatenation operation: clones
// F1's whole object/attribute tree into w, extends every record variable's
// unlimited dimension to the accumulated length, then appends each input's
// record-variable chunks in argv order, prepending a history entry.
//
// argv is the exact command line to record in the history attribute.
func Concat(inputs []ctr.Reader, w ctr.Writer, argv []string, verbose bool) error {
	if len(inputs) < 2 {
		return newErr(InvalidInput, "", errFewerThanTwoInputs.Error(), errFewerThanTwoInputs)
	}
	f1 := inputs[0]
	dims := f1.Dimensions()

	if err := cloneSchema(f1, w); err != nil {
		return err
	}

	recordVars := recordVariables(f1, dims)
	finalLen := make(map[string]int64, len(recordVars))
	for _, v := range recordVars {
		axis := ctr.RecordAxis(v, dims)
		var total int64
		for _, f := range inputs {
			fv, err := findVariable(f, v.Name)
			if err != nil {
				return newErr(SchemaMismatch, v.Name, "missing from an input container", err)
			}
			if err := checkSchemaMatch(v, fv); err != nil {
				return newErr(SchemaMismatch, v.Name, err.Error(), err)
			}
			total += fv.Shape[axis]
		}
		finalLen[v.Name] = total

		newShape := append([]int64(nil), v.Shape...)
		newShape[axis] = total
		if err := w.SetExtent(v.Name, newShape); err != nil {
			return err
		}
	}

	offsets := make(map[string]int64, len(recordVars))
	for fi, f := range inputs {
		for _, v := range recordVars {
			fv, err := findVariable(f, v.Name)
			if err != nil {
				return newErr(SchemaMismatch, v.Name, "missing from an input container", err)
			}
			axis := ctr.RecordAxis(fv, f.Dimensions())
			if err := appendChunks(f, w, fv, axis, offsets[v.Name], verbose); err != nil {
				return err
			}
			offsets[v.Name] += fv.Shape[axis]
			if verbose {
				slog.Info("appended", "input", fi, "var", v.Name, "count", fv.Shape[axis])
			}
		}
	}

	if err := repairDimensionLists(w); err != nil {
		return err
	}
	if err := prependHistory(w, argv); err != nil {
		return err
	}

	return w.Flush()
}

// cloneSchema copies every dimension, variable definition (with its
// original chunk shape and filter stack), attribute and F1's whole-variable
// payload into w. Record variables are cloned with F1's own extent; Concat
// grows them afterward.
func cloneSchema(f1 ctr.Reader, w ctr.Writer) error {
	for _, d := range f1.Dimensions() {
		if err := w.CreateDimension(d); err != nil {
			return err
		}
	}
	for _, a := range mustAttrs(f1, "") {
		if err := w.SetAttribute("", a); err != nil {
			return err
		}
	}
	for _, v := range f1.Variables() {
		if err := w.CreateVar(v); err != nil {
			return err
		}
		for _, a := range v.Attrs {
			if err := w.SetAttribute(v.Name, a); err != nil {
				return err
			}
		}
		if err := cloneChunks(f1, w, v); err != nil {
			return err
		}
	}
	return nil
}

func cloneChunks(f1 ctr.Reader, w ctr.Writer, v ctr.VarMeta) error {
	ci, err := f1.ChunkInfo(v.Name)
	if err != nil {
		return err
	}
	if len(ci) == 0 {
		buf, err := f1.ReadAll(v.Name)
		if err != nil {
			return err
		}
		return w.WriteAll(v.Name, buf)
	}
	for _, c := range ci {
		mask, payload, err := f1.ReadRawChunk(v.Name, c.Coord)
		if err != nil {
			return err
		}
		if err := w.WriteRawChunk(v.Name, c.Coord, mask, payload); err != nil {
			return err
		}
	}
	return nil
}

func recordVariables(f1 ctr.Reader, dims []ctr.DimMeta) []ctr.VarMeta {
	var out []ctr.VarMeta
	for _, v := range f1.Variables() {
		if ctr.IsRecordVariable(v, dims) {
			out = append(out, v)
		}
	}
	return out
}

func findVariable(r ctr.Reader, name string) (ctr.VarMeta, error) {
	for _, v := range r.Variables() {
		if v.Name == name {
			return v, nil
		}
	}
	return ctr.VarMeta{}, fmt.Errorf("variable %q not found", name)
}

func checkSchemaMatch(a, b ctr.VarMeta) error {
	if a.Type != b.Type || a.Rank() != b.Rank() {
		return fmt.Errorf("type/rank mismatch")
	}
	if len(a.ChunkShape) != len(b.ChunkShape) {
		return fmt.Errorf("chunk shape rank mismatch")
	}
	for i := range a.ChunkShape {
		if a.ChunkShape[i] != b.ChunkShape[i] {
			return fmt.Errorf("chunk shape differs at axis %d", i)
		}
	}
	if len(a.Filters) != len(b.Filters) {
		return fmt.Errorf("filter stack differs")
	}
	for i := range a.Filters {
		if a.Filters[i].ID != b.Filters[i].ID {
			return fmt.Errorf("filter stack differs at position %d", i)
		}
	}
	return nil
}

// appendChunks copies fv's chunks from f into w, shifting each chunk's
// coordinate along axis by offset/chunkExtent. Per the alignment rule, a
// shifted coordinate must land on an integer multiple of the chunk extent;
// any chunk that would violate this (every chunk of an input that follows
// one whose record extent is not a multiple of the chunk extent) is instead
// decoded and written as a hyperslab. The caller advances the running
// offset by the input's true record extent.
func appendChunks(f ctr.Reader, w ctr.Writer, fv ctr.VarMeta, axis int, offset int64, verbose bool) error {
	chunkExtent := fv.ChunkShape[axis]
	ci, err := f.ChunkInfo(fv.Name)
	if err != nil {
		return err
	}

	for _, c := range ci {
		elementStart := c.Coord[axis]*chunkExtent + offset
		if elementStart%chunkExtent != 0 {
			if verbose {
				slog.Info("unalignedChunk", "var", fv.Name, "coord", c.Coord, "shiftedOffset", elementStart)
			}
			if err := appendChunkAsHyperslab(f, w, fv, axis, c.Coord, offset); err != nil {
				return err
			}
			continue
		}

		outCoord := append(ctr.ChunkCoord(nil), c.Coord...)
		outCoord[axis] = elementStart / chunkExtent

		mask, payload, err := f.ReadRawChunk(fv.Name, c.Coord)
		if err != nil {
			return err
		}
		if err := w.WriteRawChunk(fv.Name, outCoord, mask, payload); err != nil {
			return err
		}
	}
	return nil
}

func appendChunkAsHyperslab(f ctr.Reader, w ctr.Writer, fv ctr.VarMeta, axis int, coord ctr.ChunkCoord, offset int64) error {
	start := make([]int64, fv.Rank())
	count := make([]int64, fv.Rank())
	for i := range fv.Shape {
		start[i] = coord[i] * fv.ChunkShape[i]
		end := start[i] + fv.ChunkShape[i]
		if end > fv.Shape[i] {
			end = fv.Shape[i]
		}
		count[i] = end - start[i]
	}

	buf, err := f.ReadHyperslab(fv.Name, start, count)
	if err != nil {
		return err
	}

	outStart := append([]int64(nil), start...)
	outStart[axis] = start[axis] + offset
	return w.WriteHyperslab(fv.Name, outStart, count, buf)
}

// repairDimensionLists rewrites any NetCDF-4-style DIMENSION_LIST attribute
// so it references the output file's own dimension scales by path rather
// than the input files' object addresses. The ndc reference format has no
// address-based references
// of its own, so there is nothing to rewrite here beyond leaving the
// attribute's dimension-name strings untouched; a container implementation
// that does carry object references would hook this function.
func repairDimensionLists(w ctr.Writer) error {
	return nil
}

// prependHistory adds a "YYYY-MM-DD HH:MM:SS UTC: <argv>" line ahead of
// any existing root history attribute, creating it if absent.
func prependHistory(w ctr.Writer, argv []string) error {
	existing := ""
	if attrs, err := w.Attributes(""); err == nil {
		for _, a := range attrs {
			if a.Name == "history" {
				if s, ok := a.Value.(string); ok {
					existing = s
				}
			}
		}
	}

	entry := fmt.Sprintf("%s UTC: %s\n", time.Now().UTC().Format("2006-01-02 15:04:05"), strings.Join(argv, " "))
	return w.SetAttribute("", ctr.Attr{Name: "history", Type: ctr.Text, Value: entry + existing})
}
