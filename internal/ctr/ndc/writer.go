// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package ndc

import (
	"bytes"
	"fmt"
	"os"

	"github.com/huanglangwen/bitround-go/internal/ctr"
)

// memChunk is one chunk's payload held in memory until Flush/Close writes
// the whole file out in a single pass (a documented simplification of true
// incremental streaming, acceptable here since every operation the
// orchestrator drives already reads its whole working set into memory one
// variable at a time).
type memChunk struct {
	coord      ctr.ChunkCoord
	filterMask uint32
	payload    []byte // already filter-stack encoded
}

type memVar struct {
	meta   ctr.VarMeta
	chunks []memChunk
}

// Writer is the in-memory reference implementation of ctr.Writer. Create
// creates a new, empty container; OpenWriter loads an existing one fully into
// memory for further writing. Flush/Close serialize the whole thing back
// out in one shot.
type Writer struct {
	path        string
	dims        map[string]ctr.DimMeta
	dimOrder    []string
	vars        map[string]*memVar
	varOrder    []string
	globalAttrs []ctr.Attr
}

var _ ctr.Writer = (*Writer)(nil)

// Create starts a brand-new container at path; nothing is written to disk
// until Flush or Close.
func Create(path string) (*Writer, error) {
	return &Writer{
		path: path,
		dims: map[string]ctr.DimMeta{},
		vars: map[string]*memVar{},
	}, nil
}

// OpenWriter loads an existing container fully into memory for editing.
func OpenWriter(path string) (*Writer, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	w := &Writer{
		path: path,
		dims: map[string]ctr.DimMeta{},
		vars: map[string]*memVar{},
	}
	for _, d := range r.header.Dims {
		w.dims[d.Name] = d
		w.dimOrder = append(w.dimOrder, d.Name)
	}
	w.globalAttrs = append([]ctr.Attr(nil), r.header.GlobalAttrs...)

	for _, vr := range r.header.Vars {
		mv := &memVar{meta: vr.Meta}
		for _, cr := range vr.Chunks {
			payload, err := r.rawChunkAt(cr)
			if err != nil {
				return nil, err
			}
			mv.chunks = append(mv.chunks, memChunk{coord: cr.Coord, filterMask: cr.FilterMask, payload: payload})
		}
		w.vars[vr.Meta.Name] = mv
		w.varOrder = append(w.varOrder, vr.Meta.Name)
	}
	return w, nil
}

func (w *Writer) CreateDimension(d ctr.DimMeta) error {
	if _, ok := w.dims[d.Name]; !ok {
		w.dimOrder = append(w.dimOrder, d.Name)
	}
	w.dims[d.Name] = d
	return nil
}

func (w *Writer) Dimensions() []ctr.DimMeta {
	out := make([]ctr.DimMeta, 0, len(w.dimOrder))
	for _, n := range w.dimOrder {
		out = append(out, w.dims[n])
	}
	return out
}

func (w *Writer) Variables() []ctr.VarMeta {
	out := make([]ctr.VarMeta, 0, len(w.varOrder))
	for _, n := range w.varOrder {
		out = append(out, w.vars[n].meta)
	}
	return out
}

func (w *Writer) CreateVar(meta ctr.VarMeta) error {
	if _, exists := w.vars[meta.Name]; exists {
		return fmt.Errorf("ndc: variable %q already exists", meta.Name)
	}
	if len(meta.ChunkShape) == 0 {
		meta.ChunkShape = effectiveChunkShape(meta)
	}
	w.vars[meta.Name] = &memVar{meta: meta}
	w.varOrder = append(w.varOrder, meta.Name)
	return nil
}

// WriteAll splits buf into chunks on meta.ChunkShape and stores each,
// filter-stack encoded, replacing any chunks previously written for name.
func (w *Writer) WriteAll(name string, buf []byte) error {
	mv, ok := w.vars[name]
	if !ok {
		return fmt.Errorf("ndc: no such variable %q", name)
	}
	return w.writeRegion(mv, nil, mv.meta.Shape, buf)
}

func (w *Writer) WriteHyperslab(name string, start, count []int64, buf []byte) error {
	mv, ok := w.vars[name]
	if !ok {
		return fmt.Errorf("ndc: no such variable %q", name)
	}
	return w.writeRegion(mv, start, count, buf)
}

// writeRegion rewrites every chunk that start/count touches. The chunk
// coordinates visited are anchored at the variable's own grid (not at
// start), so an unaligned write (e.g. the concatenator's short-trailing-
// chunk fallback) lands on the correct existing chunks rather than a grid
// offset by the write's own origin. A chunk fully covered by the region is
// replaced outright; a chunk only partially covered is decoded, patched and
// re-encoded.
func (w *Writer) writeRegion(mv *memVar, start, count []int64, buf []byte) error {
	meta := mv.meta
	if start == nil {
		start = make([]int64, len(meta.Shape))
	}
	if len(count) == 0 {
		count = meta.Shape
	}
	ew := elemWidth(meta.Type)
	chunkShape := meta.ChunkShape

	if len(meta.Shape) == 0 {
		encoded, err := EncodeStack(meta.Filters, ew, append([]byte(nil), buf...))
		if err != nil {
			return err
		}
		w.putChunk(mv, ctr.ChunkCoord{}, encoded)
		return nil
	}

	for _, abs := range chunkCoordRange(start, count, meta.Shape, chunkShape) {
		chunkStart, chunkCount := chunkElementRange(abs, meta.Shape, chunkShape)
		ovStart, ovCount, ok := overlap(chunkStart, chunkCount, start, count)
		if !ok {
			continue
		}
		srcLocal := subtract(ovStart, start)
		full := equalInts(ovCount, chunkCount)

		var plain []byte
		if full {
			plain = sliceRegion(buf, count, srcLocal, ovCount, ew)
		} else {
			existing, err := w.decodeExistingChunk(mv, abs)
			if err != nil {
				return err
			}
			patchRegion(existing, chunkCount, ovCount, sliceRegion(buf, count, srcLocal, ovCount, ew), ew, subtract(ovStart, chunkStart))
			plain = existing
		}

		encoded, err := EncodeStack(meta.Filters, ew, plain)
		if err != nil {
			return err
		}
		w.putChunk(mv, abs, encoded)
	}
	return nil
}

func equalInts(a, b []int64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (w *Writer) decodeExistingChunk(mv *memVar, coord ctr.ChunkCoord) ([]byte, error) {
	return w.chunkFetcher(mv)(coord)
}

func (w *Writer) putChunk(mv *memVar, coord ctr.ChunkCoord, encoded []byte) {
	for i := range mv.chunks {
		if mv.chunks[i].coord.Equal(coord) {
			mv.chunks[i].payload = encoded
			return
		}
	}
	mv.chunks = append(mv.chunks, memChunk{coord: coord, payload: encoded})
}

// WriteRawChunk stores payload verbatim (already filter-stack encoded),
// exactly as the concatenator's opaque chunk-copy path requires: no
// decode/re-encode round-trip, so a chunk compressed with a codec this
// module cannot itself produce (e.g. an externally written "xz" chunk)
// still concatenates losslessly.
func (w *Writer) WriteRawChunk(name string, coord ctr.ChunkCoord, filterMask uint32, payload []byte) error {
	mv, ok := w.vars[name]
	if !ok {
		return fmt.Errorf("ndc: no such variable %q", name)
	}
	cp := append([]byte(nil), payload...)
	for i := range mv.chunks {
		if mv.chunks[i].coord.Equal(coord) {
			mv.chunks[i].payload = cp
			mv.chunks[i].filterMask = filterMask
			return nil
		}
	}
	mv.chunks = append(mv.chunks, memChunk{coord: coord, filterMask: filterMask, payload: cp})
	return nil
}

// SetExtent grows (never shrinks) the unlimited axis of name, and the
// corresponding DimMeta entry, to newShape. Used by the concatenator to
// extend a record variable before appending another source file's chunks.
func (w *Writer) SetExtent(name string, newShape []int64) error {
	mv, ok := w.vars[name]
	if !ok {
		return fmt.Errorf("ndc: no such variable %q", name)
	}
	if len(newShape) != len(mv.meta.Shape) {
		return fmt.Errorf("ndc: SetExtent rank mismatch for %q", name)
	}
	for i, e := range newShape {
		if e < mv.meta.Shape[i] {
			return fmt.Errorf("ndc: SetExtent may only grow an axis (variable %q, axis %d)", name, i)
		}
	}
	mv.meta.Shape = newShape
	axis := ctr.RecordAxis(mv.meta, w.Dimensions())
	if axis >= 0 {
		dimName := mv.meta.DimNames[axis]
		d := w.dims[dimName]
		d.Extent = newShape[axis]
		w.dims[dimName] = d
	}
	return nil
}

func (w *Writer) SetAttribute(scope string, attr ctr.Attr) error {
	if scope == "" {
		w.globalAttrs = setAttr(w.globalAttrs, attr)
		return nil
	}
	mv, ok := w.vars[scope]
	if !ok {
		return fmt.Errorf("ndc: no such variable %q", scope)
	}
	mv.meta.Attrs = setAttr(mv.meta.Attrs, attr)
	return nil
}

func setAttr(attrs []ctr.Attr, attr ctr.Attr) []ctr.Attr {
	for i := range attrs {
		if attrs[i].Name == attr.Name {
			attrs[i] = attr
			return attrs
		}
	}
	return append(attrs, attr)
}

// Flush serializes the entire in-memory container to w.path in one pass.
func (w *Writer) Flush() error {
	h := &fileHeader{GlobalAttrs: w.globalAttrs}
	for _, n := range w.dimOrder {
		h.Dims = append(h.Dims, w.dims[n])
	}

	var data bytes.Buffer
	for _, n := range w.varOrder {
		mv := w.vars[n]
		vr := varRecord{Meta: mv.meta}
		for _, c := range mv.chunks {
			vr.Chunks = append(vr.Chunks, chunkRecord{
				Coord:      c.coord,
				Offset:     int64(data.Len()),
				Size:       int64(len(c.payload)),
				FilterMask: c.filterMask,
				Checksum:   checksum(c.payload),
			})
			data.Write(c.payload)
		}
		h.Vars = append(h.Vars, vr)
	}

	headerBytes, err := encodeHeader(h)
	if err != nil {
		return err
	}

	return os.WriteFile(w.path, append(headerBytes, data.Bytes()...), 0o644)
}

func (w *Writer) Close() error { return w.Flush() }

// Reader-side methods so Writer satisfies ctr.Reader (embedded in ctr.Writer).

func (w *Writer) ReadAll(name string) ([]byte, error) {
	mv, ok := w.vars[name]
	if !ok {
		return nil, fmt.Errorf("ndc: no such variable %q", name)
	}
	return assembleVariable(mv.meta, w.chunkFetcher(mv))
}

func (w *Writer) ReadHyperslab(name string, start, count []int64) ([]byte, error) {
	mv, ok := w.vars[name]
	if !ok {
		return nil, fmt.Errorf("ndc: no such variable %q", name)
	}
	return assembleRegion(mv.meta, start, count, w.chunkFetcher(mv))
}

// chunkFetcher returns decoded chunk payloads for mv, zero-filling any
// chunk coordinate that was never written. If a chunk was written back when
// the record axis was shorter (SetExtent has since grown it), the decoded
// payload is zero-extended to the chunk's current declared shape: the
// stored bytes always occupy the sub-box starting at the chunk's own local
// origin, since growth only ever appends along the unlimited axis.
func (w *Writer) chunkFetcher(mv *memVar) chunkFetcher {
	ew := elemWidth(mv.meta.Type)
	return func(coord ctr.ChunkCoord) ([]byte, error) {
		_, wantCount := chunkElementRange(coord, mv.meta.Shape, mv.meta.ChunkShape)
		wantN := int64(1)
		for _, c := range wantCount {
			wantN *= c
		}
		for _, c := range mv.chunks {
			if c.coord.Equal(coord) {
				plain, err := DecodeStack(mv.meta.Filters, ew, c.payload)
				if err != nil {
					return nil, err
				}
				if int64(len(plain)) == wantN*int64(ew) {
					return plain, nil
				}
				return w.growChunkBuffer(mv, plain, wantCount, ew), nil
			}
		}
		return make([]byte, wantN*int64(ew)), nil
	}
}

// growChunkBuffer zero-extends a chunk payload decoded under a now-stale,
// shorter declared shape into a fresh buffer matching wantCount, the
// chunk's current declared shape. The mismatch can only be along the
// record axis (the only axis SetExtent ever changes), so the old data is
// placed at local origin 0 along every axis.
func (w *Writer) growChunkBuffer(mv *memVar, old []byte, wantCount []int64, ew int) []byte {
	n := int64(1)
	for _, c := range wantCount {
		n *= c
	}
	out := make([]byte, n*int64(ew))

	axis := ctr.RecordAxis(mv.meta, w.Dimensions())
	if axis < 0 {
		copy(out, old)
		return out
	}
	otherProduct := int64(1)
	for i, c := range wantCount {
		if i != axis {
			otherProduct *= c
		}
	}
	if otherProduct == 0 {
		return out
	}
	oldCount := append([]int64(nil), wantCount...)
	oldCount[axis] = (int64(len(old)) / int64(ew)) / otherProduct
	patchRegion(out, wantCount, oldCount, old, ew, make([]int64, len(wantCount)))
	return out
}

func (w *Writer) ChunkInfo(name string) ([]ctr.ChunkInfo, error) {
	mv, ok := w.vars[name]
	if !ok {
		return nil, fmt.Errorf("ndc: no such variable %q", name)
	}
	out := make([]ctr.ChunkInfo, 0, len(mv.chunks))
	for _, c := range mv.chunks {
		out = append(out, ctr.ChunkInfo{Coord: c.coord, FilterMask: c.filterMask, PayloadSize: int64(len(c.payload))})
	}
	return out, nil
}

func (w *Writer) ReadRawChunk(name string, coord ctr.ChunkCoord) (uint32, []byte, error) {
	mv, ok := w.vars[name]
	if !ok {
		return 0, nil, fmt.Errorf("ndc: no such variable %q", name)
	}
	for _, c := range mv.chunks {
		if c.coord.Equal(coord) {
			return c.filterMask, append([]byte(nil), c.payload...), nil
		}
	}
	return 0, nil, fmt.Errorf("ndc: variable %q has no chunk at %v", name, coord)
}

func (w *Writer) Attributes(scope string) ([]ctr.Attr, error) {
	if scope == "" {
		return w.globalAttrs, nil
	}
	mv, ok := w.vars[scope]
	if !ok {
		return nil, fmt.Errorf("ndc: no such variable %q", scope)
	}
	return mv.meta.Attrs, nil
}

func elemWidth(t ctr.ElementType) int {
	w := t.ByteWidth()
	if w == 0 {
		return 1
	}
	return w
}
