// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package ndc

import "github.com/huanglangwen/bitround-go/internal/ctr"

// chunkFetcher returns the decoded (filter-stack-reversed) payload for one
// chunk coordinate of a variable, or a zero-filled buffer of the right size
// if that chunk was never written (HDF5-style "implicit fill").
type chunkFetcher func(coord ctr.ChunkCoord) ([]byte, error)

// assembleVariable decodes every chunk of meta and places it into a single
// row-major buffer covering the whole variable.
func assembleVariable(meta ctr.VarMeta, fetch chunkFetcher) ([]byte, error) {
	return assembleRegion(meta, make([]int64, len(meta.Shape)), meta.Shape, fetch)
}

// assembleRegion decodes exactly the chunks that intersect [start, start+count)
// and copies the overlap into a row-major buffer of shape count.
func assembleRegion(meta ctr.VarMeta, start, count []int64, fetch chunkFetcher) ([]byte, error) {
	ew := elemWidth(meta.Type)
	n := int64(1)
	for _, c := range count {
		n *= c
	}
	out := make([]byte, n*int64(ew))
	if len(meta.Shape) == 0 {
		payload, err := fetch(ctr.ChunkCoord{})
		if err != nil {
			return nil, err
		}
		copy(out, payload)
		return out, nil
	}

	chunkShape := meta.ChunkShape
	for _, coord := range chunkGrid(meta.Shape, chunkShape) {
		chunkStart, chunkCount := chunkElementRange(coord, meta.Shape, chunkShape)
		ovStart, ovCount, ok := overlap(chunkStart, chunkCount, start, count)
		if !ok {
			continue
		}
		payload, err := fetch(coord)
		if err != nil {
			return nil, err
		}
		localStart := subtract(ovStart, chunkStart)
		dstStart := subtract(ovStart, start)
		copyRegion(out, count, dstStart, payload, chunkCount, localStart, ovCount, ew)
	}
	return out, nil
}

// overlap computes the element-space intersection of two axis-aligned
// boxes (start/count each). ok is false when they don't intersect.
func overlap(aStart, aCount, bStart, bCount []int64) (start, count []int64, ok bool) {
	start = make([]int64, len(aStart))
	count = make([]int64, len(aStart))
	for i := range aStart {
		lo := max64(aStart[i], bStart[i])
		hi := min64(aStart[i]+aCount[i], bStart[i]+bCount[i])
		if hi <= lo {
			return nil, nil, false
		}
		start[i] = lo
		count[i] = hi - lo
	}
	return start, count, true
}

func subtract(a, b []int64) []int64 {
	out := make([]int64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// copyRegion copies the sub-box [srcStart, srcStart+count) of src (shaped
// srcShape) into the sub-box [dstStart, dstStart+count) of dst (shaped
// dstShape), both row-major buffers of elements ew bytes wide.
func copyRegion(dst []byte, dstShape, dstStart []int64, src []byte, srcShape, srcStart []int64, count []int64, ew int) {
	forEachRowMajor(count, func(idx []int64) {
		dIdx := make([]int64, len(idx))
		sIdx := make([]int64, len(idx))
		for i := range idx {
			dIdx[i] = dstStart[i] + idx[i]
			sIdx[i] = srcStart[i] + idx[i]
		}
		dOff := linearOffset(dstShape, dIdx) * int64(ew)
		sOff := linearOffset(srcShape, sIdx) * int64(ew)
		copy(dst[dOff:dOff+int64(ew)], src[sOff:sOff+int64(ew)])
	})
}

// sliceRegion extracts the sub-box [start, start+count) out of a full
// buffer of shape fullShape into a freshly-allocated, tightly packed
// buffer.
func sliceRegion(buf []byte, fullShape, start, count []int64, ew int) []byte {
	n := int64(1)
	for _, c := range count {
		n *= c
	}
	out := make([]byte, n*int64(ew))
	forEachRowMajor(count, func(idx []int64) {
		srcIdx := make([]int64, len(idx))
		for i := range idx {
			srcIdx[i] = start[i] + idx[i]
		}
		srcOff := linearOffset(fullShape, srcIdx) * int64(ew)
		dstOff := linearOffset(count, idx) * int64(ew)
		copy(out[dstOff:dstOff+int64(ew)], buf[srcOff:srcOff+int64(ew)])
	})
	return out
}

// patchRegion writes src (shaped count) into dst (shaped dstShape) at
// dstStart.
func patchRegion(dst []byte, dstShape, count []int64, src []byte, ew int, dstStart []int64) {
	forEachRowMajor(count, func(idx []int64) {
		dstIdx := make([]int64, len(idx))
		for i := range idx {
			dstIdx[i] = dstStart[i] + idx[i]
		}
		dstOff := linearOffset(dstShape, dstIdx) * int64(ew)
		srcOff := linearOffset(count, idx) * int64(ew)
		copy(dst[dstOff:dstOff+int64(ew)], src[srcOff:srcOff+int64(ew)])
	})
}

func linearOffset(shape, idx []int64) int64 {
	off := int64(0)
	stride := int64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		off += idx[i] * stride
		stride *= shape[i]
	}
	return off
}

func forEachRowMajor(shape []int64, visit func(idx []int64)) {
	if len(shape) == 0 {
		visit(nil)
		return
	}
	idx := make([]int64, len(shape))
	total := int64(1)
	for _, s := range shape {
		total *= s
	}
	for n := int64(0); n < total; n++ {
		visit(idx)
		for axis := len(idx) - 1; axis >= 0; axis-- {
			idx[axis]++
			if idx[axis] < shape[axis] {
				break
			}
			idx[axis] = 0
		}
	}
}
