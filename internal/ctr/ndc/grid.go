// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package ndc

import "github.com/huanglangwen/bitround-go/internal/ctr"

// effectiveChunkShape returns v's chunk shape, defaulting to the full
// variable shape (a single chunk) when none was declared.
func effectiveChunkShape(v ctr.VarMeta) []int64 {
	if len(v.ChunkShape) == len(v.Shape) && len(v.Shape) > 0 {
		return v.ChunkShape
	}
	cs := make([]int64, len(v.Shape))
	copy(cs, v.Shape)
	for i := range cs {
		if cs[i] == 0 {
			cs[i] = 1
		}
	}
	return cs
}

// chunkGrid enumerates every chunk coordinate of shape/chunkShape in
// row-major order, using an explicit odometer with carry propagation.
func chunkGrid(shape, chunkShape []int64) []ctr.ChunkCoord {
	if len(shape) == 0 {
		return []ctr.ChunkCoord{{}}
	}
	nChunks := make([]int64, len(shape))
	for i := range shape {
		nChunks[i] = ceilDiv(shape[i], chunkShape[i])
	}

	var out []ctr.ChunkCoord
	idx := make([]int64, len(shape))
	for {
		coord := make(ctr.ChunkCoord, len(idx))
		copy(coord, idx)
		out = append(out, coord)

		// odometer increment, rightmost axis fastest
		axis := len(idx) - 1
		for axis >= 0 {
			idx[axis]++
			if idx[axis] < nChunks[axis] {
				break
			}
			idx[axis] = 0
			axis--
		}
		if axis < 0 {
			break
		}
	}
	return out
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 1
	}
	return (a + b - 1) / b
}

// chunkElementRange returns the start offset and element count, per axis,
// that coord covers within shape, clipped at the array bounds (the last
// chunk along any axis may be short).
func chunkElementRange(coord ctr.ChunkCoord, shape, chunkShape []int64) (start, count []int64) {
	start = make([]int64, len(shape))
	count = make([]int64, len(shape))
	for i := range shape {
		start[i] = coord[i] * chunkShape[i]
		end := start[i] + chunkShape[i]
		if end > shape[i] {
			end = shape[i]
		}
		count[i] = end - start[i]
	}
	return start, count
}

// chunkCoordRange enumerates, in row-major order, every absolute chunk
// coordinate (anchored at the variable's own origin, not at start) that
// overlaps the element-space region [start, start+count) of a variable
// shaped shape with chunking chunkShape. Anchoring at the variable's own
// grid, rather than building a fresh grid local to start, is what makes
// an unaligned hyperslab write (e.g. the concatenator's short-trailing-chunk
// fallback) land on the correct existing chunks instead of a grid offset by
// the write's own origin.
func chunkCoordRange(start, count, shape, chunkShape []int64) []ctr.ChunkCoord {
	if len(shape) == 0 {
		return []ctr.ChunkCoord{{}}
	}
	lo := make([]int64, len(shape))
	hi := make([]int64, len(shape))
	for i := range shape {
		lo[i] = start[i] / chunkShape[i]
		last := start[i] + count[i] - 1
		hi[i] = last / chunkShape[i]
	}

	var out []ctr.ChunkCoord
	idx := append([]int64(nil), lo...)
	for {
		coord := make(ctr.ChunkCoord, len(idx))
		copy(coord, idx)
		out = append(out, coord)

		axis := len(idx) - 1
		for axis >= 0 {
			idx[axis]++
			if idx[axis] <= hi[axis] {
				break
			}
			idx[axis] = lo[axis]
			axis--
		}
		if axis < 0 {
			break
		}
	}
	return out
}
