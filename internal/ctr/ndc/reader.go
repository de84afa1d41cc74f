// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package ndc

import (
	"fmt"
	"os"
	"sync/atomic"

	bufra "github.com/avvmoto/buf-readerat"
	"github.com/huanglangwen/bitround-go/internal/ctr"
)

var readerUniqCounter uint64

// Reader is the read-only reference implementation of ctr.Reader. It keeps
// only the gob-decoded directory in memory; chunk payloads are paged in on
// demand through a buffered ReaderAt, with decoded chunks memoized in
// decodedChunkCache.
type Reader struct {
	uniq       uint64
	f          *os.File
	ra         *bufra.BufReaderAt
	header     *fileHeader
	dataOffset int64
}

var _ ctr.Reader = (*Reader)(nil)

// Open loads name's directory into memory and prepares buffered random
// access to its data section.
func Open(name string) (*Reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	h, headerLen, err := decodeHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, err
	}

	return &Reader{
		uniq:       atomic.AddUint64(&readerUniqCounter, 1),
		f:          f,
		ra:         bufra.NewBufReaderAt(f, 1<<20),
		header:     h,
		dataOffset: headerLen,
	}, nil
}

func (r *Reader) Dimensions() []ctr.DimMeta { return r.header.Dims }

func (r *Reader) Variables() []ctr.VarMeta {
	out := make([]ctr.VarMeta, len(r.header.Vars))
	for i, vr := range r.header.Vars {
		out[i] = vr.Meta
	}
	return out
}

// rawChunkAt reads cr's still-filter-encoded bytes and verifies the
// checksum recorded for it at Flush time.
func (r *Reader) rawChunkAt(cr chunkRecord) ([]byte, error) {
	buf := make([]byte, cr.Size)
	if _, err := r.ra.ReadAt(buf, r.dataOffset+cr.Offset); err != nil {
		return nil, fmt.Errorf("ndc: read chunk %v: %w", cr.Coord, err)
	}
	if checksum(buf) != cr.Checksum {
		return nil, fmt.Errorf("ndc: chunk %v failed checksum verification", cr.Coord)
	}
	return buf, nil
}

func (r *Reader) fetcher(varName string, vr *varRecord) chunkFetcher {
	ew := elemWidth(vr.Meta.Type)
	return func(coord ctr.ChunkCoord) ([]byte, error) {
		cr, ok := findChunk(vr, coord)
		if !ok {
			_, count := chunkElementRange(coord, vr.Meta.Shape, vr.Meta.ChunkShape)
			n := int64(1)
			for _, c := range count {
				n *= c
			}
			return make([]byte, n*int64(ew)), nil
		}
		return r.decodeChunkCached(varName, vr, cr)
	}
}

func (r *Reader) ReadAll(name string) ([]byte, error) {
	vr, err := findVar(r.header, name)
	if err != nil {
		return nil, err
	}
	return assembleVariable(vr.Meta, r.fetcher(name, vr))
}

func (r *Reader) ReadHyperslab(name string, start, count []int64) ([]byte, error) {
	vr, err := findVar(r.header, name)
	if err != nil {
		return nil, err
	}
	return assembleRegion(vr.Meta, start, count, r.fetcher(name, vr))
}

func (r *Reader) ChunkInfo(name string) ([]ctr.ChunkInfo, error) {
	vr, err := findVar(r.header, name)
	if err != nil {
		return nil, err
	}
	out := make([]ctr.ChunkInfo, len(vr.Chunks))
	for i, cr := range vr.Chunks {
		out[i] = ctr.ChunkInfo{Coord: cr.Coord, FilterMask: cr.FilterMask, PayloadSize: cr.Size}
	}
	return out, nil
}

func (r *Reader) ReadRawChunk(name string, coord ctr.ChunkCoord) (uint32, []byte, error) {
	vr, err := findVar(r.header, name)
	if err != nil {
		return 0, nil, err
	}
	cr, ok := findChunk(vr, coord)
	if !ok {
		return 0, nil, fmt.Errorf("ndc: variable %q has no chunk at %v", name, coord)
	}
	raw, err := r.rawChunkAt(*cr)
	if err != nil {
		return 0, nil, err
	}
	return cr.FilterMask, raw, nil
}

func (r *Reader) Attributes(scope string) ([]ctr.Attr, error) {
	if scope == "" {
		return r.header.GlobalAttrs, nil
	}
	vr, err := findVar(r.header, scope)
	if err != nil {
		return nil, err
	}
	return vr.Meta.Attrs, nil
}

func (r *Reader) Close() error { return r.f.Close() }
