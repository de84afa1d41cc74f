// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package ndc

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/huanglangwen/bitround-go/internal/ctr"
)

// magic identifies an ndc container file. It intentionally does not spell
// out any existing container format's magic bytes: this is its own format.
var magic = [4]byte{'N', 'D', 'C', '1'}

// chunkRecord is the on-disk directory entry for one stored chunk: its
// coordinate, its byte range within the data section that follows the
// directory, the filter mask HDF5-style readers expect back from
// ReadRawChunk, and an xxhash-64 checksum of the still-filtered payload
// (a cheap integrity check, not a cryptographic hash).
type chunkRecord struct {
	Coord      ctr.ChunkCoord
	Offset     int64
	Size       int64
	FilterMask uint32
	Checksum   uint64
}

// varRecord is the on-disk directory entry for one variable.
type varRecord struct {
	Meta   ctr.VarMeta
	Chunks []chunkRecord
}

// fileHeader is the whole gob-encoded directory written at the front of an
// ndc file. Chunk payloads themselves live in the data section immediately
// following the header, addressed by varRecord.Chunks[*].Offset.
type fileHeader struct {
	Dims        []ctr.DimMeta
	Vars        []varRecord
	GlobalAttrs []ctr.Attr
}

func checksum(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// init registers every concrete type this format's Attr.Value is known to
// carry; gob requires a concrete type be registered before it can flow
// through an interface{} field such as ctr.Attr.Value, even builtin types.
func init() {
	gob.Register("")
	gob.Register(int16(0))
	gob.Register(uint16(0))
	gob.Register(int32(0))
	gob.Register(uint32(0))
	gob.Register(int64(0))
	gob.Register(uint64(0))
	gob.Register(float32(0))
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register([]byte(nil))
	gob.Register([]string(nil))
	gob.Register([]int32(nil))
	gob.Register([]float32(nil))
	gob.Register([]float64(nil))
}

// encodeHeader gob-encodes h, prefixed with the magic and a little-endian
// length so a reader can seek straight past it to the data section.
func encodeHeader(h *fileHeader) ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(h); err != nil {
		return nil, fmt.Errorf("ndc: encode header: %w", err)
	}

	var out bytes.Buffer
	out.Write(magic[:])
	var lenBuf [8]byte
	putUint64(lenBuf[:], uint64(body.Len()))
	out.Write(lenBuf[:])
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// decodeHeader reads the magic, length and gob-encoded fileHeader from r,
// returning the header and the number of bytes consumed (so the caller
// knows where the data section begins).
func decodeHeader(r io.Reader) (*fileHeader, int64, error) {
	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, 0, fmt.Errorf("ndc: read magic: %w", err)
	}
	if gotMagic != magic {
		return nil, 0, fmt.Errorf("ndc: not an ndc container (bad magic %v)", gotMagic)
	}
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, 0, fmt.Errorf("ndc: read header length: %w", err)
	}
	n := getUint64(lenBuf[:])

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, 0, fmt.Errorf("ndc: read header body: %w", err)
	}

	var h fileHeader
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&h); err != nil {
		return nil, 0, fmt.Errorf("ndc: decode header: %w", err)
	}
	return &h, int64(4+8) + int64(n), nil
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

func findVar(h *fileHeader, name string) (*varRecord, error) {
	for i := range h.Vars {
		if h.Vars[i].Meta.Name == name {
			return &h.Vars[i], nil
		}
	}
	return nil, fmt.Errorf("ndc: no such variable %q", name)
}

func findChunk(vr *varRecord, coord ctr.ChunkCoord) (*chunkRecord, bool) {
	for i := range vr.Chunks {
		if vr.Chunks[i].Coord.Equal(coord) {
			return &vr.Chunks[i], true
		}
	}
	return nil, false
}
