// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package ndc is a small, pure-Go reference implementation of the Container
// Reader/Writer contract (internal/ctr). It is not NetCDF or HDF5 (no cgo
// binding to either is in scope for this module) but it honours the same
// data model: a flat group of typed, chunked,
// filter-stacked variables with one optional unlimited dimension, addressed
// through exactly the Reader/Writer operations the orchestrator needs.
package ndc

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	"github.com/huanglangwen/bitround-go/internal/ctr"
	"github.com/therootcompany/xz"
)

// Codec implements one entry of an ordered filter stack.
type Codec interface {
	ID() string
	Encode(params map[string]uint32, elemWidth int, data []byte) ([]byte, error)
	Decode(params map[string]uint32, elemWidth int, data []byte) ([]byte, error)
}

var registry = map[string]Codec{}

func register(c Codec) { registry[c.ID()] = c }

func init() {
	register(shuffleCodec{})
	register(deflateCodec{})
	register(xzCodec{})
}

// EncodeStack applies filters in order (first filter runs first, as when
// writing); DecodeStack applies them in reverse.
func EncodeStack(filters []ctr.FilterSpec, elemWidth int, data []byte) ([]byte, error) {
	for _, f := range filters {
		c, ok := registry[f.ID]
		if !ok {
			return nil, fmt.Errorf("ndc: unknown filter %q", f.ID)
		}
		var err error
		data, err = c.Encode(f.Params, elemWidth, data)
		if err != nil {
			return nil, fmt.Errorf("ndc: encode %q: %w", f.ID, err)
		}
	}
	return data, nil
}

func DecodeStack(filters []ctr.FilterSpec, elemWidth int, data []byte) ([]byte, error) {
	for i := len(filters) - 1; i >= 0; i-- {
		f := filters[i]
		c, ok := registry[f.ID]
		if !ok {
			return nil, fmt.Errorf("ndc: unknown filter %q", f.ID)
		}
		var err error
		data, err = c.Decode(f.Params, elemWidth, data)
		if err != nil {
			return nil, fmt.Errorf("ndc: decode %q: %w", f.ID, err)
		}
	}
	return data, nil
}

// shuffleCodec implements the classic byte-shuffle filter: byte i of every
// element is grouped together, which tends to make the subsequent deflate
// pass much more effective on typed numeric arrays.
type shuffleCodec struct{}

func (shuffleCodec) ID() string { return "shuffle" }

func (shuffleCodec) Encode(_ map[string]uint32, elemWidth int, data []byte) ([]byte, error) {
	return shuffleBytes(data, elemWidth), nil
}

func (shuffleCodec) Decode(_ map[string]uint32, elemWidth int, data []byte) ([]byte, error) {
	return unshuffleBytes(data, elemWidth), nil
}

func shuffleBytes(data []byte, elemWidth int) []byte {
	if elemWidth <= 1 || len(data) == 0 {
		return append([]byte(nil), data...)
	}
	n := len(data) / elemWidth
	out := make([]byte, len(data))
	for e := 0; e < n; e++ {
		for b := 0; b < elemWidth; b++ {
			out[b*n+e] = data[e*elemWidth+b]
		}
	}
	// any trailing partial element (shouldn't happen for well-formed chunks)
	copy(out[n*elemWidth:], data[n*elemWidth:])
	return out
}

func unshuffleBytes(data []byte, elemWidth int) []byte {
	if elemWidth <= 1 || len(data) == 0 {
		return append([]byte(nil), data...)
	}
	n := len(data) / elemWidth
	out := make([]byte, len(data))
	for e := 0; e < n; e++ {
		for b := 0; b < elemWidth; b++ {
			out[e*elemWidth+b] = data[b*n+e]
		}
	}
	copy(out[n*elemWidth:], data[n*elemWidth:])
	return out
}

// deflateCodec wraps compress/flate, the codec the rewrite operation pairs
// with shuffle when compression is requested.
type deflateCodec struct{}

func (deflateCodec) ID() string { return "deflate" }

func (deflateCodec) Encode(params map[string]uint32, _ int, data []byte) ([]byte, error) {
	level := flate.DefaultCompression
	if lv, ok := params["level"]; ok {
		level = int(lv)
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (deflateCodec) Decode(_ map[string]uint32, _ int, data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

// xzCodec decodes xz streams using a pure-Go decoder. It has no encode
// side: therootcompany/xz is a decode-only library. A filter stack naming "xz" can therefore only be
// produced by an external writer and read here; this module's own Writer
// never emits it.
type xzCodec struct{}

func (xzCodec) ID() string { return "xz" }

func (xzCodec) Encode(map[string]uint32, int, []byte) ([]byte, error) {
	return nil, fmt.Errorf("ndc: xz encoding is not supported (decode-only codec)")
}

func (xzCodec) Decode(_ map[string]uint32, _ int, data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data), xz.DefaultDictMax)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
