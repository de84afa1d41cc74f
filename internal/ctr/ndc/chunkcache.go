// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package ndc

import (
	"context"
	"fmt"

	"github.com/allegro/bigcache/v3"
)

// decodedChunkCache holds already filter-stack-decoded chunk payloads:
// decoding a
// deflate/xz chunk is the expensive step in a hyperslab read, and the same
// chunk is often re-read (e.g. by bit-analyze walking leading-dimension
// slabs one at a time over a variable whose chunk axis spans several of
// them).
var decodedChunkCache *bigcache.BigCache

func init() {
	c, err := bigcache.New(context.Background(), bigcache.Config{
		HardMaxCacheSize: 512, // megabytes
		Shards:           256,
	})
	if err != nil {
		panic(err)
	}
	decodedChunkCache = c
}

func chunkCacheKey(readerUniq uint64, varName string, coord []int64) string {
	return fmt.Sprintf("%d_%s_%v", readerUniq, varName, coord)
}

func (r *Reader) decodeChunkCached(varName string, vr *varRecord, cr *chunkRecord) ([]byte, error) {
	key := chunkCacheKey(r.uniq, varName, cr.Coord)
	if blob, err := decodedChunkCache.Get(key); err == nil {
		return blob, nil
	}

	raw, err := r.rawChunkAt(*cr)
	if err != nil {
		return nil, err
	}
	plain, err := DecodeStack(vr.Meta.Filters, elemWidth(vr.Meta.Type), raw)
	if err != nil {
		return nil, err
	}
	decodedChunkCache.Set(key, plain)
	return plain, nil
}
