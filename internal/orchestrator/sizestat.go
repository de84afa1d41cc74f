// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package orchestrator

import (
	"fmt"
	"io"
	"sort"

	"github.com/huanglangwen/bitround-go/internal/ctr"
	"github.com/maypok86/otter/v2"
)

// chunkInfoCache memoizes Reader.ChunkInfo per (file tag, variable) for the
// life of the process. One SizeStat run looks each variable up once (the
// min/max/mean and on-disk total all come from that one lookup), so hits
// come from later SizeStat runs with the same tag.
var chunkInfoCache = otter.Must(&otter.Options[string, []ctr.ChunkInfo]{
	MaximumSize: 4096,
})

func cachedChunkInfo(r ctr.Reader, tag, varName string) ([]ctr.ChunkInfo, error) {
	key := tag + "\x00" + varName
	if e, ok := chunkInfoCache.GetEntry(key); ok {
		return e.Value, nil
	}
	ci, err := r.ChunkInfo(varName)
	if err != nil {
		return nil, err
	}
	chunkInfoCache.Set(key, ci)
	return ci, nil
}

// VarSizeStat is one variable's row in the size-stat report.
type VarSizeStat struct {
	Name             string
	Class            ctr.Class
	UncompressedSize int64
	OnDiskSize       int64
	MinChunk         int64
	MaxChunk         int64
	MeanChunk        float64
}

// SizeStat runs the size-statistics operation: per-variable
// uncompressed/on-disk sizes and chunk statistics, classified and sorted
// descending by on-disk size within each class, each row annotated with its
// proportion of the file total.
func SizeStat(r ctr.Reader, tag string, out io.Writer) ([]VarSizeStat, error) {
	dims := r.Dimensions()
	var stats []VarSizeStat
	var fileTotal int64

	for _, v := range r.Variables() {
		class := ctr.Classify(v, dims)
		ew := v.Type.ByteWidth()
		if ew == 0 {
			ew = 1
		}
		uncompressed := v.NumElements() * int64(ew)

		var onDisk int64
		var min, max int64
		var sum int64
		var n int64
		if len(v.ChunkShape) > 0 {
			ci, err := cachedChunkInfo(r, tag, v.Name)
			if err != nil {
				logSkip(newErr(ContainerIOError, v.Name, err.Error(), err))
				continue
			}
			for i, c := range ci {
				onDisk += c.PayloadSize
				sum += c.PayloadSize
				if i == 0 || c.PayloadSize < min {
					min = c.PayloadSize
				}
				if c.PayloadSize > max {
					max = c.PayloadSize
				}
			}
			n = int64(len(ci))
		} else {
			onDisk = uncompressed
			min, max, sum, n = onDisk, onDisk, onDisk, 1
		}

		mean := 0.0
		if n > 0 {
			mean = float64(sum) / float64(n)
		}

		stats = append(stats, VarSizeStat{
			Name:             v.Name,
			Class:            class,
			UncompressedSize: uncompressed,
			OnDiskSize:       onDisk,
			MinChunk:         min,
			MaxChunk:         max,
			MeanChunk:        mean,
		})
		fileTotal += onDisk
	}

	// Four report groups: non-float32 and scalar variables share the
	// "other" bucket and are ranked against each other in one sort.
	for _, label := range []string{"3-D+", "2-D", "coordinate", "other"} {
		var group []VarSizeStat
		for _, s := range stats {
			if classLabel(s.Class) == label {
				group = append(group, s)
			}
		}
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].OnDiskSize > group[j].OnDiskSize })

		fmt.Fprintf(out, "-- %s --\n", label)
		for _, s := range group {
			pct := 0.0
			if fileTotal > 0 {
				pct = 100 * float64(s.OnDiskSize) / float64(fileTotal)
			}
			fmt.Fprintf(out, "%-45s uncompressed=%d on-disk=%d (%.2f%%) chunk[min=%d max=%d mean=%.1f]\n",
				s.Name, s.UncompressedSize, s.OnDiskSize, pct, s.MinChunk, s.MaxChunk, s.MeanChunk)
		}
	}

	return stats, nil
}

func classLabel(c ctr.Class) string {
	switch c {
	case ctr.ClassLarge:
		return "3-D+"
	case ctr.ClassSmall:
		return "2-D"
	case ctr.ClassCoordinate:
		return "coordinate"
	default:
		return "other"
	}
}
