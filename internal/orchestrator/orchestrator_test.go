// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package orchestrator

import (
	"bytes"
	"encoding/binary"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/huanglangwen/bitround-go/internal/ctr"
	"github.com/huanglangwen/bitround-go/internal/ctr/ndc"
	"github.com/huanglangwen/bitround-go/internal/keepbits"
)

func floatBuf(vs []float32) []byte {
	buf := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.NativeEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func bufFloats(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.NativeEndian.Uint32(buf[i*4:]))
	}
	return out
}

func newNDC(t *testing.T) (*ndc.Writer, string) {
	path := filepath.Join(t.TempDir(), "test.ndc")
	w, err := ndc.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	return w, path
}

func reopen(t *testing.T, path string) *ndc.Reader {
	r, err := ndc.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// buildSampleContainer writes a coordinate, a small 2-D float32 variable,
// a large 3-D float32 variable and an integer variable, covering every
// branch of ctr.Classify/ClassifyAnalyzable except the scalar one.
func buildSampleContainer(t *testing.T) string {
	w, path := newNDC(t)
	if err := w.CreateDimension(ctr.DimMeta{Name: "z", Extent: 3}); err != nil {
		t.Fatal(err)
	}
	if err := w.CreateDimension(ctr.DimMeta{Name: "y", Extent: 2}); err != nil {
		t.Fatal(err)
	}
	if err := w.CreateDimension(ctr.DimMeta{Name: "x", Extent: 2}); err != nil {
		t.Fatal(err)
	}

	if err := w.CreateVar(ctr.VarMeta{Name: "z", Type: ctr.F32, Shape: []int64{3}, DimNames: []string{"z"}}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteAll("z", floatBuf([]float32{0, 1, 2})); err != nil {
		t.Fatal(err)
	}

	small := ctr.VarMeta{Name: "temp2d", Type: ctr.F32, Shape: []int64{2, 2}, DimNames: []string{"y", "x"}}
	if err := w.CreateVar(small); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteAll("temp2d", floatBuf([]float32{1.23456, -2.34567, 3.45678, -4.56789})); err != nil {
		t.Fatal(err)
	}

	large := ctr.VarMeta{
		Name: "cube3d", Type: ctr.F32, Shape: []int64{3, 2, 2},
		DimNames: []string{"z", "y", "x"}, ChunkShape: []int64{1, 2, 2},
	}
	if err := w.CreateVar(large); err != nil {
		t.Fatal(err)
	}
	vals := make([]float32, 12)
	for i := range vals {
		vals[i] = float32(i) + 0.123456
	}
	if err := w.WriteAll("cube3d", floatBuf(vals)); err != nil {
		t.Fatal(err)
	}

	ints := ctr.VarMeta{Name: "counts", Type: ctr.I32, Shape: []int64{2, 2}, DimNames: []string{"y", "x"}}
	if err := w.CreateVar(ints); err != nil {
		t.Fatal(err)
	}
	ibuf := make([]byte, 16)
	for i, v := range []int32{1, 2, 3, 4} {
		binary.NativeEndian.PutUint32(ibuf[i*4:], uint32(v))
	}
	if err := w.WriteAll("counts", ibuf); err != nil {
		t.Fatal(err)
	}

	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAnalyzeClassifiesAndCountsVariables(t *testing.T) {
	path := buildSampleContainer(t)
	r := reopen(t, path)

	var out bytes.Buffer
	tally, err := Analyze(r, &out)
	if err != nil {
		t.Fatal(err)
	}

	// z: coordinate (skipped), temp2d: rank<=2 whole, cube3d: rank 3 by
	// slab, counts: integer, rank<=2, analyzable, whole.
	if tally.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", tally.Skipped)
	}
	if tally.WholeProcessed != 2 {
		t.Errorf("WholeProcessed = %d, want 2", tally.WholeProcessed)
	}
	if tally.SlabProcessed != 1 {
		t.Errorf("SlabProcessed = %d, want 1", tally.SlabProcessed)
	}

	report := out.String()
	if !strings.Contains(report, "z") || !strings.Contains(report, "skipped: coordinate") {
		t.Errorf("coordinate skip line missing:\n%s", report)
	}
	if !strings.Contains(report, "cube3d") || !strings.Contains(report, "[0,:,:]") {
		t.Errorf("slab-labeled row missing for cube3d:\n%s", report)
	}
	// counts is an integer variable: it must reach the bit-pattern pass
	// rather than being dropped as non-float32 (the ClassifyAnalyzable fix).
	if !strings.Contains(report, "counts") {
		t.Fatalf("counts variable missing from report:\n%s", report)
	}
	for _, line := range strings.Split(report, "\n") {
		if strings.HasPrefix(line, "counts") && strings.Contains(line, "skipped") {
			t.Errorf("counts was skipped, want it analyzed: %q", line)
		}
	}
}

func TestSizeStatClassifiesAndGroups(t *testing.T) {
	path := buildSampleContainer(t)
	r := reopen(t, path)

	var out bytes.Buffer
	stats, err := SizeStat(r, path, &out)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 4 {
		t.Fatalf("len(stats) = %d, want 4", len(stats))
	}

	byName := make(map[string]VarSizeStat, len(stats))
	for _, s := range stats {
		byName[s.Name] = s
	}
	if byName["z"].Class != ctr.ClassCoordinate {
		t.Errorf("z class = %v, want coordinate", byName["z"].Class)
	}
	if byName["temp2d"].Class != ctr.ClassSmall {
		t.Errorf("temp2d class = %v, want small", byName["temp2d"].Class)
	}
	if byName["cube3d"].Class != ctr.ClassLarge {
		t.Errorf("cube3d class = %v, want large", byName["cube3d"].Class)
	}
	// SizeStat uses plain Classify, not ClassifyAnalyzable: an integer
	// variable still falls into the "other"/non-float32 bucket.
	if byName["counts"].Class != ctr.ClassNonFloat32 {
		t.Errorf("counts class = %v, want non-float32", byName["counts"].Class)
	}
	if byName["cube3d"].UncompressedSize != 12*4 {
		t.Errorf("cube3d uncompressed = %d, want 48", byName["cube3d"].UncompressedSize)
	}

	report := out.String()
	if !strings.Contains(report, "-- 3-D+ --") {
		t.Errorf("missing 3-D+ group header:\n%s", report)
	}
	if !strings.Contains(report, "-- 2-D --") {
		t.Errorf("missing 2-D group header:\n%s", report)
	}
}

func TestSizeStatMergesNonFloatAndScalarIntoOneOtherGroup(t *testing.T) {
	w, path := newNDC(t)
	if err := w.CreateDimension(ctr.DimMeta{Name: "y", Extent: 2}); err != nil {
		t.Fatal(err)
	}
	if err := w.CreateDimension(ctr.DimMeta{Name: "x", Extent: 2}); err != nil {
		t.Fatal(err)
	}

	ints := ctr.VarMeta{Name: "counts", Type: ctr.I32, Shape: []int64{2, 2}, DimNames: []string{"y", "x"}}
	if err := w.CreateVar(ints); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteAll("counts", make([]byte, 16)); err != nil {
		t.Fatal(err)
	}

	scalar := ctr.VarMeta{Name: "offset", Type: ctr.F32, Shape: []int64{}}
	if err := w.CreateVar(scalar); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteAll("offset", floatBuf([]float32{42})); err != nil {
		t.Fatal(err)
	}

	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	r := reopen(t, path)
	var out bytes.Buffer
	if _, err := SizeStat(r, path, &out); err != nil {
		t.Fatal(err)
	}

	report := out.String()
	if n := strings.Count(report, "-- other --"); n != 1 {
		t.Fatalf("report has %d 'other' sections, want exactly 1:\n%s", n, report)
	}
	// Both variables land in the single other group, ranked against each
	// other by on-disk size: counts (16 bytes) ahead of offset (4 bytes).
	countsAt := strings.Index(report, "counts")
	offsetAt := strings.Index(report, "offset")
	otherAt := strings.Index(report, "-- other --")
	if countsAt < otherAt || offsetAt < otherAt {
		t.Fatalf("counts/offset printed outside the other group:\n%s", report)
	}
	if countsAt > offsetAt {
		t.Fatalf("counts (16 bytes on disk) must rank ahead of offset (4 bytes):\n%s", report)
	}
}

func TestBitroundRewritesFloatVariablesAndPassesThroughOthers(t *testing.T) {
	srcPath := buildSampleContainer(t)
	r := reopen(t, srcPath)

	w, dstPath := newNDC(t)
	opts := BitroundOptions{Inflevel: 0.99, Rule: keepbits.TailFilteredCDF}
	var out bytes.Buffer
	report, err := Bitround(r, w, opts, &out)
	if err != nil {
		t.Fatal(err)
	}

	byName := make(map[string]VarNSBStat, len(report))
	for _, s := range report {
		byName[s.Name] = s
	}
	if s, ok := byName["z"]; !ok || !s.Passthrough {
		t.Errorf("z: want passthrough (coordinate), got %+v", byName["z"])
	}
	if s, ok := byName["counts"]; !ok || !s.Passthrough {
		t.Errorf("counts: want passthrough (non-float32), got %+v", byName["counts"])
	}
	if s, ok := byName["temp2d"]; !ok || s.Passthrough {
		t.Errorf("temp2d: want bit-rounded, got %+v", byName["temp2d"])
	} else if s.Min < 1 || s.Max > 23 {
		t.Errorf("temp2d: nsb out of range: %+v", s)
	}
	if s, ok := byName["cube3d"]; !ok || s.Passthrough {
		t.Errorf("cube3d: want bit-rounded, got %+v", byName["cube3d"])
	}

	r2 := reopen(t, dstPath)
	got := bufFloats(mustReadAll(t, r2, "z"))
	want := []float32{0, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("z[%d] = %v, want %v (passthrough must be bit-exact)", i, got[i], want[i])
		}
	}

	// Four samples give a free-entropy floor of 1 bit, so every MI entry is
	// zeroed, the selector keeps all 23 mantissa bits and rounding leaves
	// every value bit-exact.
	rounded := bufFloats(mustReadAll(t, r2, "temp2d"))
	original := []float32{1.23456, -2.34567, 3.45678, -4.56789}
	for i := range original {
		if rounded[i] != original[i] {
			t.Errorf("temp2d[%d] = %v, want %v (nsb=23 keeps every bit)", i, rounded[i], original[i])
		}
		if math.Signbit(float64(rounded[i])) != math.Signbit(float64(original[i])) {
			t.Errorf("temp2d[%d] sign changed", i)
		}
	}
}

func TestBitroundInvalidOptionsRejected(t *testing.T) {
	path := buildSampleContainer(t)
	r := reopen(t, path)
	w, _ := newNDC(t)

	if _, err := Bitround(r, w, BitroundOptions{Inflevel: 1.5}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for inflevel outside [0,1]")
	}
	if _, err := Bitround(r, w, BitroundOptions{Inflevel: 0.99, Complevel: 10}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for complevel outside [1,9]")
	}
}

func TestBitroundSkipsSlabsContainingMissingValue(t *testing.T) {
	w, path := newNDC(t)
	if err := w.CreateDimension(ctr.DimMeta{Name: "x", Extent: 4}); err != nil {
		t.Fatal(err)
	}
	fill := float32(-9999)
	v := ctr.VarMeta{Name: "v", Type: ctr.F32, Shape: []int64{4}, DimNames: []string{"x"}, FillValue: &fill}
	if err := w.CreateVar(v); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteAll("v", floatBuf([]float32{1.5, fill, 2.5, 3.5})); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	r := reopen(t, path)
	w2, dstPath := newNDC(t)
	var out bytes.Buffer
	report, err := Bitround(r, w2, BitroundOptions{Inflevel: 0.99}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if len(report) != 1 || !report[0].Passthrough || report[0].Reason != "contains missing" {
		t.Fatalf("report = %+v, want a single 'contains missing' passthrough", report)
	}

	r2 := reopen(t, dstPath)
	got := bufFloats(mustReadAll(t, r2, "v"))
	want := []float32{1.5, fill, 2.5, 3.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("v[%d] = %v, want %v (missing-value slab must pass through untouched)", i, got[i], want[i])
		}
	}
}

func TestBitroundContaminatedSlabPassesWholeVariableThrough(t *testing.T) {
	// 3-D variable, three slabs along the leading axis; only the middle
	// slab carries the fill value. The whole variable must still come out
	// bit-exact, including the first slab, which the rounding walk rewrites
	// before it discovers the contamination.
	w, path := newNDC(t)
	for _, d := range []ctr.DimMeta{{Name: "z", Extent: 3}, {Name: "y", Extent: 2}, {Name: "x", Extent: 2}} {
		if err := w.CreateDimension(d); err != nil {
			t.Fatal(err)
		}
	}
	fill := float32(-9999)
	v := ctr.VarMeta{
		Name: "cube", Type: ctr.F32, Shape: []int64{3, 2, 2},
		DimNames: []string{"z", "y", "x"}, ChunkShape: []int64{1, 2, 2},
		FillValue: &fill,
	}
	if err := w.CreateVar(v); err != nil {
		t.Fatal(err)
	}
	vals := []float32{
		1.234567, 2.345678, 3.456789, 4.567891,
		5.678912, fill, 7.891234, 8.912345,
		9.123456, 10.234567, 11.345678, 12.456789,
	}
	if err := w.WriteAll("cube", floatBuf(vals)); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	r := reopen(t, path)
	w2, dstPath := newNDC(t)
	report, err := Bitround(r, w2, BitroundOptions{Inflevel: 0.99}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report) != 1 || !report[0].Passthrough || report[0].Reason != "contains missing" {
		t.Fatalf("report = %+v, want a single 'contains missing' passthrough", report)
	}

	r2 := reopen(t, dstPath)
	got := bufFloats(mustReadAll(t, r2, "cube"))
	for i := range vals {
		if got[i] != vals[i] {
			t.Errorf("cube[%d] = %v, want %v (contaminated variable must be copied unchanged)", i, got[i], vals[i])
		}
	}
}

func mustReadAll(t *testing.T, r ctr.Reader, name string) []byte {
	t.Helper()
	buf, err := r.ReadAll(name)
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

// buildRecordContainer writes a single record variable "series" (unlimited
// dimension "t", chunk extent 4) holding n consecutive float32 values.
func buildRecordContainer(t *testing.T, n int64, values []float32) string {
	w, path := newNDC(t)
	if err := w.CreateDimension(ctr.DimMeta{Name: "t", Extent: n, Unlimited: true}); err != nil {
		t.Fatal(err)
	}
	v := ctr.VarMeta{Name: "series", Type: ctr.F32, Shape: []int64{n}, DimNames: []string{"t"}, ChunkShape: []int64{4}}
	if err := w.CreateVar(v); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteAll("series", floatBuf(values)); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConcatAppendsRecordVariablesAcrossAMisalignedBoundary(t *testing.T) {
	// F1 has 6 elements (chunk extent 4: one full chunk [0,4), one short
	// trailing chunk [4,6)) so F2's data must land unaligned, exercising
	// the hyperslab fallback end to end through the orchestrator.
	f1vals := []float32{0, 1, 2, 3, 4, 5}
	f2vals := []float32{6, 7, 8, 9, 10}
	p1 := buildRecordContainer(t, 6, f1vals)
	p2 := buildRecordContainer(t, 5, f2vals)

	r1 := reopen(t, p1)
	r2 := reopen(t, p2)

	w, dstPath := newNDC(t)
	err := Concat([]ctr.Reader{r1, r2}, w, []string{"bitround-concat", "a.ndc", "b.ndc"}, true)
	if err != nil {
		t.Fatal(err)
	}

	rOut := reopen(t, dstPath)
	got := bufFloats(mustReadAll(t, rOut, "series"))
	if len(got) != 11 {
		t.Fatalf("len = %d, want 11", len(got))
	}
	want := append(append([]float32{}, f1vals...), f2vals...)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("series[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	attrs, err := rOut.Attributes("")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, a := range attrs {
		if a.Name == "history" {
			found = true
			if s, ok := a.Value.(string); !ok || !strings.Contains(s, "bitround-concat a.ndc b.ndc") {
				t.Errorf("history attribute = %v, want it to contain the argv", a.Value)
			}
		}
	}
	if !found {
		t.Error("history attribute not set")
	}
}

func TestConcatRejectsFewerThanTwoInputs(t *testing.T) {
	p1 := buildRecordContainer(t, 4, []float32{0, 1, 2, 3})
	r1 := reopen(t, p1)
	w, _ := newNDC(t)
	err := Concat([]ctr.Reader{r1}, w, nil, false)
	if err == nil {
		t.Fatal("expected error for fewer than two inputs")
	}
}

func TestConcatRejectsSchemaMismatch(t *testing.T) {
	p1 := buildRecordContainer(t, 4, []float32{0, 1, 2, 3})
	r1 := reopen(t, p1)

	w2, p2 := newNDC(t)
	if err := w2.CreateDimension(ctr.DimMeta{Name: "t", Extent: 4, Unlimited: true}); err != nil {
		t.Fatal(err)
	}
	mismatched := ctr.VarMeta{Name: "series", Type: ctr.F64, Shape: []int64{4}, DimNames: []string{"t"}, ChunkShape: []int64{4}}
	if err := w2.CreateVar(mismatched); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 32)
	if err := w2.WriteAll("series", buf); err != nil {
		t.Fatal(err)
	}
	if err := w2.Flush(); err != nil {
		t.Fatal(err)
	}
	r2 := reopen(t, p2)

	w, _ := newNDC(t)
	err := Concat([]ctr.Reader{r1, r2}, w, nil, false)
	if err == nil {
		t.Fatal("expected SchemaMismatch error for differing element types")
	}
}
