package ctr

import "testing"

func TestClassify(t *testing.T) {
	dims := []DimMeta{{Name: "time", Extent: 10, Unlimited: true}, {Name: "lat", Extent: 721}, {Name: "lon", Extent: 1440}}

	cases := []struct {
		v    VarMeta
		want Class
	}{
		{VarMeta{Name: "lat", Type: F32, Shape: []int64{721}}, ClassCoordinate},
		{VarMeta{Name: "x", Type: I32, Shape: []int64{10, 721, 1440}}, ClassNonFloat32},
		{VarMeta{Name: "scalar", Type: F32, Shape: []int64{}}, ClassScalar},
		{VarMeta{Name: "field2d", Type: F32, Shape: []int64{721, 1440}}, ClassSmall},
		{VarMeta{Name: "field3d", Type: F32, Shape: []int64{10, 721, 1440}}, ClassLarge},
	}
	for _, c := range cases {
		if got := Classify(c.v, dims); got != c.want {
			t.Errorf("Classify(%s) = %v, want %v", c.v.Name, got, c.want)
		}
	}
}

func TestIsRecordVariable(t *testing.T) {
	dims := []DimMeta{{Name: "time", Extent: 10, Unlimited: true}, {Name: "lat", Extent: 721}, {Name: "lon", Extent: 1440}}
	rec := VarMeta{Name: "temp", Type: F32, Shape: []int64{10, 721, 1440}, DimNames: []string{"time", "lat", "lon"}}
	nonrec := VarMeta{Name: "lat", Type: F32, Shape: []int64{721}, DimNames: []string{"lat"}}

	if !IsRecordVariable(rec, dims) {
		t.Error("expected temp to be a record variable")
	}
	if RecordAxis(rec, dims) != 0 {
		t.Errorf("RecordAxis = %d, want 0", RecordAxis(rec, dims))
	}
	if IsRecordVariable(nonrec, dims) {
		t.Error("expected lat not to be a record variable")
	}
}
