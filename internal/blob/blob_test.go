package blob

import (
	"math"
	"testing"
)

func TestFloat64sNilIsNull(t *testing.T) {
	var f Float64s
	v, err := f.Value()
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if v != nil {
		t.Fatalf("value=%v want nil", v)
	}
	var back Float64s = Float64s{1}
	if err := back.Scan(nil); err != nil {
		t.Fatalf("scan nil err=%v", err)
	}
	if back != nil {
		t.Fatalf("scan nil gave %v", back)
	}
}

func TestFloat64sKeepsEmptyDistinctFromNull(t *testing.T) {
	f := Float64s{}
	v, err := f.Value()
	if err != nil || v == nil {
		t.Fatalf("value=%v err=%v want non-nil payload", v, err)
	}
	var back Float64s
	if err := back.Scan(v); err != nil {
		t.Fatalf("scan err=%v", err)
	}
	if back == nil || len(back) != 0 {
		t.Fatalf("back=%#v want empty non-nil", back)
	}
}

func TestFloat64sPreservesNaN(t *testing.T) {
	f := Float64s{0.3, math.NaN(), -2.5}
	v, _ := f.Value()
	var back Float64s
	if err := back.Scan(v); err != nil {
		t.Fatalf("scan err=%v", err)
	}
	if len(back) != 3 || back[0] != 0.3 || !math.IsNaN(back[1]) || back[2] != -2.5 {
		t.Fatalf("back=%v", back)
	}
}

func TestScanRejectsWrongFormat(t *testing.T) {
	ints := Int64s{1, 2, 3}
	v, _ := ints.Value()
	var f Float64s
	if err := f.Scan(v); err == nil {
		t.Fatalf("expected format error")
	}
	var back Int64s
	if err := back.Scan(v); err != nil {
		t.Fatalf("scan err=%v", err)
	}
	if len(back) != 3 || back[2] != 3 {
		t.Fatalf("back=%v", back)
	}
}
