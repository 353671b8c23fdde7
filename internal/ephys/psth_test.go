package ephys

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat"
)

func TestEdgesMatchArange(t *testing.T) {
	edges := DefaultPsthParams().Edges()
	if len(edges) != 150 {
		t.Fatalf("len=%d want=150", len(edges))
	}
	if edges[0] != -3 || math.Abs(edges[149]-2.96) > 1e-9 {
		t.Fatalf("first=%v last=%v", edges[0], edges[149])
	}
}

func TestHistogramClosesLastBin(t *testing.T) {
	edges := []float64{0, 1, 2, 3}
	got := Histogram([]float64{-1, 0, 0.5, 1, 2.5, 3, 3.5, math.NaN()}, edges)
	want := []int{2, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("counts=%v want=%v", got, want)
		}
	}
}

func TestPsthNoTrialsIsNil(t *testing.T) {
	rate, edges := Psth(nil, DefaultPsthParams())
	if rate != nil || edges != nil {
		t.Fatalf("rate=%v edges=%v want nil", rate, edges)
	}
}

func TestPsthUniformRate(t *testing.T) {
	const (
		trials = 10
		dt     = 0.01 // 100 Hz
	)
	var spikes [][]float64
	for tr := 0; tr < trials; tr++ {
		var s []float64
		for k := 0; k < 600; k++ {
			s = append(s, -3+(float64(k)+0.5)*dt)
		}
		spikes = append(spikes, s)
	}
	p := DefaultPsthParams()
	rate, edges := Psth(spikes, p)
	if len(rate) != 149 || len(edges) != 149 {
		t.Fatalf("len rate=%d edges=%d", len(rate), len(edges))
	}
	if mean := stat.Mean(rate, nil); math.Abs(mean-100) > 1/p.BinSize {
		t.Fatalf("mean rate=%v want ~100", mean)
	}
	if math.Abs(edges[0]-(-2.96)) > 1e-9 {
		t.Fatalf("first right edge=%v", edges[0])
	}
}

func TestPsthPerTrial(t *testing.T) {
	p := PsthParams{XMin: 0, XMax: 1, BinSize: 0.5}
	rates, edges := PsthPerTrial([][]float64{{0.1}, {}}, p)
	if len(rates) != 2 || len(edges) != 1 {
		t.Fatalf("rates=%v edges=%v", rates, edges)
	}
	if rates[0][0] != 2 || rates[1][0] != 0 {
		t.Fatalf("rates=%v", rates)
	}
}
