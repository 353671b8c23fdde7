package jrclust

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"ephyspipe/internal/models"
)

func tempResult(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "probe.spikes.mat")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func v3Container() *MemContainer {
	return NewMemContainer().
		Set("P/sRateHz", []float64{100}, 1, 1).
		Set("viTime_spk", []float64{10, 20, 30, 40, 50}).
		Set("viSite_spk", []float64{1, 1, 2, 2, 2}).
		Set("mrPos_spk", []float64{0, 0, 0, 0, 0, 5, 6, 7, 8, 9}, 2, 5).
		Set("S_clu/viClu", []float64{-1, -1, 2, 2, 2}).
		Set("S_clu/trWav_raw_clu", []float64{1, 2, 3, 4}, 1, 2, 2).
		SetStrings("S_clu/csNote_clu", []string{"single unit"}).
		Set("S_clu/vrPosX_clu", []float64{11}).
		Set("S_clu/vrPosY_clu", []float64{22}).
		Set("S_clu/vrVpp_uv_clu", []float64{90}).
		Set("S_clu/vrSnr_clu", []float64{4.5}).
		Set("S_clu/viSite_clu", []float64{2}, 1, 1)
}

func v4Container() *MemContainer {
	return NewMemContainer().
		Set("spikeTimes", []float64{10, 20}).
		Set("spikeSites", []float64{1, 2}).
		Set("spikePositions", []float64{3, 4}).
		Set("spikeClusters", []float64{1, 2}).
		Set("meanWfLocalRaw", []float64{0, 0, 0, 0}, 2, 1, 2).
		SetStrings("clusterNotes", []string{"multi", "\x00\x00"}, 2, 1).
		Set("clusterCentroids", []float64{1, 2, 3, 4}, 2, 2).
		Set("unitVppRaw", []float64{50, 60}).
		Set("clusterSites", []float64{1, 2}, 2, 1)
}

func openerFor(c Container) Opener {
	return func(string) (Container, error) { return c, nil }
}

func TestOpenDetectsVersion(t *testing.T) {
	path := tempResult(t)
	cases := []struct {
		name string
		c    Container
		want string
	}{
		{"v3", v3Container(), models.ClusteringJRCLUSTv3},
		{"v4", v4Container(), models.ClusteringJRCLUSTv4},
	}
	for _, tc := range cases {
		r, err := Open(path, openerFor(tc.c))
		if err != nil {
			t.Fatalf("%s: open err=%v", tc.name, err)
		}
		if r.Method != tc.want {
			t.Fatalf("%s: method=%q want=%q", tc.name, r.Method, tc.want)
		}
		if r.CreationTime.IsZero() {
			t.Fatalf("%s: creation time not set", tc.name)
		}
	}
}

func TestOpenRejectsUnknownLayout(t *testing.T) {
	c := NewMemContainer().Set("something", []float64{1})
	_, err := Open(tempResult(t), openerFor(c))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err=%v want ErrUnsupportedFormat", err)
	}
}

func TestDataV3FieldMapping(t *testing.T) {
	c := v3Container()
	r, err := Open(tempResult(t), openerFor(c))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d, err := r.Data()
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	if d.SamplingRate != 100 {
		t.Fatalf("rate=%v want=100", d.SamplingRate)
	}
	if len(d.SpikeTimes) != 5 || d.SpikeDepths[0] != 5 || d.SpikeDepths[4] != 9 {
		t.Fatalf("times=%v depths=%v", d.SpikeTimes, d.SpikeDepths)
	}
	if d.SpikeUnits[0] != -1 || d.SpikeUnits[2] != 2 {
		t.Fatalf("units=%v", d.SpikeUnits)
	}
	if len(d.Notes) != 1 || d.Notes[0] != models.QualityGood {
		t.Fatalf("notes=%v", d.Notes)
	}
	if d.MaxSites[0] != 2 || d.UnitSNR[0] != 4.5 {
		t.Fatalf("sites=%v snr=%v", d.MaxSites, d.UnitSNR)
	}
	if !c.Closed() {
		t.Fatalf("container left open after load")
	}
}

func TestDataV4SynthesizesSNRAndHasNoRate(t *testing.T) {
	r, err := Open(tempResult(t), openerFor(v4Container()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d, err := r.Data()
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	if d.SamplingRate != 0 {
		t.Fatalf("rate=%v want=0", d.SamplingRate)
	}
	if len(d.UnitSNR) != 2 || !math.IsNaN(d.UnitSNR[0]) || !math.IsNaN(d.UnitSNR[1]) {
		t.Fatalf("snr=%v want NaN x2", d.UnitSNR)
	}
	if d.UnitX[1] != 2 || d.UnitY[0] != 3 {
		t.Fatalf("x=%v y=%v", d.UnitX, d.UnitY)
	}
	if d.Notes[0] != models.QualityMulti || d.Notes[1] != models.QualityAll {
		t.Fatalf("notes=%v", d.Notes)
	}
}

func TestDataIsCached(t *testing.T) {
	calls := 0
	c := v3Container()
	open := func(string) (Container, error) {
		calls++
		if calls > 2 {
			return nil, errors.New("file gone")
		}
		return c, nil
	}
	r, err := Open(tempResult(t), open)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first, err := r.Data()
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	second, err := r.Data()
	if err != nil {
		t.Fatalf("cached data: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached view")
	}
}

func TestDecodeNote(t *testing.T) {
	cases := map[string]string{
		"single":        models.QualityGood,
		"single, clean": models.QualityGood,
		"ok":            models.QualityOK,
		"multi":         models.QualityMulti,
		"\x00\x00":      models.QualityAll,
		"":              models.QualityAll,
		"noise":         models.QualityAll,
		"a single":      models.QualityAll,
	}
	for in, want := range cases {
		if got := DecodeNote(in); got != want {
			t.Fatalf("DecodeNote(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestArrayRow(t *testing.T) {
	a := Array[float64]{Data: []float64{1, 2, 3, 4, 5, 6}, Dims: []int{2, 3}}
	r, err := a.Row(1)
	if err != nil || len(r) != 3 || r[0] != 4 {
		t.Fatalf("row=%v err=%v", r, err)
	}
	if _, err := a.Row(2); err == nil {
		t.Fatalf("expected out of range")
	}
}
