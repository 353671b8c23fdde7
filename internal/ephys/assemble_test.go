package ephys

import (
	"errors"
	"testing"
)

func synthetic() SortedSpikes {
	return SortedSpikes{
		Units:        []int{-1, 3, 0, 5, 3, -1, 5, 3},
		Times:        []float64{100, 200, 300, 400, 500, 600, 700, 800},
		Sites:        []int{9, 1, 9, 2, 1, 9, 2, 1},
		Depths:       []float64{-9, 10, -9, 20, 11, -9, 21, 12},
		SamplingRate: 100,
		Notes:        []string{"good", "multi"},
		PosX:         []float64{1, 2},
		PosY:         []float64{3, 4},
		Amp:          []float64{50, 60},
		SNR:          []float64{5, 6},
		MaxSites:     []int{1, 3},
		Waveforms:    Waveforms{Data: []float64{1, 2, 3, 4, 5, 6, 7, 8}, Clusters: 2, Channels: 2, Samples: 2},
	}
}

func TestAssembleExcludesNoise(t *testing.T) {
	units, err := Assemble(synthetic(), []int{101, 102, 103})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(units) != 2 || units[0].Unit != 3 || units[1].Unit != 5 {
		t.Fatalf("units=%+v want ids 3,5", units)
	}
	for _, u := range units {
		for _, d := range u.SpikeDepths {
			if d == -9 {
				t.Fatalf("unit %d carries a noise spike", u.Unit)
			}
		}
	}
}

func TestAssembleKeepsArraysCoIndexed(t *testing.T) {
	units, err := Assemble(synthetic(), []int{101, 102, 103})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	for _, u := range units {
		if len(u.SpikeTimes) != len(u.SpikeSites) || len(u.SpikeTimes) != len(u.SpikeDepths) {
			t.Fatalf("unit %d lengths %d/%d/%d", u.Unit, len(u.SpikeTimes), len(u.SpikeSites), len(u.SpikeDepths))
		}
	}
	u3 := units[0]
	wantTimes := []float64{2, 5, 8}
	wantDepths := []float64{10, 11, 12}
	for i := range wantTimes {
		if u3.SpikeTimes[i] != wantTimes[i] || u3.SpikeDepths[i] != wantDepths[i] {
			t.Fatalf("unit 3 times=%v depths=%v", u3.SpikeTimes, u3.SpikeDepths)
		}
	}
}

func TestAssemblePairsMetadataByPosition(t *testing.T) {
	units, err := Assemble(synthetic(), []int{101, 102, 103})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	u5 := units[1]
	if u5.Quality != "multi" || u5.Electrode != 103 || u5.Amp != 60 || u5.PosY != 4 {
		t.Fatalf("unit 5=%+v", u5)
	}
	if len(u5.Waveform) != 4 || u5.Waveform[0] != 5 {
		t.Fatalf("waveform=%v", u5.Waveform)
	}
}

func TestAssembleScenarioSingleUnit(t *testing.T) {
	in := SortedSpikes{
		Units:        []int{-1, -1, 2, 2, 2},
		Times:        []float64{10, 20, 30, 40, 50},
		Sites:        []int{1, 1, 1, 1, 1},
		Depths:       []float64{0, 0, 0, 0, 0},
		SamplingRate: 100,
		Notes:        []string{"all"},
		PosX:         []float64{0},
		PosY:         []float64{0},
		Amp:          []float64{0},
		SNR:          []float64{0},
		MaxSites:     []int{1},
		Waveforms:    Waveforms{Data: []float64{0}, Clusters: 1, Channels: 1, Samples: 1},
	}
	units, err := Assemble(in, []int{7})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(units) != 1 || units[0].Unit != 2 {
		t.Fatalf("units=%+v", units)
	}
	want := []float64{0.3, 0.4, 0.5}
	for i, v := range want {
		if got := units[0].SpikeTimes[i]; got != v {
			t.Fatalf("spike_times=%v want=%v", units[0].SpikeTimes, want)
		}
	}
}

func TestAssembleElectrodeMappingError(t *testing.T) {
	_, err := Assemble(synthetic(), []int{101, 102})
	if !errors.Is(err, ErrElectrodeMapping) {
		t.Fatalf("err=%v want ErrElectrodeMapping", err)
	}
}

func TestAssembleMetadataMismatch(t *testing.T) {
	in := synthetic()
	in.Amp = in.Amp[:1]
	if _, err := Assemble(in, []int{101, 102, 103}); !errors.Is(err, ErrMetadataMismatch) {
		t.Fatalf("err=%v want ErrMetadataMismatch", err)
	}
	in = synthetic()
	in.Depths = in.Depths[:3]
	if _, err := Assemble(in, []int{101, 102, 103}); !errors.Is(err, ErrMetadataMismatch) {
		t.Fatalf("err=%v want ErrMetadataMismatch", err)
	}
}
