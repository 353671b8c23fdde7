package ephys

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// StatParams follows the isi_violations() convention of the Allen
// ecephys_spike_sorting quality metrics.
type StatParams struct {
	MinISI       float64 // duplicate spike threshold (s)
	ISIThreshold float64 // refractory violation threshold (s)
}

func DefaultStatParams() StatParams {
	return StatParams{MinISI: 0, ISIThreshold: 0.002}
}

// Train is one trial's spike times with the trial interval. Only the
// interval length is used, so spikes may be absolute or trial relative.
type Train struct {
	Spikes []float64
	Start  float64
	Stop   float64
}

// Stat holds the derived unit statistics; nil means undefined.
type Stat struct {
	ISIViolation  *float64
	AvgFiringRate *float64
	AvgCV2        *float64
}

// RemoveDuplicates drops every spike whose interval from its predecessor in
// the input train is <= minISI, keeping the earlier spike of each pair.
func RemoveDuplicates(spikes []float64, minISI float64) []float64 {
	out := make([]float64, 0, len(spikes))
	for i, t := range spikes {
		if i > 0 && t-spikes[i-1] <= minISI {
			continue
		}
		out = append(out, t)
	}
	return out
}

// UnitStat computes firing rate, ISI violation rate and CV2 for one unit.
// All trials of the clustering run must be present; a partial set yields
// rates that are too low.
func UnitStat(trains []Train, p StatParams) Stat {
	var (
		isis      []float64
		cv2s      []float64
		durations = make([]float64, 0, len(trains))
		spikes    int
	)
	for _, tr := range trains {
		trainISIs := diff(tr.Spikes)
		isis = append(isis, trainISIs...)
		for k := 1; k < len(trainISIs); k++ {
			a, b := trainISIs[k-1], trainISIs[k]
			if a+b == 0 {
				continue
			}
			cv2s = append(cv2s, 2*math.Abs(b-a)/(a+b))
		}
		spikes += len(RemoveDuplicates(tr.Spikes, p.MinISI))
		durations = append(durations, tr.Stop-tr.Start)
	}

	var out Stat
	total := floats.Sum(durations)
	if total > 0 {
		rate := float64(spikes) / total
		out.AvgFiringRate = &rate
	}
	if len(cv2s) > 0 {
		cv2 := stat.Mean(cv2s, nil)
		out.AvgCV2 = &cv2
	}
	if len(isis) == 0 || out.AvgFiringRate == nil || *out.AvgFiringRate == 0 {
		return out
	}

	violations := 0
	for _, isi := range isis {
		if isi < p.ISIThreshold {
			violations++
		}
	}
	violationTime := 2 * float64(spikes) * (p.ISIThreshold - p.MinISI)
	if violationTime == 0 {
		return out
	}
	fp := float64(violations) / violationTime / *out.AvgFiringRate
	out.ISIViolation = &fp
	return out
}

func diff(v []float64) []float64 {
	if len(v) < 2 {
		return nil
	}
	out := make([]float64, len(v)-1)
	for i := 1; i < len(v); i++ {
		out[i-1] = v[i] - v[i-1]
	}
	return out
}
