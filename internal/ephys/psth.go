package ephys

import (
	"math"
	"sort"
)

type PsthParams struct {
	XMin    float64
	XMax    float64
	BinSize float64
}

func DefaultPsthParams() PsthParams {
	return PsthParams{XMin: -3, XMax: 3, BinSize: 0.04}
}

// Edges returns xmin + i*binsize for every value below xmax.
func (p PsthParams) Edges() []float64 {
	if p.BinSize <= 0 || p.XMax <= p.XMin {
		return nil
	}
	n := int(math.Ceil((p.XMax - p.XMin) / p.BinSize))
	edges := make([]float64, n)
	for i := range edges {
		edges[i] = p.XMin + float64(i)*p.BinSize
	}
	return edges
}

// Histogram counts values into [edges[i], edges[i+1]) with the last bin
// closed on the right. Values outside the edges are ignored.
func Histogram(values, edges []float64) []int {
	if len(edges) < 2 {
		return nil
	}
	counts := make([]int, len(edges)-1)
	lo, hi := edges[0], edges[len(edges)-1]
	for _, v := range values {
		if math.IsNaN(v) || v < lo || v > hi {
			continue
		}
		if v == hi {
			counts[len(counts)-1]++
			continue
		}
		i := sort.SearchFloat64s(edges, v)
		if edges[i] != v {
			i--
		}
		counts[i]++
	}
	return counts
}

// Psth bins the concatenated spikes of all trials and scales to a rate:
// count / (trials * binsize). Rates pair with the right bin edges. It
// returns nil slices when there are no trials.
func Psth(trials [][]float64, p PsthParams) (rate, rightEdges []float64) {
	if len(trials) == 0 {
		return nil, nil
	}
	edges := p.Edges()
	if len(edges) < 2 {
		return nil, nil
	}
	var all []float64
	for _, tr := range trials {
		all = append(all, tr...)
	}
	counts := Histogram(all, edges)
	rate = make([]float64, len(counts))
	scale := float64(len(trials)) * p.BinSize
	for i, c := range counts {
		rate[i] = float64(c) / scale
	}
	return rate, append([]float64(nil), edges[1:]...)
}

// PsthPerTrial returns one rate row (count / binsize) per trial.
func PsthPerTrial(trials [][]float64, p PsthParams) (rates [][]float64, rightEdges []float64) {
	if len(trials) == 0 {
		return nil, nil
	}
	edges := p.Edges()
	if len(edges) < 2 {
		return nil, nil
	}
	rates = make([][]float64, len(trials))
	for t, tr := range trials {
		counts := Histogram(tr, edges)
		row := make([]float64, len(counts))
		for i, c := range counts {
			row[i] = float64(c) / p.BinSize
		}
		rates[t] = row
	}
	return rates, append([]float64(nil), edges[1:]...)
}
