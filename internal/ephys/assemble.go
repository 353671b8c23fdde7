// Package ephys holds the pure per-unit computations: turning sorter output
// into units, spike statistics, PSTHs and waveform-based cell typing.
package ephys

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrElectrodeMapping = errors.New("ephys: max-amplitude site has no electrode in the channel map")
	ErrMetadataMismatch = errors.New("ephys: sorter arrays do not line up")
)

// Waveforms is a cluster × channel × sample tensor in row-major order.
type Waveforms struct {
	Data     []float64
	Clusters int
	Channels int
	Samples  int
}

// Slab returns the channel × sample block of cluster i.
func (w Waveforms) Slab(i int) []float64 {
	size := w.Channels * w.Samples
	if i < 0 || i >= w.Clusters || (i+1)*size > len(w.Data) {
		return nil
	}
	out := make([]float64, size)
	copy(out, w.Data[i*size:(i+1)*size])
	return out
}

// SortedSpikes is raw sorter output. Per-spike slices are co-indexed; the
// per-cluster slices pair by position with the ascending surviving unit ids.
type SortedSpikes struct {
	Units        []int
	Times        []float64 // samples
	Sites        []int
	Depths       []float64
	SamplingRate float64

	Notes     []string
	PosX      []float64
	PosY      []float64
	Amp       []float64
	SNR       []float64
	MaxSites  []int // 1-based site index
	Waveforms Waveforms
}

type AssembledUnit struct {
	Unit        int
	Quality     string
	Electrode   int
	PosX        float64
	PosY        float64
	Amp         float64
	SNR         float64
	SpikeTimes  []float64 // seconds
	SpikeSites  []int
	SpikeDepths []float64
	Waveform    []float64
	Channels    int
	Samples     int
}

// Assemble drops noise (unit id <= 0), converts spike samples to seconds and
// groups spikes per unit in their original order. channelMap maps a 1-based
// site to an electrode.
func Assemble(in SortedSpikes, channelMap []int) ([]AssembledUnit, error) {
	n := len(in.Units)
	if len(in.Times) != n || len(in.Sites) != n || len(in.Depths) != n {
		return nil, fmt.Errorf("%w: %d unit ids, %d times, %d sites, %d depths",
			ErrMetadataMismatch, n, len(in.Times), len(in.Sites), len(in.Depths))
	}
	if in.SamplingRate <= 0 {
		return nil, fmt.Errorf("ephys: sampling rate %v", in.SamplingRate)
	}

	byUnit := map[int]*AssembledUnit{}
	var ids []int
	for i, id := range in.Units {
		if id <= 0 {
			continue
		}
		u, ok := byUnit[id]
		if !ok {
			u = &AssembledUnit{Unit: id}
			byUnit[id] = u
			ids = append(ids, id)
		}
		u.SpikeTimes = append(u.SpikeTimes, in.Times[i]/in.SamplingRate)
		u.SpikeSites = append(u.SpikeSites, in.Sites[i])
		u.SpikeDepths = append(u.SpikeDepths, in.Depths[i])
	}
	sort.Ints(ids)

	k := len(ids)
	for _, c := range []struct {
		name string
		n    int
	}{
		{"notes", len(in.Notes)},
		{"posx", len(in.PosX)},
		{"posy", len(in.PosY)},
		{"amp", len(in.Amp)},
		{"snr", len(in.SNR)},
		{"max sites", len(in.MaxSites)},
		{"waveforms", in.Waveforms.Clusters},
	} {
		if c.n < k {
			return nil, fmt.Errorf("%w: %s has %d entries for %d units", ErrMetadataMismatch, c.name, c.n, k)
		}
	}

	out := make([]AssembledUnit, 0, k)
	for pos, id := range ids {
		u := byUnit[id]
		site := in.MaxSites[pos]
		if site < 1 || site > len(channelMap) {
			return nil, fmt.Errorf("%w: unit %d site %d, %d channels", ErrElectrodeMapping, id, site, len(channelMap))
		}
		u.Electrode = channelMap[site-1]
		u.Quality = in.Notes[pos]
		u.PosX = in.PosX[pos]
		u.PosY = in.PosY[pos]
		u.Amp = in.Amp[pos]
		u.SNR = in.SNR[pos]
		u.Waveform = in.Waveforms.Slab(pos)
		u.Channels = in.Waveforms.Channels
		u.Samples = in.Waveforms.Samples
		out = append(out, *u)
	}
	return out, nil
}
