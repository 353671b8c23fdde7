// Package jrclust reads JRCLUST v3 and v4 spike-sorting result files.
package jrclust

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"ephyspipe/internal/models"
)

var ErrUnsupportedFormat = errors.New("jrclust: unsupported result format")

const (
	markerV3 = "S_clu"
	markerV4 = "spikeClusters"
)

// Data is the normalized content of one result file. Per-spike slices are
// co-indexed; per-cluster slices are indexed by cluster position.
type Data struct {
	Method string
	// SamplingRate is in Hz; v4 files do not carry it and leave it zero.
	SamplingRate float64
	SpikeTimes   []float64 // samples
	SpikeSites   []int
	SpikeDepths  []float64
	SpikeUnits   []int
	// Waveforms is cluster × channel × sample.
	Waveforms Array[float64]
	Notes     []string
	UnitX     []float64
	UnitY     []float64
	UnitAmp   []float64
	UnitSNR   []float64
	MaxSites  []int
}

// Reader detects the layout of a result file up front and loads the content
// on first use.
type Reader struct {
	Path         string
	Method       string
	CreationTime time.Time

	open Opener
	mu   sync.Mutex
	data *Data
}

// Open probes path for a version marker. The container is closed again
// before Open returns.
func Open(path string, open Opener) (*Reader, error) {
	c, err := open(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var method string
	switch {
	case c.Has(markerV3):
		method = models.ClusteringJRCLUSTv3
	case c.Has(markerV4):
		method = models.ClusteringJRCLUSTv4
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	created, err := changeTime(path)
	if err != nil {
		return nil, err
	}
	return &Reader{Path: path, Method: method, CreationTime: created, open: open}, nil
}

// Data loads and caches the result content. Repeated calls return the cached
// view without touching the file.
func (r *Reader) Data() (*Data, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data != nil {
		return r.data, nil
	}
	c, err := r.open(r.Path)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var d *Data
	switch r.Method {
	case models.ClusteringJRCLUSTv3:
		d, err = loadV3(c)
	case models.ClusteringJRCLUSTv4:
		d, err = loadV4(c)
	default:
		err = fmt.Errorf("%w: method %q", ErrUnsupportedFormat, r.Method)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Path, err)
	}
	r.data = d
	return d, nil
}

func loadV3(c Container) (*Data, error) {
	f := fields{c: c}
	d := &Data{Method: models.ClusteringJRCLUSTv3}

	hz := f.row("P/sRateHz", 0)
	if len(hz) > 0 {
		d.SamplingRate = hz[0]
	}
	d.SpikeTimes = f.row("viTime_spk", 0)
	d.SpikeSites = toInts(f.row("viSite_spk", 0))
	d.SpikeDepths = f.row("mrPos_spk", 1)
	d.SpikeUnits = toInts(f.row("S_clu/viClu", 0))
	d.Waveforms = f.array("S_clu/trWav_raw_clu")
	d.Notes = decodeNotes(f.stringRow("S_clu/csNote_clu", 0))
	d.UnitX = f.row("S_clu/vrPosX_clu", 0)
	d.UnitY = f.row("S_clu/vrPosY_clu", 0)
	d.UnitAmp = f.row("S_clu/vrVpp_uv_clu", 0)
	d.UnitSNR = f.row("S_clu/vrSnr_clu", 0)
	d.MaxSites = toInts(f.array("S_clu/viSite_clu").Data)
	if f.err != nil {
		return nil, f.err
	}
	return d, nil
}

func loadV4(c Container) (*Data, error) {
	f := fields{c: c}
	d := &Data{Method: models.ClusteringJRCLUSTv4}

	d.SpikeTimes = f.row("spikeTimes", 0)
	d.SpikeSites = toInts(f.row("spikeSites", 0))
	d.SpikeDepths = f.row("spikePositions", 0)
	d.SpikeUnits = toInts(f.row("spikeClusters", 0))
	d.Waveforms = f.array("meanWfLocalRaw")
	d.Notes = decodeNotes(f.strings("clusterNotes").Data)
	d.UnitX = f.row("clusterCentroids", 0)
	d.UnitY = f.row("clusterCentroids", 1)
	d.UnitAmp = f.row("unitVppRaw", 0)
	if c.Has("unitSNR") {
		d.UnitSNR = f.row("unitSNR", 0)
	} else {
		d.UnitSNR = make([]float64, len(d.UnitAmp))
		for i := range d.UnitSNR {
			d.UnitSNR[i] = math.NaN()
		}
	}
	d.MaxSites = toInts(f.array("clusterSites").Data)
	if f.err != nil {
		return nil, f.err
	}
	return d, nil
}

// fields reads datasets and keeps the first error.
type fields struct {
	c   Container
	err error
}

func (f *fields) array(name string) Array[float64] {
	if f.err != nil {
		return Array[float64]{}
	}
	a, err := f.c.Float64s(name)
	if err != nil {
		f.err = fmt.Errorf("%s: %w", name, err)
	}
	return a
}

func (f *fields) row(name string, i int) []float64 {
	a := f.array(name)
	if f.err != nil {
		return nil
	}
	r, err := a.Row(i)
	if err != nil {
		f.err = fmt.Errorf("%s: %w", name, err)
	}
	return r
}

func (f *fields) strings(name string) Array[string] {
	if f.err != nil {
		return Array[string]{}
	}
	a, err := f.c.Strings(name)
	if err != nil {
		f.err = fmt.Errorf("%s: %w", name, err)
	}
	return a
}

func (f *fields) stringRow(name string, i int) []string {
	a := f.strings(name)
	if f.err != nil {
		return nil
	}
	r, err := a.Row(i)
	if err != nil {
		f.err = fmt.Errorf("%s: %w", name, err)
	}
	return r
}

var noteLabels = []struct {
	prefix string
	label  string
}{
	{"single", models.QualityGood},
	{"ok", models.QualityOK},
	{"multi", models.QualityMulti},
	// an empty MATLAB char array is stored as two zero code units
	{"\x00\x00", models.QualityAll},
}

// DecodeNote maps a curation note to a unit quality label; unknown notes
// are "all".
func DecodeNote(note string) string {
	for _, n := range noteLabels {
		if strings.HasPrefix(note, n.prefix) {
			return n.label
		}
	}
	return models.QualityAll
}

func decodeNotes(notes []string) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = DecodeNote(n)
	}
	return out
}

func toInts(v []float64) []int {
	if v == nil {
		return nil
	}
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}
