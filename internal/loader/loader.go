// Package loader adapts lab-specific data folders to the records the
// ingestion services consume.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ephyspipe/internal/ephys"
	"ephyspipe/internal/jrclust"
)

// ErrMissingSourceFile marks a session whose companion files are absent or
// ambiguous. Ingestion skips such sessions.
var ErrMissingSourceFile = errors.New("loader: missing source file")

// Loader is implemented once per lab data layout. Paths handed out are
// relative to the loader's root data directory.
type Loader interface {
	Name() string
	Root() string
	LoadSessions(ctx context.Context, subject string) ([]SessionInfo, error)
	LoadBehavior(ctx context.Context, sessDir, subject, basename string) (*Behavior, error)
	LoadEphys(ctx context.Context, sessDir, subject, basename string) ([]ProbeData, error)
	LoadTracking(ctx context.Context, sessDir, subject string, sessionTime time.Time) ([]Tracking, error)
}

type SessionInfo struct {
	SubjectID string
	Start     time.Time
	Basename  string
	Files     []string
	Username  string
	Rig       string
}

type Behavior struct {
	Task       string
	Photostims []PhotostimProtocol
	Trials     []Trial
}

type PhotostimProtocol struct {
	PhotoStim      int
	Device         string
	Power          float64
	PulseDuration  *float64
	PulseFrequency *float64
	PulsesPerTrain *int
	Waveform       []float64
	Location       *PhotostimLocation
}

type PhotostimLocation struct {
	SkullReference string  `json:"skull_reference"`
	APLocation     float64 `json:"ap_location"`
	MLLocation     float64 `json:"ml_location"`
	Depth          float64 `json:"depth"`
	Theta          float64 `json:"theta"`
	Phi            float64 `json:"phi"`
	BrainArea      string  `json:"brain_area"`
}

// Trial times are seconds from session start.
type Trial struct {
	Trial     int
	Start     float64
	Stop      float64
	Photostim bool
	Events    []StimEvent
}

// StimEvent times are seconds from trial start.
type StimEvent struct {
	ID    int
	Time  float64
	Power float64
}

// ProbeData is one probe's sorter output plus recording metadata.
type ProbeData struct {
	ProbeType       string
	Probe           string
	SamplingRate    float64
	ChannelNum      int
	RecordingTime   time.Time
	RecordingSystem string

	ClusteringMethod string
	ClusteringTime   time.Time
	// ChannelMap maps a 1-based recording site to an electrode.
	ChannelMap []int
	// Electrodes describe the probe when its type is not in the geometry
	// catalog.
	Electrodes []ProbeElectrode
	Spikes     ephys.SortedSpikes
	Files      []string
}

type ProbeElectrode struct {
	Electrode int
	Shank     int
	X         *float64
	Y         *float64
}

type Tracking struct {
	Device string
	FPS    float64
	Files  []string
}

// SortedSpikes flattens a result file into assembler input. fs overrides the
// file's own rate when positive.
func SortedSpikes(d *jrclust.Data, fs float64) (ephys.SortedSpikes, error) {
	if fs <= 0 {
		fs = d.SamplingRate
	}
	out := ephys.SortedSpikes{
		Units:        d.SpikeUnits,
		Times:        d.SpikeTimes,
		Sites:        d.SpikeSites,
		Depths:       d.SpikeDepths,
		SamplingRate: fs,
		Notes:        d.Notes,
		PosX:         d.UnitX,
		PosY:         d.UnitY,
		Amp:          d.UnitAmp,
		SNR:          d.UnitSNR,
		MaxSites:     d.MaxSites,
	}
	switch dims := d.Waveforms.Dims; len(dims) {
	case 0:
	case 3:
		out.Waveforms = ephys.Waveforms{Data: d.Waveforms.Data, Clusters: dims[0], Channels: dims[1], Samples: dims[2]}
	default:
		return out, fmt.Errorf("%w: waveform dims %v", ephys.ErrMetadataMismatch, dims)
	}
	return out, nil
}

// New returns the loader registered under name.
func New(name, root, username, rig string, open jrclust.Opener) (Loader, error) {
	switch name {
	case "", "vincent", VincentLoaderName:
		return NewVincent(root, username, rig, open), nil
	default:
		return nil, fmt.Errorf("loader: unknown loader %q", name)
	}
}
