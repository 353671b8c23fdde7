package loader

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ephyspipe/internal/jrclust"
)

const (
	VincentLoaderName = "VincentLoader"

	vincentDefaultTask  = "hf wheel"
	vincentCamera       = "WT_Camera_Vincent 0"
	vincentTrackingFPS  = 500
	vincentInfoDate     = "02-Jan-2006 15:04:05"
	vincentRecInfoDate  = "02_Jan_2006_15_04_05"
	vincentTrackingDate = "20060102150405"
)

// VincentLoader reads the Vincent lab layout:
//
//	<subject>/**/<basename>*info.json
//	<session>/SpikeSorting/<basename>/<basename>_TTLs.dat
//	<session>/Analysis/<subject>_<basename>/{*.spikes.mat,*recInfo.mat,*.prb}
//	<session>/WhiskerTracking/<subject>*<yyyymmddHHMMSS>*.mat
type VincentLoader struct {
	root     string
	username string
	rig      string
	open     jrclust.Opener
}

func NewVincent(root, username, rig string, open jrclust.Opener) *VincentLoader {
	return &VincentLoader{root: root, username: username, rig: rig, open: open}
}

func (l *VincentLoader) Name() string { return VincentLoaderName }

func (l *VincentLoader) Root() string { return l.root }

type vincentInfo struct {
	Date      string          `json:"date"`
	BaseName  string          `json:"baseName"`
	Task      string          `json:"task"`
	PhotoStim json.RawMessage `json:"photoStim"`
	Trials    []vincentTrial  `json:"trials"`
}

type vincentPhotostim struct {
	ProtocolNum int                `json:"protocolNum"`
	StimDevice  string             `json:"stimDevice"`
	StimPower   float64            `json:"stimPower"`
	PulseDur    *float64           `json:"pulseDur"`
	StimFreq    *float64           `json:"stimFreq"`
	TrainLength *int               `json:"trainLength"`
	Waveform    []float64          `json:"waveform"`
	Location    *PhotostimLocation `json:"photostim_location"`
}

type vincentTrial struct {
	TrialNum    int      `json:"trialNum"`
	Start       float64  `json:"start"`
	Stop        float64  `json:"stop"`
	IsPhotostim flexBool `json:"isphotostim"`
}

// flexBool accepts MATLAB exports that write logicals as 0/1.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch s := strings.TrimSpace(string(data)); s {
	case "true":
		*b = true
	case "false", "null", "0", "0.0":
		*b = false
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("isphotostim: %s", s)
		}
		*b = f != 0
	}
	return nil
}

func (l *VincentLoader) LoadSessions(ctx context.Context, subject string) ([]SessionInfo, error) {
	subjDir := filepath.Join(l.root, subject)
	if _, err := os.Stat(subjDir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingSourceFile, subjDir)
	}

	var infos []string
	err := filepath.WalkDir(subjDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), "info.json") {
			infos = append(infos, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(infos)

	out := make([]SessionInfo, 0, len(infos))
	for _, path := range infos {
		info, err := readVincentInfo(path)
		if err != nil {
			return nil, err
		}
		start, err := time.Parse(vincentInfoDate, info.Date)
		if err != nil {
			return nil, fmt.Errorf("%s: date: %w", path, err)
		}
		matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), globEscape(info.BaseName)+"*"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		files := make([]string, 0, len(matches))
		for _, m := range matches {
			rel, err := filepath.Rel(l.root, m)
			if err != nil {
				return nil, err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		out = append(out, SessionInfo{
			SubjectID: subject,
			Start:     start,
			Basename:  info.BaseName,
			Files:     files,
			Username:  l.username,
			Rig:       l.rig,
		})
	}
	return out, nil
}

func (l *VincentLoader) LoadBehavior(ctx context.Context, sessDir, subject, basename string) (*Behavior, error) {
	dir := filepath.Join(l.root, sessDir)
	infos, err := filepath.Glob(filepath.Join(dir, globEscape(basename)+"*.json"))
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: no session info for %s in %s", ErrMissingSourceFile, basename, dir)
	}
	sort.Strings(infos)
	infoFile := infos[0]
	info, err := readVincentInfo(infoFile)
	if err != nil {
		return nil, err
	}

	b := &Behavior{Task: info.Task}
	if b.Task == "" {
		b.Task = vincentDefaultTask
	}
	protocols, err := decodePhotostims(info.PhotoStim)
	if err != nil {
		return nil, fmt.Errorf("%s: photoStim: %w", infoFile, err)
	}
	for _, p := range protocols {
		b.Photostims = append(b.Photostims, PhotostimProtocol{
			PhotoStim:      p.ProtocolNum,
			Device:         p.StimDevice,
			Power:          p.StimPower,
			PulseDuration:  p.PulseDur,
			PulseFrequency: p.StimFreq,
			PulsesPerTrain: p.TrainLength,
			Waveform:       p.Waveform,
			Location:       p.Location,
		})
	}

	ttlDir := filepath.Join(dir, "SpikeSorting", basename)
	if _, err := os.Stat(ttlDir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingSourceFile, ttlDir)
	}
	ttl, err := readFloat32s(filepath.Join(ttlDir, basename+"_TTLs.dat"))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, tr := range info.Trials {
		trial := Trial{Trial: tr.TrialNum, Start: tr.Start, Stop: tr.Stop, Photostim: bool(tr.IsPhotostim)}
		if trial.Photostim {
			if len(b.Photostims) == 0 {
				return nil, fmt.Errorf("%s: trial %d is a photostim trial but no protocol is listed", infoFile, tr.TrialNum)
			}
			// every pulse carries the power of the first protocol
			power := b.Photostims[0].Power
			for id, ts := range ttl {
				if ts >= tr.Start && ts < tr.Stop {
					trial.Events = append(trial.Events, StimEvent{ID: id, Time: ts - tr.Start, Power: power})
				}
			}
		}
		b.Trials = append(b.Trials, trial)
	}
	return b, nil
}

func (l *VincentLoader) LoadEphys(ctx context.Context, sessDir, subject, basename string) ([]ProbeData, error) {
	dir := filepath.Join(l.root, sessDir, "Analysis", subject+"_"+basename)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingSourceFile, dir)
	}
	resultFile, err := globOne(dir, "*.spikes.mat", "JRCLUST result")
	if err != nil {
		return nil, err
	}
	recInfoFile, err := globOne(dir, "*recInfo.mat", "recording info")
	if err != nil {
		return nil, err
	}
	prbFile, err := globOne(dir, "*.prb", "probe adapter")
	if err != nil {
		return nil, err
	}

	pd, err := l.readRecInfo(recInfoFile)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(prbFile)
	if err != nil {
		return nil, err
	}
	adapter, err := ParseAdapter(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", prbFile, err)
	}
	stem := strings.TrimSuffix(filepath.Base(prbFile), filepath.Ext(prbFile))
	pd.ProbeType, _, _ = strings.Cut(stem, "_")
	pd.Probe = stem
	pd.ChannelMap = adapter.Channels
	pd.Electrodes = adapter.Electrodes()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reader, err := jrclust.Open(resultFile, l.open)
	if err != nil {
		return nil, err
	}
	data, err := reader.Data()
	if err != nil {
		return nil, err
	}
	pd.ClusteringMethod = reader.Method
	pd.ClusteringTime = reader.CreationTime
	if pd.Spikes, err = SortedSpikes(data, pd.SamplingRate); err != nil {
		return nil, fmt.Errorf("%s: %w", resultFile, err)
	}

	for _, p := range []string{resultFile, recInfoFile, prbFile} {
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return nil, err
		}
		pd.Files = append(pd.Files, filepath.ToSlash(rel))
	}
	return []ProbeData{*pd}, nil
}

func (l *VincentLoader) LoadTracking(ctx context.Context, sessDir, subject string, sessionTime time.Time) ([]Tracking, error) {
	dir := filepath.Join(l.root, sessDir, "WhiskerTracking")
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingSourceFile, dir)
	}
	pattern := globEscape(subject) + "*" + sessionTime.Format(vincentTrackingDate) + "*.mat"
	file, err := globOne(dir, pattern, "tracking")
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(l.root, file)
	if err != nil {
		return nil, err
	}
	return []Tracking{{Device: vincentCamera, FPS: vincentTrackingFPS, Files: []string{filepath.ToSlash(rel)}}}, nil
}

func (l *VincentLoader) readRecInfo(path string) (*ProbeData, error) {
	c, err := l.open(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	scalar := func(name string) (float64, error) {
		a, err := c.Float64s(name)
		if err != nil {
			return 0, fmt.Errorf("%s: %s: %w", path, name, err)
		}
		if len(a.Data) == 0 {
			return 0, fmt.Errorf("%s: %s is empty", path, name)
		}
		return a.Data[0], nil
	}
	text := func(name string) (string, error) {
		a, err := c.Float64s(name)
		if err != nil {
			return "", fmt.Errorf("%s: %s: %w", path, name, err)
		}
		return jrclust.CharString(a), nil
	}

	rate, err := scalar("recInfo/samplingRate")
	if err != nil {
		return nil, err
	}
	nch, err := scalar("recInfo/numRecChan")
	if err != nil {
		return nil, err
	}
	date, err := text("recInfo/date")
	if err != nil {
		return nil, err
	}
	sys, err := text("recInfo/sys")
	if err != nil {
		return nil, err
	}
	recorded, err := time.Parse(vincentRecInfoDate, date)
	if err != nil {
		return nil, fmt.Errorf("%s: date: %w", path, err)
	}
	return &ProbeData{
		SamplingRate:    rate,
		ChannelNum:      int(nch),
		RecordingTime:   recorded,
		RecordingSystem: sys,
	}, nil
}

func readVincentInfo(path string) (*vincentInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info vincentInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &info, nil
}

// decodePhotostims accepts a single protocol object or a list.
func decodePhotostims(raw json.RawMessage) ([]vincentPhotostim, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []vincentPhotostim
		err := json.Unmarshal(raw, &list)
		return list, err
	}
	var one vincentPhotostim
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []vincentPhotostim{one}, nil
}

// readFloat32s reads a raw little-endian float32 stream.
func readFloat32s(path string) ([]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingSourceFile, path)
		}
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%s: %d bytes is not a float32 stream", path, len(raw))
	}
	out := make([]float64, len(raw)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
	}
	return out, nil
}

func globOne(dir, pattern, what string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}
	if len(matches) != 1 {
		return "", fmt.Errorf("%w: want one %s file in %s, found %d", ErrMissingSourceFile, what, dir, len(matches))
	}
	return matches[0], nil
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return r.Replace(s)
}
