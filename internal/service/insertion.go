package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"ephyspipe/internal/blob"
	"ephyspipe/internal/ephys"
	"ephyspipe/internal/loader"
	"ephyspipe/internal/models"
	"ephyspipe/internal/probe"
	"ephyspipe/internal/repository"
)

// InsertionService persists one probe's sorter output as a probe insertion
// with its recording setup, clustering run, units and waveforms.
type InsertionService struct {
	Repo     repository.Repository
	Resolver *ElectrodeConfigResolver
	Logger   *zap.Logger
}

func supportedMethod(method string) bool {
	switch method {
	case models.ClusteringJRCLUSTv3, models.ClusteringJRCLUSTv4:
		return true
	}
	return false
}

// insertionPlan is one probe's output after validation and unit assembly,
// ready to be written.
type insertionPlan struct {
	ins       models.InsertionKey
	probeType string
	probeName string
	pd        loader.ProbeData
	units     []ephys.AssembledUnit
}

// plan checks the clustering method and assembles units. It writes nothing.
func plan(key models.SessionKey, insertionNumber int, pd loader.ProbeData) (insertionPlan, error) {
	ins := models.InsertionKey{SubjectID: key.SubjectID, Session: key.Session, InsertionNumber: insertionNumber}
	if !supportedMethod(pd.ClusteringMethod) {
		return insertionPlan{ins: ins}, fmt.Errorf("%w: %q", ErrUnsupportedClusteringMethod, pd.ClusteringMethod)
	}
	if pd.SamplingRate > 0 {
		pd.Spikes.SamplingRate = pd.SamplingRate
	}
	units, err := ephys.Assemble(pd.Spikes, pd.ChannelMap)
	if err != nil {
		return insertionPlan{ins: ins}, fmt.Errorf("insertion %s: %w", ins, err)
	}
	name := pd.Probe
	if name == "" {
		name = pd.ProbeType
	}
	return insertionPlan{ins: ins, probeType: pd.ProbeType, probeName: name, pd: pd, units: units}, nil
}

// Insert writes every row of the insertion in one transaction. Unit
// assembly and the method check run before anything is written.
func (s *InsertionService) Insert(ctx context.Context, key models.SessionKey, insertionNumber int, pd loader.ProbeData) (models.InsertionKey, error) {
	keys, err := s.InsertSession(ctx, key, []loader.ProbeData{pd}, insertionNumber)
	if err != nil {
		return models.InsertionKey{SubjectID: key.SubjectID, Session: key.Session, InsertionNumber: insertionNumber}, err
	}
	return keys[0], nil
}

// InsertSession writes the given probes as insertions first, first+1, ...
// in a single transaction: either all of them land or none do.
func (s *InsertionService) InsertSession(ctx context.Context, key models.SessionKey, probes []loader.ProbeData, first int) ([]models.InsertionKey, error) {
	plans := make([]insertionPlan, 0, len(probes))
	for i, pd := range probes {
		p, err := plan(key, first+i, pd)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if len(plans) == 0 {
		return nil, nil
	}

	var failed models.InsertionKey
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		for _, p := range plans {
			if err := s.insertTx(ctx, tx, key, p); err != nil {
				failed = p.ins
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insertion %s: %w", failed, err)
	}

	keys := make([]models.InsertionKey, len(plans))
	for i, p := range plans {
		keys[i] = p.ins
		if s.Logger != nil {
			s.Logger.Info("probe insertion created",
				zap.Stringer("insertion", p.ins),
				zap.String("probe", p.probeName),
				zap.String("method", p.pd.ClusteringMethod),
				zap.Int("units", len(p.units)))
		}
	}
	return keys, nil
}

func (s *InsertionService) insertTx(ctx context.Context, tx *gorm.DB, key models.SessionKey, p insertionPlan) error {
	resolver := s.Resolver
	if resolver == nil {
		resolver = &ElectrodeConfigResolver{Repo: s.Repo, Logger: s.Logger}
	}
	created, err := s.Repo.EnsureProbeTypeTx(ctx, tx, p.probeType, probeTypeElectrodes(p.probeType, p.pd.Electrodes))
	if err != nil {
		return err
	}
	if created && s.Logger != nil {
		s.Logger.Info("probe type created", zap.String("probe_type", p.probeType))
	}
	if err := s.Repo.EnsureProbeTx(ctx, tx, &models.Probe{Probe: p.probeName, ProbeType: p.probeType}); err != nil {
		return err
	}
	cfg, err := resolver.ResolveTx(ctx, tx, p.probeType, p.pd.ChannelMap, nil)
	if err != nil {
		return err
	}

	uid, err := s.Repo.NextUnitUIDTx(ctx, tx)
	if err != nil {
		return err
	}
	rec := insertionRecords(p.ins, p.probeName, cfg.Hash, p.pd, p.units, uid)

	trials, err := s.Repo.ListSessionTrialsTx(ctx, tx, key)
	if err != nil {
		return err
	}
	if len(trials) > 0 {
		rec.TrialSpikes = SegmentUnits(rec.Units, trials)
	}
	return s.Repo.CreateInsertionTx(ctx, tx, rec)
}

func insertionRecords(ins models.InsertionKey, probeName, cfgHash string, pd loader.ProbeData, units []ephys.AssembledUnit, firstUID int64) repository.InsertionRecords {
	rec := repository.InsertionRecords{
		Insertion: models.ProbeInsertion{
			SubjectID: ins.SubjectID, Session: ins.Session, InsertionNumber: ins.InsertionNumber,
			Probe: probeName, ElectrodeConfigHash: cfgHash,
		},
		Setup: models.RecordingSystemSetup{
			SubjectID: ins.SubjectID, Session: ins.Session, InsertionNumber: ins.InsertionNumber,
			SamplingRate: int(math.Round(pd.Spikes.SamplingRate)),
		},
		Clustering: models.Clustering{
			SubjectID: ins.SubjectID, Session: ins.Session, InsertionNumber: ins.InsertionNumber,
			ClusteringMethod: pd.ClusteringMethod,
			ClusteringTime:   pd.ClusteringTime.UTC(),
			ManualCuration:   curated(units),
		},
	}
	for i, u := range units {
		uid := firstUID + int64(i)
		var snr *float64
		if !math.IsNaN(u.SNR) {
			v := u.SNR
			snr = &v
		}
		rec.Units = append(rec.Units, models.Unit{
			SubjectID: ins.SubjectID, Session: ins.Session, InsertionNumber: ins.InsertionNumber,
			ClusteringMethod:    pd.ClusteringMethod,
			Unit:                u.Unit,
			UnitUID:             uid,
			UnitQuality:         u.Quality,
			ElectrodeConfigHash: cfgHash,
			ElectrodeGroup:      electrodeGroup,
			Electrode:           u.Electrode,
			UnitPosX:            u.PosX,
			UnitPosY:            u.PosY,
			SpikeTimes:          blob.Float64s(u.SpikeTimes),
			SpikeSites:          toInt64s(u.SpikeSites),
			SpikeDepths:         blob.Float64s(u.SpikeDepths),
			UnitAmp:             u.Amp,
			UnitSNR:             snr,
		})
		rec.Waveforms = append(rec.Waveforms, models.UnitWaveform{
			UnitUID:  uid,
			Channels: u.Channels,
			Samples:  u.Samples,
			Waveform: blob.Float64s(u.Waveform),
		})
	}
	for _, f := range pd.Files {
		rec.Files = append(rec.Files, models.EphysFile{
			SubjectID: ins.SubjectID, Session: ins.Session, InsertionNumber: ins.InsertionNumber,
			Filepath: f,
		})
	}
	return rec
}

// curated reports whether any unit carries a curation note.
func curated(units []ephys.AssembledUnit) bool {
	for _, u := range units {
		if u.Quality != models.QualityAll {
			return true
		}
	}
	return false
}

// probeTypeElectrodes returns the catalog table for known probe families and
// otherwise describes the probe from the loader's adapter sites.
func probeTypeElectrodes(probeType string, sites []loader.ProbeElectrode) []models.ProbeTypeElectrode {
	if g, ok := probe.Lookup(probeType); ok {
		es := g.Electrodes()
		out := make([]models.ProbeTypeElectrode, len(es))
		for i, e := range es {
			x, y := e.X, e.Y
			out[i] = models.ProbeTypeElectrode{
				ProbeType: probeType, Electrode: e.Electrode,
				Shank: e.Shank, ShankCol: e.ShankCol, ShankRow: e.ShankRow,
				XCoord: &x, YCoord: &y, ZCoord: e.Z,
			}
		}
		return out
	}

	sorted := append([]loader.ProbeElectrode(nil), sites...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Electrode < sorted[j].Electrode })
	rows := map[int]int{}
	seen := map[int]bool{}
	out := make([]models.ProbeTypeElectrode, 0, len(sorted))
	for _, e := range sorted {
		if seen[e.Electrode] {
			continue
		}
		seen[e.Electrode] = true
		shank := e.Shank
		if shank <= 0 {
			shank = 1
		}
		rows[shank]++
		out = append(out, models.ProbeTypeElectrode{
			ProbeType: probeType, Electrode: e.Electrode,
			Shank: shank, ShankCol: 1, ShankRow: rows[shank],
			XCoord: e.X, YCoord: e.Y,
		})
	}
	return out
}

func toInt64s(v []int) blob.Int64s {
	out := make(blob.Int64s, len(v))
	for i, x := range v {
		out[i] = int64(x)
	}
	return out
}

// EnsureCatalogProbeType writes the electrode table of a catalog probe type.
// It reports whether the type was newly created.
func EnsureCatalogProbeType(ctx context.Context, repo repository.LabRepository, probeType string) (bool, error) {
	if _, ok := probe.Lookup(probeType); !ok {
		return false, fmt.Errorf("probe type %q is not in the catalog", probeType)
	}
	var created bool
	err := repo.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		created, err = repo.EnsureProbeTypeTx(ctx, tx, probeType, probeTypeElectrodes(probeType, nil))
		return err
	})
	return created, err
}
