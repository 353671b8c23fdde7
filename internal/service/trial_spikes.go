package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"ephyspipe/internal/blob"
	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
)

// SegmentUnits cuts every unit's spike train at the trial boundaries. Each
// (unit, trial) pair gets a row, silent trials included, with spike times
// relative to the trial start.
func SegmentUnits(units []models.Unit, trials []models.SessionTrial) []models.TrialSpikes {
	out := make([]models.TrialSpikes, 0, len(units)*len(trials))
	for _, u := range units {
		for _, tr := range trials {
			start, _ := tr.StartTime.Float64()
			stop, _ := tr.StopTime.Float64()
			out = append(out, models.TrialSpikes{
				UnitUID:    u.UnitUID,
				SubjectID:  tr.SubjectID,
				Session:    tr.Session,
				Trial:      tr.Trial,
				SpikeTimes: blob.Float64s(SegmentTrial(u.SpikeTimes, start, stop)),
			})
		}
	}
	return out
}

// SegmentTrial keeps spikes with start <= t < stop, shifted by -start.
func SegmentTrial(spikes []float64, start, stop float64) []float64 {
	out := []float64{}
	for _, t := range spikes {
		if t >= start && t < stop {
			out = append(out, t-start)
		}
	}
	return out
}

// TrialSpikeService segments clustering runs that were ingested before their
// session had trials.
type TrialSpikeService struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

func (s *TrialSpikeService) Table() string { return "ephys_trial_spikes" }

func (s *TrialSpikeService) KeySource(ctx context.Context) ([]models.ClusteringKey, error) {
	runs, err := s.Repo.ListClusteringsWithoutTrialSpikes(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]models.ClusteringKey, len(runs))
	for i, c := range runs {
		keys[i] = c.Key()
	}
	return keys, nil
}

// Make writes the trial spikes of every unit of the run in one transaction.
func (s *TrialSpikeService) Make(ctx context.Context, key models.ClusteringKey) error {
	var n int
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		trials, err := s.Repo.ListSessionTrialsTx(ctx, tx, key.SessionKey())
		if err != nil {
			return err
		}
		if len(trials) == 0 {
			return nil
		}
		units, err := s.Repo.ListUnitsTx(ctx, tx, key)
		if err != nil {
			return err
		}
		rows := SegmentUnits(units, trials)
		n = len(rows)
		return s.Repo.CreateTrialSpikesTx(ctx, tx, rows)
	})
	if err != nil {
		return fmt.Errorf("trial spikes %s: %w", key, err)
	}
	if s.Logger != nil && n > 0 {
		s.Logger.Info("trial spikes created", zap.Stringer("clustering", key), zap.Int("rows", n))
	}
	return nil
}
