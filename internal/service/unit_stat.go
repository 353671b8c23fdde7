package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"ephyspipe/internal/ephys"
	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
)

const unitPageSize = 500

// UnitStatService computes ISI violation, firing rate and CV2 for every unit
// of an insertion whose trial spikes are in place.
type UnitStatService struct {
	Repo   repository.Repository
	Logger *zap.Logger
	Params ephys.StatParams
}

func (s *UnitStatService) Table() string { return "ephys_unit_stat" }

func (s *UnitStatService) KeySource(ctx context.Context) ([]models.InsertionKey, error) {
	items, err := s.Repo.ListInsertionsWithoutStats(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]models.InsertionKey, len(items))
	for i, item := range items {
		keys[i] = item.Key()
	}
	return keys, nil
}

// Make replaces the stats of all units of the insertion in one transaction.
func (s *UnitStatService) Make(ctx context.Context, key models.InsertionKey) error {
	units, err := listAllUnits(ctx, s.Repo, repository.ListUnitsParams{Insertion: &key})
	if err != nil {
		return err
	}
	items := make([]models.UnitStat, 0, len(units))
	for _, u := range units {
		trains, err := s.Repo.ListTrialSpikeTrains(ctx, u.UnitUID)
		if err != nil {
			return err
		}
		st := ephys.UnitStat(toTrains(trains), s.Params)
		items = append(items, models.UnitStat{
			UnitUID:       u.UnitUID,
			ISIViolation:  st.ISIViolation,
			AvgFiringRate: st.AvgFiringRate,
			AvgCV2:        st.AvgCV2,
		})
	}
	if err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		return s.Repo.ReplaceUnitStatsTx(ctx, tx, items)
	}); err != nil {
		return fmt.Errorf("unit stats %s: %w", key, err)
	}
	if s.Logger != nil {
		s.Logger.Info("unit stats computed", zap.Stringer("insertion", key), zap.Int("units", len(items)))
	}
	return nil
}

// toTrains keeps the stored trial-relative spike times, so each train spans
// [0, stop-start). ISIs do not depend on the trial offset.
func toTrains(rows []repository.TrialSpikeTrain) []ephys.Train {
	out := make([]ephys.Train, len(rows))
	for i, r := range rows {
		duration, _ := r.StopTime.Sub(r.StartTime).Float64()
		out[i] = ephys.Train{Spikes: []float64(r.SpikeTimes), Stop: duration}
	}
	return out
}

func listAllUnits(ctx context.Context, repo repository.EphysRepository, params repository.ListUnitsParams) ([]models.Unit, error) {
	var out []models.Unit
	asc := true
	params.Limit = unitPageSize
	params.OrderBy = "unit_uid"
	params.Asc = &asc
	for offset := 0; ; offset += unitPageSize {
		params.Offset = offset
		page, err := repo.ListUnits(ctx, params)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < unitPageSize {
			return out, nil
		}
	}
}
