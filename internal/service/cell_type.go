package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ephyspipe/internal/ephys"
	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
)

// CellTypeService labels units FS or Pyr from the width of the waveform on
// their peak channel.
type CellTypeService struct {
	Repo      repository.Repository
	Logger    *zap.Logger
	BatchSize int
}

func (s *CellTypeService) Table() string { return "ephys_unit_cell_type" }

func (s *CellTypeService) KeySource(ctx context.Context) ([]int64, error) {
	units, err := s.Repo.ListUnitsWithoutCellType(ctx, s.BatchSize)
	if err != nil {
		return nil, err
	}
	uids := make([]int64, len(units))
	for i, u := range units {
		uids[i] = u.UnitUID
	}
	return uids, nil
}

func (s *CellTypeService) Make(ctx context.Context, uid int64) error {
	unit, err := s.Repo.GetUnitByUID(ctx, uid)
	if err != nil {
		return err
	}
	if unit == nil {
		return fmt.Errorf("cell type %d: unit not found", uid)
	}
	wf, err := s.Repo.GetUnitWaveform(ctx, uid)
	if err != nil {
		return err
	}
	if wf == nil {
		return fmt.Errorf("cell type %d: no waveform", uid)
	}
	setup, err := s.Repo.GetRecordingSetup(ctx, unit.Key().InsertionKey)
	if err != nil {
		return err
	}
	if setup == nil {
		return fmt.Errorf("cell type %d: no recording setup", uid)
	}

	wave := wf.Channel(ephys.PeakChannel(wf.Waveform, wf.Channels, wf.Samples))
	cellType, err := ephys.ClassifyCellType(wave, float64(setup.SamplingRate))
	if err != nil {
		return fmt.Errorf("cell type %d: %w", uid, err)
	}
	if err := s.Repo.CreateUnitCellType(ctx, &models.UnitCellType{UnitUID: uid, CellType: cellType}); err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Debug("cell type classified", zap.Int64("unit_uid", uid), zap.String("cell_type", cellType))
	}
	return nil
}
