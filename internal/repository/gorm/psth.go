package gormrepository

import (
	"context"
	"strings"

	"gorm.io/gorm/clause"

	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
)

// EnsureTrialCondition inserts the condition unless one with the same hash
// exists, and returns the stored row.
func (s *Store) EnsureTrialCondition(ctx context.Context, item *models.TrialCondition) (*models.TrialCondition, error) {
	if s == nil || s.db == nil || item == nil {
		return nil, nil
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(item).Error; err != nil {
		return nil, err
	}
	var stored models.TrialCondition
	ok, err := first(s.db.WithContext(ctx).Where("trial_condition_hash = ?", item.TrialConditionHash), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &stored, nil
}

func (s *Store) GetTrialCondition(ctx context.Context, name string) (*models.TrialCondition, error) {
	if s == nil || s.db == nil || strings.TrimSpace(name) == "" {
		return nil, nil
	}
	var item models.TrialCondition
	ok, err := first(s.db.WithContext(ctx).Where("trial_condition_name = ?", name), &item)
	if err != nil || !ok {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListTrialConditions(ctx context.Context) ([]models.TrialCondition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.TrialCondition
	if err := s.db.WithContext(ctx).Order("trial_condition_name asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListPsthCandidates returns uids of units with TrialSpikes, quality other
// than "all" and no PSTH for the condition yet.
func (s *Store) ListPsthCandidates(ctx context.Context, params repository.PsthCandidateParams) ([]int64, error) {
	if s == nil || s.db == nil || strings.TrimSpace(params.Condition) == "" {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.Unit{}).
		Where("unit_quality <> ?", models.QualityAll).
		Where("EXISTS (SELECT 1 FROM ephys_trial_spikes ts WHERE ts.unit_uid = ephys_unit.unit_uid)").
		Where("NOT EXISTS (SELECT 1 FROM psth_unit_psth p WHERE p.unit_uid = ephys_unit.unit_uid AND p.trial_condition_name = ?)", params.Condition)
	if params.RequireStimRegion {
		query = query.Where("EXISTS (SELECT 1 FROM experiment_photostim_brain_region r WHERE r.subject_id = ephys_unit.subject_id AND r.session = ephys_unit.session)")
	}
	var uids []int64
	if err := query.
		Order("unit_uid asc").
		Limit(normalizeLimit(params.Limit, 500)).
		Pluck("unit_uid", &uids).Error; err != nil {
		return nil, err
	}
	return uids, nil
}

func (s *Store) CreateUnitPsth(ctx context.Context, item *models.UnitPsth) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetUnitPsth(ctx context.Context, condition string, uid int64) (*models.UnitPsth, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.UnitPsth
	ok, err := first(s.db.WithContext(ctx).
		Where("trial_condition_name = ? AND unit_uid = ?", condition, uid), &item)
	if err != nil || !ok {
		return nil, err
	}
	return &item, nil
}
