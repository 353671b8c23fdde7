package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ephyspipe/internal/blob"
	"ephyspipe/internal/ephys"
	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
	"ephyspipe/internal/trialcond"
)

// PsthKey is one (condition, unit) pair.
type PsthKey struct {
	Condition string
	UnitUID   int64
}

func (k PsthKey) String() string {
	return fmt.Sprintf("%s/%d", k.Condition, k.UnitUID)
}

// PsthService bins per-trial spikes of a unit over the trials a condition
// selects.
type PsthService struct {
	Repo     repository.Repository
	Registry *trialcond.Registry
	Logger   *zap.Logger
	Params   ephys.PsthParams
	// BatchSize caps the units fetched per condition in one key-source pass.
	BatchSize int
}

func (s *PsthService) Table() string { return "psth_unit_psth" }

// EnsureConditions stores the default conditions; existing hashes are kept.
func (s *PsthService) EnsureConditions(ctx context.Context) ([]models.TrialCondition, error) {
	var out []models.TrialCondition
	for _, spec := range trialcond.DefaultSpecs() {
		cond, err := s.registry().New(spec.Name, spec.Func, spec.Args)
		if err != nil {
			return nil, err
		}
		stored, err := s.Repo.EnsureTrialCondition(ctx, &cond)
		if err != nil {
			return nil, fmt.Errorf("trial condition %s: %w", spec.Name, err)
		}
		if stored != nil {
			out = append(out, *stored)
		}
	}
	return out, nil
}

// KeySource pairs each stored condition with units of quality other than
// "all" that lack a PSTH. Stim-including conditions only cover sessions with
// a derived photostim region.
func (s *PsthService) KeySource(ctx context.Context) ([]PsthKey, error) {
	conds, err := s.Repo.ListTrialConditions(ctx)
	if err != nil {
		return nil, err
	}
	var keys []PsthKey
	for _, cond := range conds {
		uids, err := s.Repo.ListPsthCandidates(ctx, repository.PsthCandidateParams{
			Condition:         cond.TrialConditionName,
			RequireStimRegion: cond.TrialConditionFunc == trialcond.FuncIncludeStim,
			Limit:             s.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		for _, uid := range uids {
			keys = append(keys, PsthKey{Condition: cond.TrialConditionName, UnitUID: uid})
		}
	}
	return keys, nil
}

func (s *PsthService) Make(ctx context.Context, key PsthKey) error {
	cond, err := s.Repo.GetTrialCondition(ctx, key.Condition)
	if err != nil {
		return err
	}
	if cond == nil {
		return fmt.Errorf("psth %s: unknown trial condition", key)
	}
	trains, trials, err := s.trialSpikes(ctx, *cond, key.UnitUID)
	if err != nil {
		return fmt.Errorf("psth %s: %w", key, err)
	}
	rate, edges := ephys.Psth(trains, s.Params)
	item := &models.UnitPsth{
		TrialConditionName: key.Condition,
		UnitUID:            key.UnitUID,
		Trials:             trials,
		Psth:               blob.Float64s(rate),
		PsthEdges:          blob.Float64s(edges),
	}
	if err := s.Repo.CreateUnitPsth(ctx, item); err != nil {
		return fmt.Errorf("psth %s: %w", key, err)
	}
	if s.Logger != nil {
		s.Logger.Debug("psth computed", zap.Stringer("key", key), zap.Int("trials", trials))
	}
	return nil
}

// Compute returns the condition's PSTH for a unit without storing it. Rate
// and edges are nil when the unit has no trial spikes in the selection.
func (s *PsthService) Compute(ctx context.Context, condition string, uid int64) (rate, edges []float64, trials int, err error) {
	cond, err := s.condition(ctx, condition)
	if err != nil {
		return nil, nil, 0, err
	}
	trains, trials, err := s.trialSpikes(ctx, *cond, uid)
	if err != nil {
		return nil, nil, 0, err
	}
	rate, edges = ephys.Psth(trains, s.Params)
	return rate, edges, trials, nil
}

// ComputePerTrial returns one rate row per selected trial.
func (s *PsthService) ComputePerTrial(ctx context.Context, condition string, uid int64) (rates [][]float64, edges []float64, err error) {
	cond, err := s.condition(ctx, condition)
	if err != nil {
		return nil, nil, err
	}
	trains, _, err := s.trialSpikes(ctx, *cond, uid)
	if err != nil {
		return nil, nil, err
	}
	rates, edges = ephys.PsthPerTrial(trains, s.Params)
	return rates, edges, nil
}

func (s *PsthService) condition(ctx context.Context, name string) (*models.TrialCondition, error) {
	cond, err := s.Repo.GetTrialCondition(ctx, name)
	if err != nil {
		return nil, err
	}
	if cond == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTrialCondition, name)
	}
	return cond, nil
}

func (s *PsthService) trialSpikes(ctx context.Context, cond models.TrialCondition, uid int64) ([][]float64, int, error) {
	keys, err := s.registry().Trials(ctx, s.Repo, cond)
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.Repo.ListTrialSpikes(ctx, uid, keys)
	if err != nil {
		return nil, 0, err
	}
	trains := make([][]float64, len(rows))
	for i, r := range rows {
		trains[i] = []float64(r.SpikeTimes)
	}
	return trains, len(rows), nil
}

var builtinConditions = trialcond.NewRegistry()

func (s *PsthService) registry() *trialcond.Registry {
	if s.Registry == nil {
		return builtinConditions
	}
	return s.Registry
}
