package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ephyspipe/internal/jobs"
	"ephyspipe/internal/service"
)

// Dependency order: stim regions feed the stim conditions, trial spikes
// feed both statistics and PSTHs.
var populateTables = []string{"photostim-region", "trial-spikes", "unit-stat", "psth", "cell-type"}

func populateCommand(a *app) *cobra.Command {
	var maxKeys int
	cmd := &cobra.Command{
		Use:       "populate [photostim-region|trial-spikes|unit-stat|psth|cell-type|all]",
		Short:     "Compute missing rows of derived tables",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: append(populateTables, "all"),
		RunE: func(cmd *cobra.Command, args []string) error {
			table := "all"
			if len(args) == 1 {
				table = args[0]
			}
			return a.runPopulate(cmd.Context(), table, maxKeys)
		},
	}
	cmd.Flags().IntVar(&maxKeys, "max-keys", 0, "stop each table after this many keys (0 = no limit)")
	return cmd
}

func (a *app) runPopulate(ctx context.Context, table string, maxKeys int) error {
	p, err := a.populator(maxKeys)
	if err != nil {
		return err
	}
	tables := []string{table}
	if table == "all" {
		tables = populateTables
	}
	for _, t := range tables {
		var res jobs.Result
		switch t {
		case "photostim-region":
			res, err = jobs.Populate(ctx, p, &service.PhotostimRegionService{Repo: a.store, Logger: a.log})
		case "trial-spikes":
			res, err = jobs.Populate(ctx, p, &service.TrialSpikeService{Repo: a.store, Logger: a.log})
		case "unit-stat":
			res, err = jobs.Populate(ctx, p, &service.UnitStatService{Repo: a.store, Logger: a.log, Params: a.statParams()})
		case "psth":
			svc := a.psthService()
			if _, err = svc.EnsureConditions(ctx); err == nil {
				res, err = jobs.Populate(ctx, p, svc)
			}
		case "cell-type":
			res, err = jobs.Populate(ctx, p, &service.CellTypeService{Repo: a.store, Logger: a.log})
		default:
			return fmt.Errorf("unknown table %q", t)
		}
		if err != nil {
			return fmt.Errorf("populate %s: %w", t, err)
		}
		a.log.Debug("populate table done", zap.String("table", t), zap.Int("done", res.Done))
	}
	return nil
}
