package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ephyspipe/internal/service"
)

var ingestStages = []string{"sessions", "behavior", "ephys", "tracking"}

func ingestCommand(a *app) *cobra.Command {
	var subjects []string
	cmd := &cobra.Command{
		Use:       "ingest [sessions|behavior|ephys|tracking|all]",
		Short:     "Load sessions, trials and sorted spikes from the raw data tree",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: append(ingestStages, "all"),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage := "all"
			if len(args) == 1 {
				stage = args[0]
			}
			if len(subjects) > 0 {
				a.cfg.Ingest.Subjects = subjects
			}
			return a.runIngest(cmd.Context(), stage)
		},
	}
	cmd.Flags().StringSliceVar(&subjects, "subject", nil, "subjects to scan (default from config, then every known subject)")
	return cmd
}

func (a *app) runIngest(ctx context.Context, stage string) error {
	l, err := a.loader()
	if err != nil {
		return err
	}
	stages := []string{stage}
	if stage == "all" {
		stages = ingestStages
	}
	for _, st := range stages {
		var res service.IngestResult
		switch st {
		case "sessions":
			res, err = (&service.SessionIngestService{Repo: a.store, Loader: l, Logger: a.log, Subjects: a.cfg.Ingest.Subjects}).RunOnce(ctx)
		case "behavior":
			res, err = (&service.BehaviorIngestService{Repo: a.store, Loader: l, Logger: a.log}).RunOnce(ctx)
		case "ephys":
			res, err = (&service.EphysIngestService{Repo: a.store, Loader: l, Insertion: a.insertionService(), Logger: a.log}).RunOnce(ctx)
		case "tracking":
			res, err = (&service.TrackingIngestService{Repo: a.store, Loader: l, Logger: a.log}).RunOnce(ctx)
		default:
			return fmt.Errorf("unknown ingest stage %q", st)
		}
		a.metrics.RecordIngest(st, res.Created, res.Skipped, res.Failed)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", st, err)
		}
		a.log.Info("ingest stage finished",
			zap.String("stage", st),
			zap.Int("created", res.Created),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed))
	}
	return nil
}
