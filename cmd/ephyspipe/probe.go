package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ephyspipe/internal/probe"
	"ephyspipe/internal/service"
)

func probeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "probe [probe type...]",
		Short: "Write catalog probe types and their electrode tables",
		Long:  fmt.Sprintf("Writes the named catalog probe types, or all of them: %q.", probe.Types()),
		RunE: func(cmd *cobra.Command, args []string) error {
			types := args
			if len(types) == 0 {
				types = probe.Types()
			}
			for _, pt := range types {
				created, err := service.EnsureCatalogProbeType(cmd.Context(), a.store, pt)
				if err != nil {
					return err
				}
				a.log.Info("probe type", zap.String("probe_type", pt), zap.Bool("created", created))
			}
			return nil
		},
	}
}
