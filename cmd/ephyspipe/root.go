package main

import (
	"github.com/spf13/cobra"
)

func rootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "ephyspipe",
		Short:         "Electrophysiology ingestion and derived-statistics pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default $EPHYS_CONFIG or config/config.yaml)")
	root.PersistentFlags().BoolVar(&a.envOnly, "env-only", false, "read configuration from EPHYS_* environment variables only")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.init()
	}
	cobra.OnFinalize(a.close)

	root.AddCommand(
		serveCommand(a),
		migrateCommand(a),
		ingestCommand(a),
		populateCommand(a),
		probeCommand(a),
		seedCommand(a),
	)
	return root
}
