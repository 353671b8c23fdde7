package main

import (
	"github.com/spf13/cobra"

	"ephyspipe/internal/seed"
)

func seedCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Upsert lab people, rigs, subjects, photostim devices and probe types",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := seed.LoadFile(args[0])
			if err != nil {
				return err
			}
			_, err = seed.Apply(cmd.Context(), a.store, f, a.log)
			return err
		},
	}
}
