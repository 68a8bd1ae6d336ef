package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/rorefcat/internal/app"
	"github.com/tigerroll/rorefcat/internal/domain/mission"
	"github.com/tigerroll/rorefcat/internal/shard"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
)

type exportDeps struct {
	fx.In
	Exporter *shard.Exporter
	Registry *mission.Registry
}

func exportShardsCmd() *cobra.Command {
	var s scopeArgs
	cmd := &cobra.Command{
		Use:   "export-shards",
		Short: "Write mission/day shards from the metadata store to the staging bucket",
		Long: "export-shards reads every mission/day of the scope from the metadata store and writes " +
			"the shard files the mirror reads. Days without soundings are not written.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := s.days()
			if err != nil {
				return err
			}
			if from.IsZero() {
				return exception.NewInvalidQueryError("rodb", "export-shards needs --daterange")
			}
			var d exportDeps
			return app.Run(cmd.Context(), options(), &d, func(ctx context.Context) error {
				missions := s.missions
				if len(missions) == 0 {
					missions = d.Registry.Names()
				}
				for _, m := range missions {
					if _, err := d.Registry.Mission(m); err != nil {
						return exception.NewInvalidQueryError("rodb", "%v", err)
					}
				}
				report, err := d.Exporter.ExportRange(ctx, missions, from, to.AddDate(0, 0, 1))
				if err != nil {
					return err
				}
				fmt.Printf("%d shards written (%d records), %d empty days\n", report.Shards, report.Records, report.Empty)
				return nil
			})
		},
	}
	s.register(cmd)
	return cmd
}
