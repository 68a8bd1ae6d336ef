package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/rorefcat/internal/app"
	"github.com/tigerroll/rorefcat/internal/mirror"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

type mirrorDeps struct {
	fx.In
	Mirror *mirror.Mirror
}

func logProgress(p mirror.Progress) {
	if p.Done == p.Total || p.Done%100 == 0 {
		logger.Infof("%d/%d partitions (%d fetched, %d unchanged)", p.Done, p.Total, p.Fetched, p.Skipped)
		return
	}
	logger.Debugf("Partition %s done (%d/%d)", p.Partition, p.Done, p.Total)
}

func populateCmd() *cobra.Command {
	var s scopeArgs
	cmd := &cobra.Command{
		Use:   "populate",
		Short: "Download the partitions of a scope that are not mirrored yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, err := s.scope()
			if err != nil {
				return err
			}
			var d mirrorDeps
			return app.Run(cmd.Context(), options(), &d, func(ctx context.Context) error {
				report, err := d.Mirror.Populate(ctx, scope, logProgress)
				if err != nil {
					return err
				}
				fmt.Printf("%d partitions: %d fetched (%d records), %d already mirrored\n",
					report.Total, report.Fetched, report.Records, report.Skipped)
				return nil
			})
		},
	}
	s.register(cmd)
	return cmd
}

func updateCmd() *cobra.Command {
	var s scopeArgs
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Refresh the mirrored partitions of a scope and fetch new ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, err := s.scope()
			if err != nil {
				return err
			}
			var d mirrorDeps
			return app.Run(cmd.Context(), options(), &d, func(ctx context.Context) error {
				report, err := d.Mirror.Update(ctx, scope, logProgress)
				if err != nil {
					return err
				}
				fmt.Printf("%d partitions: %d fetched (%d records), %d unchanged\n",
					report.Total, report.Fetched, report.Records, report.Skipped)
				return nil
			})
		},
	}
	s.register(cmd)
	return cmd
}

func clearCmd() *cobra.Command {
	var s scopeArgs
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete mirrored partitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, err := s.scope()
			if err != nil {
				return err
			}
			var d mirrorDeps
			return app.Run(cmd.Context(), options(), &d, func(context.Context) error {
				n, err := d.Mirror.Clear(scope)
				if err != nil {
					return err
				}
				fmt.Printf("removed %d partitions\n", n)
				return nil
			})
		},
	}
	s.register(cmd)
	return cmd
}
