// Command createjobs lists a processing center's source files for a mission
// and filetype and writes batchprocess job descriptors for the files that are
// not cataloged yet.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/rorefcat/internal/app"
	"github.com/tigerroll/rorefcat/internal/domain/job"
	"github.com/tigerroll/rorefcat/internal/planner"
	config "github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/serialization"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

var (
	rootCmd = &cobra.Command{
		Use:   "createjobs <center> <mission> <filetype>",
		Short: "Write batchprocess jobs for uncataloged source files",
		Long: "createjobs scans the source bucket of a processing center for one mission and filetype " +
			"(calibratedPhase, refractivityRetrieval, atmosphericRetrieval or level1b/level2a/level2b) " +
			"and writes one job descriptor per batch of files that are not in the catalog yet.",
		Args:          cobra.ExactArgs(3),
		RunE:          cmdCreateJobs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags struct {
		dateRange   string
		jobsPerFile int
		version     string
		liveUpdate  bool
		nonNominal  bool
		dryRun      bool
	}
)

type deps struct {
	fx.In
	Config  *config.Config
	Planner *planner.Planner
	Stores  *app.Stores
}

func cmdCreateJobs(cmd *cobra.Command, args []string) error {
	dateRange, err := planner.ParseDateRange(flags.dateRange, time.Now())
	if err != nil {
		return err
	}
	opts := app.Options{
		EnvFilePath:    app.EnvFilePath(),
		EmbeddedConfig: embeddedConfig,
		Override: func(cfg *config.Config) {
			if flags.version != "" {
				cfg.RORefCat.Batch.Version = flags.version
			}
			if flags.jobsPerFile > 0 {
				cfg.RORefCat.Batch.JobsPerFile = flags.jobsPerFile
			}
		},
	}

	var d deps
	return app.Run(cmd.Context(), opts, &d, func(ctx context.Context) error {
		req := planner.PlanRequest{
			Center:      args[0],
			Mission:     args[1],
			FileType:    args[2],
			DateRange:   dateRange,
			JobsPerFile: d.Config.RORefCat.Batch.JobsPerFile,
			LiveUpdate:  flags.liveUpdate,
			NonNominal:  flags.nonNominal,
		}
		res, err := d.Planner.Plan(ctx, req)
		if err != nil {
			return err
		}
		for _, skipped := range res.Skipped {
			logger.Warnf("%v", skipped)
		}
		if flags.dryRun {
			return printJobs(res.Jobs)
		}
		paths, err := planner.WriteJobs(ctx, d.Stores.Definitions, d.Config.RORefCat.Catalog.JobsPrefix, res)
		for _, p := range paths {
			fmt.Println(d.Stores.Definitions.URI(p))
		}
		if err != nil {
			return err
		}
		logger.Infof("%s %s %s: %d source files, %d cataloged, %d pending in %d jobs, %d unparseable.",
			res.Center, res.Mission, res.FileType, res.SourceFiles, res.Cataloged, res.Pending(), len(res.Jobs), len(res.Skipped))
		return nil
	})
}

func printJobs(jobs []*job.Descriptor) error {
	data, err := serialization.Marshal(jobs, "job descriptors")
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func main() {
	rootCmd.Flags().StringVar(&flags.dateRange, "daterange", "", "inclusive range of days FROM,TO (YYYY-MM-DD); defaults to yesterday and today")
	rootCmd.Flags().IntVar(&flags.jobsPerFile, "jobsperfile", 0, "source files per job descriptor; defaults to batch.jobs_per_file")
	rootCmd.Flags().StringVar(&flags.version, "version", "", "output format version; defaults to batch.version")
	rootCmd.Flags().BoolVar(&flags.liveUpdate, "liveupdate", false, "scan the center's live-update bucket instead of its archive")
	rootCmd.Flags().BoolVar(&flags.nonNominal, "nonnominal", false, "include non-nominal source files")
	rootCmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "print the job descriptors instead of writing them")

	ctx, cancel := app.SignalContext()
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "createjobs: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
