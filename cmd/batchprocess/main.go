// Command batchprocess executes one job descriptor written by createjobs: it
// reformats every listed source file, writes the canonical files to the
// staging bucket and catalogs the soundings.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/rorefcat/internal/app"
	"github.com/tigerroll/rorefcat/internal/domain/job"
	"github.com/tigerroll/rorefcat/internal/worker"
	storageAdapter "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	config "github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

var (
	rootCmd = &cobra.Command{
		Use:   "batchprocess <job_json_path>",
		Short: "Reformat and catalog the source files of one job",
		Long: "batchprocess reads a job descriptor from a local path, a bucket URI (gcs://bucket/path) " +
			"or a path inside the definitions bucket, processes every source file it lists and records " +
			"the soundings in the metadata store. Re-running a job leaves the catalog unchanged.",
		Args:          cobra.ExactArgs(1),
		RunE:          cmdBatchProcess,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags struct {
		version    string
		clobber    bool
		workingDir string
	}
)

type deps struct {
	fx.In
	Config *config.Config
	Worker *worker.Worker
	Stores *app.Stores
}

// failure is a hard failure whose message is already the one-line summary.
type failure struct{ msg string }

func (f failure) Error() string { return f.msg }

func cmdBatchProcess(cmd *cobra.Command, args []string) error {
	opts := app.Options{
		EnvFilePath:    app.EnvFilePath(),
		EmbeddedConfig: embeddedConfig,
		Override: func(cfg *config.Config) {
			if flags.version != "" {
				cfg.RORefCat.Batch.Version = flags.version
			}
			if flags.clobber {
				cfg.RORefCat.Batch.Clobber = true
			}
			if flags.workingDir != "" {
				cfg.RORefCat.Batch.WorkingDir = flags.workingDir
			}
		},
	}

	var d deps
	return app.Run(cmd.Context(), opts, &d, func(ctx context.Context) error {
		desc, err := readDescriptor(ctx, d.Stores.Definitions, args[0])
		if err != nil {
			return err
		}
		if flags.version != "" && desc.Version != flags.version {
			logger.Warnf("Job %s was planned for version %s; writing version %s.", desc.ID, desc.Version, flags.version)
			desc.Version = flags.version
		}
		res, err := d.Worker.Execute(ctx, desc)
		if err != nil {
			return err
		}
		logPath := logLocation(d, desc, res)
		if !res.Success {
			return failure{msg: fmt.Sprintf("job %s failed: %s, see %s", desc.ID, res.Summary(), logPath)}
		}
		fmt.Printf("processed %d, skipped %d, see %s\n", res.Processed, res.Skipped, logPath)
		return nil
	})
}

// readDescriptor loads a job descriptor from a bucket URI, a local file or a
// path inside the definitions bucket, in that order.
func readDescriptor(ctx context.Context, definitions *storageAdapter.ObjectStore, arg string) (*job.Descriptor, error) {
	if scheme, bucket, p, ok := storageAdapter.SplitURI(arg); ok {
		if want := strings.SplitN(definitions.URI(""), "://", 2)[0]; scheme != want {
			return nil, exception.NewBatchErrorf("batchprocess", "cannot read %s through a %s connection", arg, want)
		}
		data, err := definitions.WithBucket(bucket).Get(ctx, p)
		if err != nil {
			return nil, err
		}
		return job.Decode(data)
	}
	if data, err := os.ReadFile(arg); err == nil {
		return job.Decode(data)
	} else if !os.IsNotExist(err) {
		return nil, exception.NewStorageFatalError("batchprocess", "failed to read job descriptor", arg, err)
	}
	data, err := definitions.Get(ctx, arg)
	if err != nil {
		return nil, err
	}
	return job.Decode(data)
}

// logLocation names where the run's warnings and errors can be read.
func logLocation(d deps, desc *job.Descriptor, res *worker.Result) string {
	if len(res.LogFiles) > 0 {
		uris := make([]string, len(res.LogFiles))
		for i, p := range res.LogFiles {
			uris[i] = d.Stores.Definitions.URI(p)
		}
		return strings.Join(uris, ", ")
	}
	if dir := d.Config.RORefCat.System.Logging.Dir; dir != "" {
		return filepath.Join(dir, desc.ID+".*.log")
	}
	return "the log output"
}

func main() {
	rootCmd.Flags().StringVar(&flags.version, "version", "", "output format version; defaults to the job's version")
	rootCmd.Flags().BoolVar(&flags.clobber, "clobber", false, "overwrite canonical files and catalog entries that already exist")
	rootCmd.Flags().StringVar(&flags.workingDir, "workingdir", "", "scratch directory for downloads and products; defaults to batch.working_dir")

	ctx, cancel := app.SignalContext()
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		msg := err.Error()
		if _, ok := err.(failure); !ok {
			msg = exception.ExtractErrorMessage(err)
		}
		fmt.Fprintf(os.Stderr, "batchprocess: %s\n", msg)
		cancel()
		os.Exit(1)
	}
}
