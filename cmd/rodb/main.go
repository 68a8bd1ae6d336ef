// Command rodb maintains the local metadata mirror and queries it.
package main

import (
	"fmt"
	"os"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/tigerroll/rorefcat/internal/app"
	"github.com/tigerroll/rorefcat/internal/mirror"
	"github.com/tigerroll/rorefcat/internal/planner"
	config "github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

var (
	rootCmd = &cobra.Command{
		Use:           "rodb",
		Short:         "Maintain and query the local RO metadata mirror",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	global struct {
		version string
		root    string
		source  string
		offline bool
	}
)

// scopeArgs are the mission and day selection shared by the subcommands.
type scopeArgs struct {
	missions  []string
	dateRange string
}

func (s *scopeArgs) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&s.missions, "missions", nil, "missions to include (comma separated); defaults to all")
	cmd.Flags().StringVar(&s.dateRange, "daterange", "", "inclusive range of days FROM,TO (YYYY-MM-DD)")
}

// days returns the inclusive day range, or zero times when none was given.
func (s *scopeArgs) days() (from, to time.Time, err error) {
	if s.dateRange == "" {
		return time.Time{}, time.Time{}, nil
	}
	r, err := planner.ParseDateRange(s.dateRange, time.Now())
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return r[0], r[1], nil
}

// scope converts the arguments to a mirror scope, whose upper bound is exclusive.
func (s *scopeArgs) scope() (mirror.Scope, error) {
	from, to, err := s.days()
	if err != nil {
		return mirror.Scope{}, err
	}
	sc := mirror.Scope{Missions: s.missions, From: from}
	if !to.IsZero() {
		sc.To = to.AddDate(0, 0, 1)
	}
	return sc, nil
}

func options() app.Options {
	return app.Options{
		EnvFilePath:    app.EnvFilePath(),
		EmbeddedConfig: embeddedConfig,
		Override: func(cfg *config.Config) {
			if global.version != "" {
				cfg.RORefCat.Batch.Version = global.version
			}
			if global.root != "" {
				cfg.RORefCat.Mirror.Root = global.root
			}
			if global.source != "" {
				cfg.RORefCat.Mirror.Source = global.source
			}
			if global.offline {
				cfg.RORefCat.Mirror.Offline = true
			}
		},
	}
}

func main() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&global.version, "version", "", "catalog version; defaults to batch.version")
	pf.StringVar(&global.root, "root", "", "mirror directory; defaults to mirror.root")
	pf.StringVar(&global.source, "source", "", `partition source, "shards" or "metastore"; defaults to mirror.source`)
	pf.BoolVar(&global.offline, "offline", false, "answer from the local mirror only")

	rootCmd.AddCommand(populateCmd(), updateCmd(), clearCmd(), queryCmd(), exportShardsCmd())

	ctx, cancel := app.SignalContext()
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "rodb: %s\n", exception.ExtractErrorMessage(err))
		cancel()
		os.Exit(1)
	}
}
