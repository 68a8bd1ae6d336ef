package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/rorefcat/internal/app"
	"github.com/tigerroll/rorefcat/internal/occlist"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/serialization"
)

type queryDeps struct {
	fx.In
	Client *occlist.Client
	Stores *app.Stores
}

type queryArgs struct {
	scope   scopeArgs
	restore string
	refresh bool

	receivers      []string
	transmitters   []string
	constellations []string
	longitude      []string
	latitude       []string
	localTime      []string
	geometry       string
	fileTypes      []string

	info          []string
	countBy       []string
	save          string
	download      string
	dataRoot      string
	keepStructure bool
	parquet       string
	parquetBucket string
	compression   string
}

// predicates collects the filter flags that were set on the command line.
func (q *queryArgs) predicates(cmd *cobra.Command) map[string]any {
	args := map[string]any{}
	set := func(flag, key string, v any) {
		if cmd.Flags().Changed(flag) {
			args[key] = v
		}
	}
	set("receivers", occlist.PredReceivers, q.receivers)
	set("transmitters", occlist.PredTransmitters, q.transmitters)
	set("constellations", occlist.PredConstellations, q.constellations)
	set("longituderange", occlist.PredLongitudeRange, q.longitude)
	set("latituderange", occlist.PredLatitudeRange, q.latitude)
	set("localtimerange", occlist.PredLocalTimeRange, q.localTime)
	set("geometry", occlist.PredGeometry, q.geometry)
	set("filetypes", occlist.PredAvailableFileTypes, q.fileTypes)
	return args
}

func queryCmd() *cobra.Command {
	var q queryArgs
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Select soundings from the mirror, filter them and save, summarize or download them",
		Example: "  rodb query --missions cosmic1 --daterange 2008-02-01,2008-02-29 --localtimerange=22,2 --info geometry\n" +
			"  rodb query --restore feb2008.json --filetypes ucar_refractivityRetrieval --download ucar_refractivityRetrieval",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filters := q.predicates(cmd)
			var d queryDeps
			return app.Run(cmd.Context(), options(), &d, func(ctx context.Context) error {
				l, err := q.load(ctx, d.Client)
				if err != nil {
					return err
				}
				if len(filters) > 0 {
					if l, err = l.FilterBy(filters); err != nil {
						return err
					}
				}
				fmt.Printf("%d soundings\n", l.Len())
				return q.report(ctx, d, l)
			})
		},
	}
	f := cmd.Flags()
	q.scope.register(cmd)
	f.StringVar(&q.restore, "restore", "", "start from a list saved with --save instead of querying")
	f.BoolVar(&q.refresh, "refresh", false, "check cached partitions against the source before answering")
	f.StringSliceVar(&q.receivers, "receivers", nil, "LEO receivers")
	f.StringSliceVar(&q.transmitters, "transmitters", nil, "GNSS transmitters, e.g. G05,R12")
	f.StringSliceVar(&q.constellations, "constellations", nil, "GNSS constellation letters (GRECJSI)")
	f.StringSliceVar(&q.longitude, "longituderange", nil, "LO,HI in degrees east; LO > HI wraps across the date line")
	f.StringSliceVar(&q.latitude, "latituderange", nil, "LO,HI in degrees north")
	f.StringSliceVar(&q.localTime, "localtimerange", nil, "LO,HI in hours; LO > HI wraps across midnight")
	f.StringVar(&q.geometry, "geometry", "", `"rising" or "setting"`)
	f.StringSliceVar(&q.fileTypes, "filetypes", nil, "required filetype keys, e.g. ucar_refractivityRetrieval")
	f.StringSliceVar(&q.info, "info", nil, "print a summary of these fields")
	f.StringSliceVar(&q.countBy, "count-by", nil, "print the number of soundings per value of these fields, e.g. receiver")
	f.StringVar(&q.save, "save", "", "save the list as JSON to this path")
	f.StringVar(&q.download, "download", "", "download the files of this filetype key")
	f.StringVar(&q.dataRoot, "data-root", ".", "download directory")
	f.BoolVar(&q.keepStructure, "keep-structure", false, "keep the bucket directory structure below --data-root")
	f.StringVar(&q.parquet, "parquet", "", "export the list as day-partitioned parquet files under this prefix")
	f.StringVar(&q.parquetBucket, "parquet-bucket", "", "bucket receiving the parquet export; defaults to the staging bucket")
	f.StringVar(&q.compression, "compression", "SNAPPY", "parquet compression: SNAPPY, GZIP or NONE")
	return cmd
}

func (q *queryArgs) load(ctx context.Context, client *occlist.Client) (*occlist.OccList, error) {
	if q.restore != "" {
		return client.Restore(q.restore)
	}
	from, to, err := q.scope.days()
	if err != nil {
		return nil, err
	}
	params := occlist.QueryParams{Missions: q.scope.missions, Refresh: q.refresh}
	if !from.IsZero() {
		params.DateTimeRange = occlist.NewTimeRange(from, to.AddDate(0, 0, 1).Add(-time.Nanosecond))
	}
	return client.Query(ctx, params)
}

func (q *queryArgs) report(ctx context.Context, d queryDeps, l *occlist.OccList) error {
	if len(q.info) > 0 || len(q.countBy) > 0 {
		summary := make(map[string]any, len(q.info)+len(q.countBy))
		for _, field := range q.info {
			v, err := l.Info(field)
			if err != nil {
				return err
			}
			summary[field] = v
		}
		for _, field := range q.countBy {
			v, err := l.CountBy(field)
			if err != nil {
				return err
			}
			summary["count_by_"+field] = v
		}
		data, err := serialization.Marshal(summary, "summary")
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
	}
	if q.save != "" {
		if err := l.Save(q.save); err != nil {
			return err
		}
		logger.Infof("Saved %d soundings to %s.", l.Len(), q.save)
	}
	if q.parquet != "" {
		dest := d.Stores.Staging
		if q.parquetBucket != "" {
			dest = dest.WithBucket(q.parquetBucket)
		}
		paths, err := l.ExportParquet(ctx, dest, q.parquet, q.compression)
		for _, p := range paths {
			fmt.Println(dest.URI(p))
		}
		if err != nil {
			return err
		}
	}
	if q.download != "" {
		report, err := l.Download(ctx, q.download, q.dataRoot, q.keepStructure)
		if err != nil {
			return err
		}
		fmt.Printf("%d files: %d downloaded, %d up to date, %d failed\n",
			len(report.Paths)+report.Failed(), report.Downloaded, report.Skipped, report.Failed())
		return report.Err()
	}
	return nil
}
