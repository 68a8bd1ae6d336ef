package worker

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/tigerroll/rorefcat/internal/domain/job"
	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

type runSinks struct {
	errors   *logger.FileSink
	warnings *logger.FileSink
}

// openSinks attaches the per-run error and warning log files. The sinks are
// process-wide, so one process runs one job at a time.
func (w *Worker) openSinks(runID string) *runSinks {
	if w.opts.LogDir == "" {
		return nil
	}
	s := &runSinks{}
	var err error
	if s.errors, err = logger.AddFileSink(filepath.Join(w.opts.LogDir, runID+".errors.log"), logger.OnlyLevel(logger.LevelError)); err != nil {
		logger.Warnf("Cannot open the error log of run %s: %v", runID, err)
	}
	if s.warnings, err = logger.AddFileSink(filepath.Join(w.opts.LogDir, runID+".warnings.log"), logger.OnlyLevel(logger.LevelWarn)); err != nil {
		logger.Warnf("Cannot open the warning log of run %s: %v", runID, err)
	}
	return s
}

// closeSinks detaches the run logs and uploads the non-empty ones to
// {logsPrefix}/{version}/{yyyymmdd}/{errors|warnings}/.
func (w *Worker) closeSinks(ctx context.Context, s *runSinks, d *job.Descriptor, res *Result) {
	if s == nil {
		return
	}
	prefix := model.LogsPrefix(w.opts.LogsPrefix, d.Version, w.now())
	for _, ks := range []struct {
		kind string
		sink *logger.FileSink
	}{{"errors", s.errors}, {"warnings", s.warnings}} {
		kind, sink := ks.kind, ks.sink
		if sink == nil {
			continue
		}
		entries := sink.Entries()
		if err := sink.Close(); err != nil {
			logger.Warnf("Cannot close %s: %v", sink.Path(), err)
			continue
		}
		if entries == 0 || w.definitions == nil {
			_ = os.Remove(sink.Path())
			continue
		}
		obj := path.Join(prefix, kind, filepath.Base(sink.Path()))
		fh, err := os.Open(sink.Path())
		if err != nil {
			logger.Warnf("Cannot read %s: %v", sink.Path(), err)
			continue
		}
		_, err = w.definitions.PutReader(ctx, obj, fh, map[string]string{"job": d.ID})
		fh.Close()
		if err != nil {
			logger.Warnf("Cannot upload %s: %v", sink.Path(), err)
			continue
		}
		logger.Infof("Uploaded %d %s to %s.", entries, kind, w.definitions.URI(obj))
		if res != nil {
			res.LogFiles = append(res.LogFiles, obj)
		}
	}
}
