package occlist

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

const downloadWorkers = 8

// DownloadReport summarizes OccList.Download.
type DownloadReport struct {
	// Paths are the local files, in record order. Failed files are left out.
	Paths      []string
	Downloaded int
	Skipped    int
	// Errors holds one error per file that could not be fetched.
	Errors *multierror.Error
}

// Failed returns the number of files that could not be fetched.
func (r *DownloadReport) Failed() int {
	if r.Errors == nil {
		return 0
	}
	return len(r.Errors.Errors)
}

// Err returns the aggregated per-file errors, or nil.
func (r *DownloadReport) Err() error { return r.Errors.ErrorOrNil() }

// Download fetches the file referenced under fileTypeKey ({center}_{filetype})
// by each record into dataRoot. With keepStructure the object path is kept
// below dataRoot, otherwise files are placed directly in it. Local files whose
// size and MD5 match the object are not fetched again. Per-file failures are
// collected in the report; the returned error is reserved for invalid input
// and cancellation.
func (l *OccList) Download(ctx context.Context, fileTypeKey, dataRoot string, keepStructure bool) (*DownloadReport, error) {
	if err := validFileTypeKey(fileTypeKey); err != nil {
		return nil, exception.NewInvalidFilterError(module, PredAvailableFileTypes, "%v", err)
	}
	if l.client == nil || l.client.objects == nil {
		return nil, exception.NewStorageFatalError(module, "no object store is configured for downloads", fileTypeKey, nil)
	}
	objects := l.client.objects

	var wanted []string
	seen := map[string]bool{}
	for _, r := range l.records {
		p, ok := r.AvailableFiletypes[fileTypeKey]
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		wanted = append(wanted, p)
	}
	logger.Infof("Downloading %d %s files from %s into %s.", len(wanted), fileTypeKey, objects.URI(""), dataRoot)

	report := &DownloadReport{}
	local := make([]string, len(wanted))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(downloadWorkers)
	for i, obj := range wanted {
		i, obj := i, obj
		dest := filepath.Join(dataRoot, filepath.FromSlash(obj))
		if !keepStructure {
			dest = filepath.Join(dataRoot, path.Base(obj))
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			skipped, err := l.fetchOne(gctx, obj, dest)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				logger.Warnf("Failed to download %s: %v", obj, err)
				report.Errors = multierror.Append(report.Errors, err)
			case skipped:
				report.Skipped++
				local[i] = dest
			default:
				report.Downloaded++
				local[i] = dest
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	for _, p := range local {
		if p != "" {
			report.Paths = append(report.Paths, p)
		}
	}
	logger.Infof("Download finished: %d fetched, %d up to date, %d failed.", report.Downloaded, report.Skipped, report.Failed())
	return report, nil
}

func (l *OccList) fetchOne(ctx context.Context, obj, dest string) (bool, error) {
	objects := l.client.objects
	attrs, err := objects.Stat(ctx, obj)
	if err != nil {
		return false, err
	}
	if fi, err := os.Stat(dest); err == nil && fi.Mode().IsRegular() && fi.Size() == attrs.Size {
		if attrs.MD5 == "" {
			return true, nil
		}
		if sum, err := fileMD5(dest); err == nil && sum == attrs.MD5 {
			return true, nil
		}
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, exception.NewStorageFatalError(module, "failed to create download directory", dir, err)
	}
	rc, err := objects.Open(ctx, obj)
	if err != nil {
		return false, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return false, exception.NewStorageFatalError(module, "failed to create temporary file", dest, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return false, exception.ClassifyStorageError(module, "failed to read "+objects.URI(obj), obj, err)
	}
	if err := tmp.Close(); err != nil {
		return false, exception.NewStorageFatalError(module, "failed to write downloaded file", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return false, exception.NewStorageFatalError(module, "failed to move downloaded file into place", dest, err)
	}
	return false, nil
}

func fileMD5(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
