// Package naming parses the source file names of the RO processing centers and
// knows where each center keeps one day of files for a mission and filetype.
package naming

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/tigerroll/rorefcat/internal/domain/mission"
	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
)

// LiveUpdateRoot is the prefix of untarred files in a live-update bucket.
const LiveUpdateRoot = "untarred"

var dataFile = regexp.MustCompile(`[._]nc$`)

// IsDataFile reports whether name looks like a NetCDF source file.
func IsDataFile(name string) bool { return dataFile.MatchString(name) }

// SourceFile is a parsed source file name.
type SourceFile struct {
	Path           string
	Center         string
	Mission        string
	Receiver       string
	Transmitter    string
	Time           time.Time
	FileType       string // canonical filetype
	CenterFileType string // the center's own filetype name
	CenterVersion  string
}

// OccultationID returns the occultation id of the sounding in the file.
func (f SourceFile) OccultationID() string {
	return model.OccultationID(f.Transmitter, f.Receiver, f.Time)
}

// FileTypeKey returns "{center}_{filetype}".
func (f SourceFile) FileTypeKey() string {
	return model.FileTypeKey(f.Center, f.FileType)
}

// Lister is the part of the object store a convention needs to walk a day layout.
type Lister interface {
	Dirs(ctx context.Context, prefix string) ([]string, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// LayoutOptions select alternative layouts.
type LayoutOptions struct {
	// LiveUpdate walks the live-update bucket layout under LiveUpdateRoot.
	LiveUpdate bool
	// NonNominal adds the non-nominal subdirectories where the center has them.
	NonNominal bool
}

// Convention is the naming and layout convention of one processing center.
type Convention interface {
	Center() string
	// Parse extracts the sounding identity from a source path. Failures are NamingConventionErrors.
	Parse(p string) (SourceFile, error)
	// DayPrefixes returns the prefixes holding the source files of one mission,
	// filetype and day. An empty result means the center has no files for it.
	DayPrefixes(ctx context.Context, lister Lister, m *mission.Mission, filetype string, day time.Time, opts LayoutOptions) ([]string, error)
}

// New returns the convention of center.
func New(center string, reg *mission.Registry) (Convention, error) {
	switch center {
	case mission.UCAR:
		return &ucar{reg: reg}, nil
	case mission.ROMSAF:
		return &romsaf{reg: reg}, nil
	case mission.JPL:
		return &jpl{reg: reg}, nil
	default:
		return nil, fmt.Errorf("unknown processing center %q", center)
	}
}

// ListDay lists and parses the source files of one day. Files that do not
// follow the convention are returned as NamingConventionErrors next to the
// parsed files.
func ListDay(ctx context.Context, conv Convention, lister Lister, m *mission.Mission, filetype string, day time.Time, opts LayoutOptions) ([]SourceFile, []error, error) {
	prefixes, err := conv.DayPrefixes(ctx, lister, m, filetype, day, opts)
	if err != nil {
		return nil, nil, err
	}
	var (
		files   []SourceFile
		skipped []error
	)
	for _, prefix := range prefixes {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
		names, err := lister.List(ctx, prefix)
		if err != nil {
			return nil, nil, err
		}
		for _, name := range names {
			// Subdirectories (non-nominal) are listed through their own prefix.
			if !IsDataFile(name) || strings.Contains(name[len(prefix):], "/") {
				continue
			}
			f, err := conv.Parse(name)
			if err != nil {
				skipped = append(skipped, err)
				continue
			}
			if f.FileType != filetype {
				skipped = append(skipped, exception.NewNamingConventionError("naming.ListDay", name,
					fmt.Sprintf("filetype %s does not match requested %s", f.FileType, filetype)))
				continue
			}
			files = append(files, f)
		}
	}
	return files, skipped, nil
}

func root(opts LayoutOptions, parts ...string) string {
	if opts.LiveUpdate {
		parts = append([]string{LiveUpdateRoot}, parts...)
	}
	return path.Join(parts...) + "/"
}

func namingError(center, p, format string, a ...interface{}) error {
	return exception.NewNamingConventionError("naming."+center, p, fmt.Sprintf(format, a...))
}

// normalizeTransmitter turns "G002" into "G02".
func normalizeTransmitter(tx string) (string, bool) {
	switch {
	case len(tx) == 3:
		return tx, true
	case len(tx) == 4 && tx[1] == '0':
		return tx[:1] + tx[2:], true
	default:
		return "", false
	}
}

func segments(p string) []string {
	return strings.Split(strings.Trim(p, "/"), "/")
}
