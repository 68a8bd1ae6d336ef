package naming

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tigerroll/rorefcat/internal/domain/mission"
	"github.com/tigerroll/rorefcat/internal/domain/model"
)

// atmPhs_CHAM.2002.083.02.59.G09_2016.2430_nc
var ucarName = regexp.MustCompile(`^([a-zA-Z0-9]{6})_([a-zA-Z0-9]+)\.(\d{4})\.(\d{3})\.(\d{2})\.(\d{2})\.([A-Z]\d{2})_(\S+)_nc$`)

// Type directory name prefixes per filetype, in order of preference.
var ucarTypeDirs = map[string][][]string{
	model.CalibratedPhase:       {{"atmPhs", "conPhs"}},
	model.RefractivityRetrieval: {{"atmPrf"}},
	model.AtmosphericRetrieval:  {{"wetPf2"}, {"wetPrf"}},
}

type ucar struct {
	reg *mission.Registry
}

func (c *ucar) Center() string { return mission.UCAR }

func (c *ucar) Parse(p string) (SourceFile, error) {
	name := path.Base(p)
	g := ucarName.FindStringSubmatch(name)
	if g == nil {
		return SourceFile{}, namingError(mission.UCAR, p, "file name does not match the UCAR convention")
	}
	ft, err := model.NormalizeFileType(g[1])
	if err != nil {
		return SourceFile{}, namingError(mission.UCAR, p, "unknown UCAR filetype %q", g[1])
	}
	year, _ := strconv.Atoi(g[3])
	doy, _ := strconv.Atoi(g[4])
	hour, _ := strconv.Atoi(g[5])
	minute, _ := strconv.Atoi(g[6])
	if doy < 1 || doy > 366 || hour > 23 || minute > 59 {
		return SourceFile{}, namingError(mission.UCAR, p, "invalid time in file name")
	}
	t := time.Date(year, 1, 1, hour, minute, 0, 0, time.UTC).AddDate(0, 0, doy-1)

	var missionName, receiver string
	for _, seg := range segments(path.Dir(p)) {
		if m, rx, ok := c.reg.ResolveReceiver(mission.UCAR, seg, g[2]); ok {
			missionName, receiver = m, rx
			break
		}
	}
	if missionName == "" {
		return SourceFile{}, namingError(mission.UCAR, p, "UCAR satellite %q is not in a known mission directory", g[2])
	}
	return SourceFile{
		Path:           p,
		Center:         mission.UCAR,
		Mission:        missionName,
		Receiver:       receiver,
		Transmitter:    g[7],
		Time:           t,
		FileType:       ft,
		CenterFileType: g[1],
		CenterVersion:  g[8],
	}, nil
}

// DayPrefixes walks {mission}/{processingVersion}/{level1b|level2}/{yyyy}/{doy}/
// and picks the single type directory of the first processing version that has one.
func (c *ucar) DayPrefixes(ctx context.Context, lister Lister, m *mission.Mission, filetype string, day time.Time, opts LayoutOptions) ([]string, error) {
	level := "level2"
	if filetype == model.CalibratedPhase {
		level = model.Level1b
	}
	kinds, ok := ucarTypeDirs[filetype]
	if !ok {
		return nil, fmt.Errorf("UCAR has no filetype %q", filetype)
	}
	var out []string
	for _, missionRoot := range m.CenterRoots(mission.UCAR) {
		versions, err := lister.Dirs(ctx, root(opts, missionRoot))
		if err != nil {
			return nil, err
		}
		for _, version := range versions {
			dayDir := path.Join(version, level, fmt.Sprintf("%04d", day.Year()), fmt.Sprintf("%03d", day.YearDay())) + "/"
			subdirs, err := lister.Dirs(ctx, dayDir)
			if err != nil {
				return nil, err
			}
			if dir := selectTypeDir(subdirs, kinds); dir != "" {
				out = append(out, dir)
				break
			}
		}
	}
	return out, nil
}

// selectTypeDir returns the only subdirectory matching the first group of
// prefixes that matches anything. More than one match yields "".
func selectTypeDir(subdirs []string, groups [][]string) string {
	for _, prefixes := range groups {
		var found []string
		for _, d := range subdirs {
			for _, prefix := range prefixes {
				if strings.HasPrefix(path.Base(d), prefix) {
					found = append(found, d)
					break
				}
			}
		}
		switch len(found) {
		case 0:
			continue
		case 1:
			return found[0]
		default:
			return ""
		}
	}
	return ""
}
