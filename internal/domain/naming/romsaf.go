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
)

// atm_20090603_093752_C001_G002_R_2304_0010.nc
var romsafName = regexp.MustCompile(`^([a-z]{3})_(\d{8})_(\d{6})_([a-zA-Z0-9]+)_([a-zA-Z0-9]+)_([a-zA-Z]+)_(\d+)_(\d+)\.nc$`)

var romsafTypes = map[string]string{
	"atm": model.RefractivityRetrieval,
	"wet": model.AtmosphericRetrieval,
}

const nonNominalDir = "non-nominal"

type romsaf struct {
	reg *mission.Registry
}

func (c *romsaf) Center() string { return mission.ROMSAF }

func (c *romsaf) Parse(p string) (SourceFile, error) {
	g := romsafName.FindStringSubmatch(path.Base(p))
	if g == nil {
		return SourceFile{}, namingError(mission.ROMSAF, p, "file name does not match the ROM SAF convention")
	}
	ft, ok := romsafTypes[g[1]]
	if !ok {
		return SourceFile{}, namingError(mission.ROMSAF, p, "unknown ROM SAF filetype %q", g[1])
	}
	t, err := time.Parse("20060102150405", g[2]+g[3])
	if err != nil {
		return SourceFile{}, namingError(mission.ROMSAF, p, "invalid time in file name: %v", err)
	}
	tx, ok := normalizeTransmitter(g[5])
	if !ok {
		return SourceFile{}, namingError(mission.ROMSAF, p, "invalid transmitter %q", g[5])
	}

	var missionName, receiver string
	for _, seg := range segments(path.Dir(p)) {
		if m, rx, ok := c.reg.ResolveReceiver(mission.ROMSAF, seg, g[4]); ok {
			missionName, receiver = m, rx
			break
		}
	}
	if missionName == "" {
		return SourceFile{}, namingError(mission.ROMSAF, p, "ROM SAF receiver %q is not in a known mission directory", g[4])
	}
	return SourceFile{
		Path:           p,
		Center:         mission.ROMSAF,
		Mission:        missionName,
		Receiver:       receiver,
		Transmitter:    tx,
		Time:           t.Truncate(time.Minute),
		FileType:       ft,
		CenterFileType: g[1],
		CenterVersion:  g[7] + "." + g[8],
	}, nil
}

// DayPrefixes walks romsaf/download/{mission}/{yyyy}/{atm|wet}_{yyyymmdd}_*/{yyyy-mm-dd}/
// (or {mission}/{yyyy}/... in the live-update bucket).
func (c *romsaf) DayPrefixes(ctx context.Context, lister Lister, m *mission.Mission, filetype string, day time.Time, opts LayoutOptions) ([]string, error) {
	var kind string
	for k, ft := range romsafTypes {
		if ft == filetype {
			kind = k
		}
	}
	if kind == "" {
		return nil, nil
	}
	typePrefix := fmt.Sprintf("%s_%s", kind, day.Format("20060102"))
	var out []string
	for _, missionRoot := range m.CenterRoots(mission.ROMSAF) {
		yearDir := root(opts, "romsaf", "download", missionRoot, fmt.Sprintf("%04d", day.Year()))
		if opts.LiveUpdate {
			yearDir = root(opts, missionRoot, fmt.Sprintf("%04d", day.Year()))
		}
		subdirs, err := lister.Dirs(ctx, yearDir)
		if err != nil {
			return nil, err
		}
		var matches []string
		for _, d := range subdirs {
			if strings.HasPrefix(path.Base(d), typePrefix) {
				matches = append(matches, d)
			}
		}
		if len(matches) != 1 {
			continue
		}
		dayDir := path.Join(matches[0], day.Format("2006-01-02")) + "/"
		out = append(out, dayDir)
		if opts.NonNominal {
			out = append(out, path.Join(dayDir, nonNominalDir)+"/")
		}
	}
	return out, nil
}
