package naming

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/tigerroll/rorefcat/internal/domain/mission"
)

// calibratedPhase_champ_jpl_v2.6_champ-G10-200306032355.nc
var jplName = regexp.MustCompile(`^(calibratedPhase|refractivityRetrieval|atmosphericRetrieval)_([a-zA-Z0-9]+)_jpl_([^_]+)_([a-zA-Z0-9]+)-([A-Z]\d{2,3})-(\d{12})\.nc$`)

type jpl struct {
	reg *mission.Registry
}

func (c *jpl) Center() string { return mission.JPL }

func (c *jpl) Parse(p string) (SourceFile, error) {
	g := jplName.FindStringSubmatch(path.Base(p))
	if g == nil {
		return SourceFile{}, namingError(mission.JPL, p, "file name does not match the JPL convention")
	}
	t, err := time.Parse("200601021504", g[6])
	if err != nil {
		return SourceFile{}, namingError(mission.JPL, p, "invalid time in file name: %v", err)
	}
	tx, ok := normalizeTransmitter(g[5])
	if !ok {
		return SourceFile{}, namingError(mission.JPL, p, "invalid transmitter %q", g[5])
	}
	missionName, receiver, ok := c.reg.ResolveReceiver(mission.JPL, g[2], g[4])
	if !ok {
		return SourceFile{}, namingError(mission.JPL, p, "unknown JPL receiver %s/%s", g[2], g[4])
	}
	return SourceFile{
		Path:           p,
		Center:         mission.JPL,
		Mission:        missionName,
		Receiver:       receiver,
		Transmitter:    tx,
		Time:           t,
		FileType:       g[1],
		CenterFileType: g[1],
		CenterVersion:  g[3],
	}, nil
}

// DayPrefixes returns {mission}/{filetype}/{yyyy}/{mm}/{dd}/.
func (c *jpl) DayPrefixes(_ context.Context, _ Lister, m *mission.Mission, filetype string, day time.Time, _ LayoutOptions) ([]string, error) {
	return []string{root(LayoutOptions{}, m.Name, filetype,
		fmt.Sprintf("%04d", day.Year()), fmt.Sprintf("%02d", int(day.Month())), fmt.Sprintf("%02d", day.Day()))}, nil
}
