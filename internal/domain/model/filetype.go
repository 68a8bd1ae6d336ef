package model

import (
	"fmt"
	"strings"
)

// Canonical filetypes.
const (
	CalibratedPhase       = "calibratedPhase"
	RefractivityRetrieval = "refractivityRetrieval"
	AtmosphericRetrieval  = "atmosphericRetrieval"
)

// Processing levels.
const (
	Level1b = "level1b"
	Level2a = "level2a"
	Level2b = "level2b"
)

// FileTypes lists the canonical filetypes in level order.
var FileTypes = []string{CalibratedPhase, RefractivityRetrieval, AtmosphericRetrieval}

var levelAliases = map[string]string{
	"level1b": Level1b, "calibratedphase": Level1b, "atmphs": Level1b, "conphs": Level1b,
	"level2a": Level2a, "refractivityretrieval": Level2a, "atmprf": Level2a, "atm": Level2a,
	"level2b": Level2b, "atmosphericretrieval": Level2b, "wetprf": Level2b, "wetpf2": Level2b, "wet": Level2b,
}

var levelFileType = map[string]string{
	Level1b: CalibratedPhase,
	Level2a: RefractivityRetrieval,
	Level2b: AtmosphericRetrieval,
}

// LevelOf resolves any filetype alias (level name, canonical name or a
// processing center's own name) to its processing level.
func LevelOf(alias string) (string, error) {
	if level, ok := levelAliases[strings.ToLower(alias)]; ok {
		return level, nil
	}
	return "", fmt.Errorf("unrecognized filetype %q", alias)
}

// NormalizeFileType resolves any filetype alias to its canonical filetype.
func NormalizeFileType(alias string) (string, error) {
	level, err := LevelOf(alias)
	if err != nil {
		return "", err
	}
	return levelFileType[level], nil
}
