// Package mission maps the catalog's mission and receiver names to the names
// each processing center uses for the same satellites.
package mission

import (
	"fmt"
	"sort"
)

// Processing centers.
const (
	UCAR   = "ucar"
	ROMSAF = "romsaf"
	JPL    = "jpl"
)

// Centers lists the supported processing centers.
var Centers = []string{UCAR, ROMSAF, JPL}

// Receiver is one LEO receiver of a mission.
type Receiver struct {
	// Name is the catalog receiver name.
	Name string
	// CenterNames maps a processing center to its receiver name. Absent centers use Name.
	CenterNames map[string]string
}

// Mission is one RO mission.
type Mission struct {
	// Name is the catalog mission name.
	Name string
	// CenterNames maps a processing center to its mission directory name.
	// JPL always uses Name; other centers without an entry do not process the mission.
	CenterNames map[string]string
	Receivers   []Receiver
	// perReceiverRoot marks centers that keep one directory per receiver,
	// named after the catalog receiver.
	perReceiverRoot map[string]bool
}

// CenterName returns the mission name used by center.
func (m *Mission) CenterName(center string) string {
	if n, ok := m.CenterNames[center]; ok {
		return n
	}
	return m.Name
}

// CenterRoots returns the center's top-level directories for the mission.
// It is empty when the center does not process the mission.
func (m *Mission) CenterRoots(center string) []string {
	if m.perReceiverRoot[center] {
		return m.ReceiverNames()
	}
	if _, ok := m.CenterNames[center]; !ok && center != JPL {
		return nil
	}
	return []string{m.CenterName(center)}
}

// ReceiverNames returns the catalog names of the mission's receivers.
func (m *Mission) ReceiverNames() []string {
	out := make([]string, len(m.Receivers))
	for i, r := range m.Receivers {
		out[i] = r.Name
	}
	return out
}

func (r Receiver) centerName(center string) string {
	if n, ok := r.CenterNames[center]; ok {
		return n
	}
	return r.Name
}

type link struct{ mission, receiver string }

// Registry resolves missions and receivers by catalog or center name.
type Registry struct {
	missions map[string]*Mission
	// links maps center -> "{root}/{centerReceiver}" -> catalog names.
	links map[string]map[string]link
	// roots maps center -> center mission directory -> catalog mission.
	roots map[string]map[string]string
	// missionOf maps a catalog receiver to its catalog mission.
	missionOf map[string]string
}

// NewRegistry indexes missions.
func NewRegistry(missions ...*Mission) *Registry {
	r := &Registry{
		missions:  map[string]*Mission{},
		links:     map[string]map[string]link{},
		roots:     map[string]map[string]string{},
		missionOf: map[string]string{},
	}
	for _, center := range Centers {
		r.links[center] = map[string]link{}
		r.roots[center] = map[string]string{}
	}
	for _, m := range missions {
		r.missions[m.Name] = m
		for _, rx := range m.Receivers {
			r.missionOf[rx.Name] = m.Name
		}
		for _, center := range Centers {
			for _, root := range m.CenterRoots(center) {
				r.roots[center][root] = m.Name
				for _, rx := range m.Receivers {
					if m.perReceiverRoot[center] && rx.Name != root {
						continue
					}
					r.links[center][root+"/"+rx.centerName(center)] = link{m.Name, rx.Name}
				}
			}
		}
	}
	return r
}

// Mission returns the mission with the catalog name.
func (r *Registry) Mission(name string) (*Mission, error) {
	m, ok := r.missions[name]
	if !ok {
		return nil, fmt.Errorf("unknown mission %q", name)
	}
	return m, nil
}

// Names returns the catalog mission names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.missions))
	for n := range r.missions {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ResolveReceiver maps a center's mission directory and receiver name to the
// catalog mission and receiver.
func (r *Registry) ResolveReceiver(center, centerMission, centerReceiver string) (mission, receiver string, ok bool) {
	l, ok := r.links[center][centerMission+"/"+centerReceiver]
	return l.mission, l.receiver, ok
}

// MissionForCenterName maps a center's mission directory name to the catalog mission.
func (r *Registry) MissionForCenterName(center, name string) (string, bool) {
	m, ok := r.roots[center][name]
	return m, ok
}

// MissionOfReceiver returns the catalog mission of a catalog receiver.
func (r *Registry) MissionOfReceiver(receiver string) (string, bool) {
	m, ok := r.missionOf[receiver]
	return m, ok
}

// Default returns the registry of the missions processed by RORefCat.
func Default() *Registry {
	return NewRegistry(
		numbered("cosmic1", "cosmic1c", 6, map[string]string{UCAR: "cosmic1", ROMSAF: "cosmic"},
			func(i int) map[string]string {
				return map[string]string{UCAR: fmt.Sprintf("C%03d", i), ROMSAF: fmt.Sprintf("C%03d", i)}
			}),
		numbered("cosmic2", "cosmic2e", 6, map[string]string{UCAR: "cosmic2"},
			func(i int) map[string]string { return map[string]string{UCAR: fmt.Sprintf("C2E%d", i)} }),
		&Mission{
			Name:        "metop",
			CenterNames: map[string]string{ROMSAF: "metop"},
			Receivers: []Receiver{
				{Name: "metopa", CenterNames: map[string]string{UCAR: "MTPA", ROMSAF: "META"}},
				{Name: "metopb", CenterNames: map[string]string{UCAR: "MTPB", ROMSAF: "METB"}},
				{Name: "metopc", CenterNames: map[string]string{UCAR: "MTPC", ROMSAF: "METC"}},
			},
			perReceiverRoot: map[string]bool{UCAR: true},
		},
		&Mission{
			Name:        "champ",
			CenterNames: map[string]string{UCAR: "champ", ROMSAF: "champ"},
			Receivers:   []Receiver{{Name: "champ", CenterNames: map[string]string{UCAR: "CHAM", ROMSAF: "CHAM"}}},
		},
		&Mission{
			Name:        "grace",
			CenterNames: map[string]string{UCAR: "grace"},
			Receivers: []Receiver{
				{Name: "gracea", CenterNames: map[string]string{UCAR: "GRAA"}},
				{Name: "graceb", CenterNames: map[string]string{UCAR: "GRAB"}},
			},
		},
		&Mission{
			Name: "gpsmet",
			Receivers: []Receiver{
				{Name: "gpsmet", CenterNames: map[string]string{UCAR: "GPSM"}},
				{Name: "gpsmetas", CenterNames: map[string]string{UCAR: "GPSM"}},
			},
			perReceiverRoot: map[string]bool{UCAR: true},
		},
		numbered("geoopt", "geooptG", 6, map[string]string{UCAR: "geoopt"},
			func(i int) map[string]string { return map[string]string{UCAR: fmt.Sprintf("GO%02d", i)} }),
		&Mission{
			Name:        "sacc",
			CenterNames: map[string]string{UCAR: "sacc"},
			Receivers:   []Receiver{{Name: "sacc", CenterNames: map[string]string{UCAR: "SACC"}}},
		},
	)
}

func numbered(name, prefix string, n int, centers map[string]string, rx func(i int) map[string]string) *Mission {
	m := &Mission{Name: name, CenterNames: centers}
	for i := 1; i <= n; i++ {
		r := fmt.Sprintf("%s%d", prefix, i)
		if prefix == "geooptG" {
			r = fmt.Sprintf("%s%02d", prefix, i)
		}
		m.Receivers = append(m.Receivers, Receiver{Name: r, CenterNames: rx(i)})
	}
	return m
}
