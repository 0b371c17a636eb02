package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/junction.report/internal/geom"
)

// Zone is a named counting region, immutable after load.
type Zone struct {
	ID       string
	Polygon  geom.Polygon
	Cooldown time.Duration
}

// Phase is a named set of simultaneously permitted movements together with
// the zones whose counts make up its demand.
type Phase struct {
	ID        string
	Movements []string
	ZoneIDs   []string
	MinGreen  time.Duration
	MaxGreen  time.Duration
}

// Intersection is the validated zone and phase layout of one junction.
type Intersection struct {
	Zones            []Zone
	Phases           []Phase
	ClearingDuration time.Duration
}

// zoneJSON is the wire shape of one zone entry in the zones file.
type zoneJSON struct {
	ID       string       `json:"id"`
	Polygon  [][2]float64 `json:"polygon"`
	Cooldown string       `json:"cooldown"`
}

type zonesFileJSON struct {
	Zones []zoneJSON `json:"zones"`
}

// phaseJSON is the wire shape of one phase entry in the phases file.
type phaseJSON struct {
	ID        string   `json:"id"`
	Movements []string `json:"movements"`
	Zones     []string `json:"zones"`
	MinGreen  string   `json:"min_green"`
	MaxGreen  string   `json:"max_green"`
}

type phasesFileJSON struct {
	ClearingDuration string      `json:"clearing_duration"`
	Phases           []phaseJSON `json:"phases"`
}

// LoadIntersection loads and cross-validates the zone and phase files.
// Any malformed entry is a fatal configuration error: the caller must not
// proceed with degenerate geometry or inconsistent phase timing.
func LoadIntersection(zonesPath, phasesPath string) (*Intersection, error) {
	zones, err := LoadZones(zonesPath)
	if err != nil {
		return nil, err
	}

	phases, clearing, err := loadPhases(phasesPath)
	if err != nil {
		return nil, err
	}

	zoneIDs := make(map[string]bool, len(zones))
	for _, z := range zones {
		zoneIDs[z.ID] = true
	}
	for _, p := range phases {
		for _, zid := range p.ZoneIDs {
			if !zoneIDs[zid] {
				return nil, fmt.Errorf("%s: phase %q references unknown zone %q", phasesPath, p.ID, zid)
			}
		}
	}

	return &Intersection{
		Zones:            zones,
		Phases:           phases,
		ClearingDuration: clearing,
	}, nil
}

// LoadZones loads the zone definitions from a JSON file and validates every
// polygon at load time.
func LoadZones(path string) ([]Zone, error) {
	var file zonesFileJSON
	if err := readJSONFile(path, &file); err != nil {
		return nil, err
	}
	if len(file.Zones) == 0 {
		return nil, fmt.Errorf("%s: no zones defined", path)
	}

	seen := make(map[string]bool, len(file.Zones))
	zones := make([]Zone, 0, len(file.Zones))
	for _, zj := range file.Zones {
		if zj.ID == "" {
			return nil, fmt.Errorf("%s: zone with empty id", path)
		}
		if seen[zj.ID] {
			return nil, fmt.Errorf("%s: duplicate zone id %q", path, zj.ID)
		}
		seen[zj.ID] = true

		verts := make([]geom.Point, len(zj.Polygon))
		for i, v := range zj.Polygon {
			verts[i] = geom.Point{X: v[0], Y: v[1]}
		}
		poly := geom.Polygon{Vertices: verts}
		if err := poly.Validate(); err != nil {
			return nil, fmt.Errorf("%s: zone %q: %w", path, zj.ID, err)
		}

		cooldown, err := parsePositiveDuration(zj.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("%s: zone %q cooldown: %w", path, zj.ID, err)
		}

		zones = append(zones, Zone{ID: zj.ID, Polygon: poly, Cooldown: cooldown})
	}
	return zones, nil
}

func loadPhases(path string) ([]Phase, time.Duration, error) {
	var file phasesFileJSON
	if err := readJSONFile(path, &file); err != nil {
		return nil, 0, err
	}
	if len(file.Phases) < 2 {
		return nil, 0, fmt.Errorf("%s: need at least 2 phases, got %d", path, len(file.Phases))
	}

	clearing, err := parsePositiveDuration(file.ClearingDuration)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: clearing_duration: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Phases))
	phases := make([]Phase, 0, len(file.Phases))
	for _, pj := range file.Phases {
		if pj.ID == "" {
			return nil, 0, fmt.Errorf("%s: phase with empty id", path)
		}
		if seen[pj.ID] {
			return nil, 0, fmt.Errorf("%s: duplicate phase id %q", path, pj.ID)
		}
		seen[pj.ID] = true

		if len(pj.Zones) == 0 {
			return nil, 0, fmt.Errorf("%s: phase %q serves no zones", path, pj.ID)
		}

		minGreen, err := parsePositiveDuration(pj.MinGreen)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: phase %q min_green: %w", path, pj.ID, err)
		}
		maxGreen, err := parsePositiveDuration(pj.MaxGreen)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: phase %q max_green: %w", path, pj.ID, err)
		}
		if maxGreen < minGreen {
			return nil, 0, fmt.Errorf("%s: phase %q max_green (%s) < min_green (%s)", path, pj.ID, maxGreen, minGreen)
		}

		phases = append(phases, Phase{
			ID:        pj.ID,
			Movements: pj.Movements,
			ZoneIDs:   pj.Zones,
			MinGreen:  minGreen,
			MaxGreen:  maxGreen,
		})
	}
	return phases, clearing, nil
}

func readJSONFile(path string, v interface{}) error {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", cleanPath, err)
	}
	return nil
}

func parsePositiveDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("missing duration")
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}
