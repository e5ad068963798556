package selection

import (
	"github.com/rhac/rhacbot/internal/catalog"
)

// Target is the normalized set of recipients for one message
type Target struct {
	Regions     []string `json:"regions"`
	BuildingIDs []string `json:"building_ids"`
}

// Empty reports whether the target names no recipients
func (t Target) Empty() bool {
	return len(t.Regions) == 0 && len(t.BuildingIDs) == 0
}

// Normalize turns a selection into a Target.
//
// Precedence is all > region > building: the all regions flag absorbs every
// other choice, a region with no individually toggled buildings means the
// whole region, and a region with toggled buildings contributes only those
// buildings.
func Normalize(snap Snapshot) (Target, error) {
	if snap.AllRegions {
		return Target{Regions: []string{catalog.AllRegions}, BuildingIDs: []string{}}, nil
	}
	if len(snap.Regions) == 0 {
		return Target{}, ErrEmptySelection
	}

	target := Target{Regions: []string{}, BuildingIDs: []string{}}
	seenRegions := map[string]bool{}
	seenBuildings := map[string]bool{}

	for _, region := range snap.Regions {
		if seenRegions[region] {
			continue
		}
		seenRegions[region] = true

		ids := snap.Buildings[region]
		if len(ids) == 0 {
			target.Regions = append(target.Regions, region)
			continue
		}
		for _, id := range ids {
			if seenBuildings[id] {
				continue
			}
			seenBuildings[id] = true
			target.BuildingIDs = append(target.BuildingIDs, id)
		}
	}

	return target, nil
}

// Normalize is a convenience for Normalize(s.Snapshot())
func (s *State) Normalize() (Target, error) {
	return Normalize(s.Snapshot())
}
