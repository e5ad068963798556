package selection

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rhac/rhacbot/internal/catalog"
)

var (
	// ErrInvalidSelection groups every selection error
	ErrInvalidSelection = errors.New("invalid selection")

	// ErrInvalidKey is returned for region keys or building ids missing from the catalog
	ErrInvalidKey = fmt.Errorf("%w: unknown region or building", ErrInvalidSelection)

	// ErrRegionNotSelected is returned when a building is toggled before its region
	ErrRegionNotSelected = fmt.Errorf("%w: region not selected", ErrInvalidSelection)

	// ErrEmptySelection is returned when nothing is selected and the all regions flag is off
	ErrEmptySelection = fmt.Errorf("%w: nothing selected", ErrInvalidSelection)
)

// State tracks the regions and buildings an operator has chosen during one
// compose session. Every selected building belongs to a selected region.
type State struct {
	mu      sync.Mutex
	catalog *catalog.Catalog

	regions    []string
	buildings  map[string][]string
	allRegions bool
}

// Snapshot is an immutable copy of a State
type Snapshot struct {
	AllRegions bool
	// Regions in the order they were selected
	Regions []string
	// Buildings maps a region key to the building ids toggled within it, in toggle order
	Buildings map[string][]string
}

// NewState returns an empty selection over the given catalog
func NewState(c *catalog.Catalog) *State {
	return &State{
		catalog:   c,
		buildings: map[string][]string{},
	}
}

// ToggleRegion selects the region, or deselects it together with every
// building selected inside it.
func (s *State) ToggleRegion(key string) error {
	if !s.catalog.HasRegion(key) {
		return fmt.Errorf("%w: region %q", ErrInvalidKey, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := slices.Index(s.regions, key); i >= 0 {
		s.regions = slices.Delete(s.regions, i, i+1)
		delete(s.buildings, key)
		return nil
	}
	s.regions = append(s.regions, key)
	return nil
}

// ToggleBuilding selects or deselects a building. Its region has to be selected first.
func (s *State) ToggleBuilding(id string) error {
	b, ok := s.catalog.Building(id)
	if !ok {
		return fmt.Errorf("%w: building %q", ErrInvalidKey, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(s.regions, b.Region) {
		return fmt.Errorf("%w: %s (building %s)", ErrRegionNotSelected, b.Region, id)
	}

	ids := s.buildings[b.Region]
	if i := slices.Index(ids, id); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
		if len(ids) == 0 {
			delete(s.buildings, b.Region)
		} else {
			s.buildings[b.Region] = ids
		}
		return nil
	}
	s.buildings[b.Region] = append(ids, id)
	return nil
}

// SetAllRegions sets the all regions flag. Other selections are left in place.
func (s *State) SetAllRegions(flag bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allRegions = flag
}

// Reset clears the whole selection
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = nil
	s.buildings = map[string][]string{}
	s.allRegions = false
}

// AllRegions reports the all regions flag
func (s *State) AllRegions() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allRegions
}

// SelectedRegions returns the selected region keys in selection order
func (s *State) SelectedRegions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.regions)
}

// SelectedBuildings returns every selected building id, grouped by region in
// region selection order.
func (s *State) SelectedBuildings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, region := range s.regions {
		ids = append(ids, s.buildings[region]...)
	}
	return ids
}

// Empty reports whether nothing is selected
func (s *State) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.allRegions && len(s.regions) == 0
}

// Snapshot copies the current selection
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	buildings := make(map[string][]string, len(s.buildings))
	for region, ids := range s.buildings {
		buildings[region] = slices.Clone(ids)
	}
	return Snapshot{
		AllRegions: s.allRegions,
		Regions:    slices.Clone(s.regions),
		Buildings:  buildings,
	}
}

// Select adds regions and buildings to the selection in one call, selecting a
// building's region first when needed. Keys already selected stay selected.
// Nothing is changed when any key is unknown.
func (s *State) Select(allRegions bool, regions []string, buildingIDs []string) error {
	for _, key := range regions {
		if !s.catalog.HasRegion(key) {
			return fmt.Errorf("%w: region %q", ErrInvalidKey, key)
		}
	}
	picked := make([]catalog.Building, 0, len(buildingIDs))
	for _, id := range buildingIDs {
		b, ok := s.catalog.Building(id)
		if !ok {
			return fmt.Errorf("%w: building %q", ErrInvalidKey, id)
		}
		picked = append(picked, b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if allRegions {
		s.allRegions = true
	}
	for _, key := range regions {
		if !slices.Contains(s.regions, key) {
			s.regions = append(s.regions, key)
		}
	}
	for _, b := range picked {
		if !slices.Contains(s.regions, b.Region) {
			s.regions = append(s.regions, b.Region)
		}
		if !slices.Contains(s.buildings[b.Region], b.ID) {
			s.buildings[b.Region] = append(s.buildings[b.Region], b.ID)
		}
	}
	return nil
}
