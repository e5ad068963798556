package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AllRegions is the region token meaning every building in the catalog
const AllRegions = "all"

var (
	// ErrUnknownRegion is returned when a region key is not in the catalog
	ErrUnknownRegion = errors.New("unknown region")

	// ErrUnknownBuilding is returned when a building id is not in the catalog
	ErrUnknownBuilding = errors.New("unknown building")
)

//go:embed buildings.json
var defaultBuildings []byte

// Building is a single residence hall
type Building struct {
	ID     string `json:"id" yaml:"id"`
	Label  string `json:"name" yaml:"label"`
	Region string `json:"region" yaml:"region"`
}

// Catalog is the read-only region -> building lookup table
type Catalog struct {
	regions   []string
	buildings map[string][]Building
	byID      map[string]Building
}

// New builds a catalog from a flat list of buildings. Region order follows the
// first appearance of each region in the list.
func New(buildings []Building) (*Catalog, error) {
	c := &Catalog{
		buildings: map[string][]Building{},
		byID:      map[string]Building{},
	}
	for _, b := range buildings {
		b.ID = strings.TrimSpace(b.ID)
		b.Region = strings.TrimSpace(b.Region)
		if b.ID == "" {
			return nil, fmt.Errorf("building %q has no id", b.Label)
		}
		if b.Region == "" {
			return nil, fmt.Errorf("building %s has no region", b.ID)
		}
		if b.Region == AllRegions {
			return nil, fmt.Errorf("region name %q is reserved", AllRegions)
		}
		if _, dup := c.byID[b.ID]; dup {
			return nil, fmt.Errorf("duplicate building id %s", b.ID)
		}
		if _, seen := c.buildings[b.Region]; !seen {
			c.regions = append(c.regions, b.Region)
		}
		c.buildings[b.Region] = append(c.buildings[b.Region], b)
		c.byID[b.ID] = b
	}
	if len(c.byID) == 0 {
		return nil, fmt.Errorf("catalog has no buildings")
	}
	return c, nil
}

// Default returns the catalog compiled into the binary
func Default() *Catalog {
	c, err := parseJSON(defaultBuildings)
	if err != nil {
		panic(fmt.Sprintf("embedded buildings catalog is invalid: %s", err))
	}
	return c
}

// Load reads a catalog file. Files ending in .yaml or .yml are read as a
// region -> [{id, label}] mapping, anything else as the JSON building list.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(data)
	default:
		return parseJSON(data)
	}
}

// Regions returns the region keys in catalog order
func (c *Catalog) Regions() []string {
	return append([]string(nil), c.regions...)
}

// HasRegion reports whether key is a catalog region
func (c *Catalog) HasRegion(key string) bool {
	_, ok := c.buildings[key]
	return ok
}

// Buildings returns the buildings of a region in catalog order
func (c *Catalog) Buildings(region string) []Building {
	return append([]Building(nil), c.buildings[region]...)
}

// Building looks up a building by id
func (c *Catalog) Building(id string) (Building, bool) {
	b, ok := c.byID[id]
	return b, ok
}

// All returns every building, grouped by region in catalog order
func (c *Catalog) All() []Building {
	all := make([]Building, 0, len(c.byID))
	for _, region := range c.regions {
		all = append(all, c.buildings[region]...)
	}
	return all
}

// Resolve expands region tokens and explicit building ids into a deduplicated
// list of building ids. The "all" token expands to every building.
func (c *Catalog) Resolve(regions []string, buildingIDs []string) ([]string, error) {
	var resolved []string
	seen := map[string]bool{}
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			resolved = append(resolved, id)
		}
	}

	for _, region := range regions {
		if region == AllRegions {
			for _, b := range c.All() {
				add(b.ID)
			}
			continue
		}
		buildings, ok := c.buildings[region]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRegion, region)
		}
		for _, b := range buildings {
			add(b.ID)
		}
	}

	for _, id := range buildingIDs {
		id = strings.TrimSpace(id)
		if _, ok := c.byID[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBuilding, id)
		}
		add(id)
	}

	return resolved, nil
}

type jsonBuilding struct {
	ID     json.Number `json:"id"`
	Name   string      `json:"name"`
	Label  string      `json:"label"`
	Region string      `json:"region"`
}

func parseJSON(data []byte) (*Catalog, error) {
	var records []jsonBuilding
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("error parsing buildings json: %w", err)
	}

	buildings := make([]Building, 0, len(records))
	for _, r := range records {
		label := r.Name
		if label == "" {
			label = r.Label
		}
		buildings = append(buildings, Building{ID: r.ID.String(), Label: label, Region: r.Region})
	}
	return New(buildings)
}

// parseYAML walks the document node so that region order in the file is kept
func parseYAML(data []byte) (*Catalog, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error parsing buildings yaml: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("buildings yaml must be a mapping of region to buildings")
	}

	var buildings []Building
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		region := root.Content[i].Value
		var entries []Building
		if err := root.Content[i+1].Decode(&entries); err != nil {
			return nil, fmt.Errorf("error parsing buildings for region %s: %w", region, err)
		}
		for _, b := range entries {
			b.Region = region
			buildings = append(buildings, b)
		}
	}
	return New(buildings)
}
