// Package geo provides the area catalog and geospatial enrichment for leads.
package geo

import (
	"fmt"
	"os"

	"chathub_backend/platform/apperr"

	"gopkg.in/yaml.v3"
)

// AreaCatalogEntry is one named area with its reference coordinate.
type AreaCatalogEntry struct {
	Name  string `yaml:"name"`
	Point Point  `yaml:",inline"`
}

// Catalog holds the named areas loaded at process start. It is read-only at
// runtime and safe for unsynchronized concurrent reads. Entry order is
// significant: nearest-area ties resolve to the first-listed entry.
type Catalog struct {
	entries []AreaCatalogEntry
}

type catalogDocument struct {
	Areas []AreaCatalogEntry `yaml:"areas"`
}

// LoadCatalog reads the area catalog from a YAML document.
// An empty or invalid catalog is a startup-fatal misconfiguration.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "failed to read area catalog", err).WithOp("geo")
	}

	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "failed to parse area catalog", err).WithOp("geo")
	}

	return NewCatalog(doc.Areas)
}

// NewCatalog builds a catalog from an in-memory entry list, preserving order.
func NewCatalog(entries []AreaCatalogEntry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, apperr.New(apperr.KindConfig, "area catalog is empty").WithOp("geo")
	}

	for i, entry := range entries {
		if entry.Name == "" {
			return nil, apperr.New(apperr.KindConfig, fmt.Sprintf("area catalog entry %d has no name", i)).WithOp("geo")
		}
		if err := entry.Point.Validate(); err != nil {
			return nil, apperr.Wrap(apperr.KindConfig, fmt.Sprintf("area %q has invalid coordinates", entry.Name), err).WithOp("geo")
		}
	}

	copied := make([]AreaCatalogEntry, len(entries))
	copy(copied, entries)

	return &Catalog{entries: copied}, nil
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Nearest returns the catalog entry closest to p and the distance to it in
// kilometers. Ties resolve to the entry listed first; a strict improvement is
// required to displace an earlier entry.
func (c *Catalog) Nearest(p Point) (AreaCatalogEntry, float64) {
	best := c.entries[0]
	bestDist := Distance(p, best.Point)

	for _, entry := range c.entries[1:] {
		if d := Distance(p, entry.Point); d < bestDist {
			best = entry
			bestDist = d
		}
	}

	return best, bestDist
}
