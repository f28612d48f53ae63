package compendium

import (
	_ "embed"
)

// defaultCatalog ships a starter compendium so the engine runs without an
// external catalog file.
//
//go:embed default_catalog.json
var defaultCatalog []byte

// DefaultTechniques parses the embedded starter catalog
func DefaultTechniques() ([]Technique, error) {
	return Parse(defaultCatalog)
}
