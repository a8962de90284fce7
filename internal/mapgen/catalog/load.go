package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
)

//go:embed catalog.schema.json
var schemaText string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("catalog.schema.json", schemaText)
	})
	return schema, schemaErr
}

// Load reads a tiles.json file and builds a catalog from it.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return c, nil
}

// Parse validates raw against the catalog schema and builds the catalog.
// Omitted joints default to "*".
func Parse(raw []byte) (*Catalog, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	var defs []tileJSON
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&defs); err != nil {
		return nil, err
	}
	tiles := make([]tile.Tile, 0, len(defs))
	for _, d := range defs {
		t := tile.Tile{
			ID:       d.ID,
			Layer:    d.Layer,
			Weight:   d.Weight,
			Collider: d.Collider,
			Joints:   tile.Uniform(tile.All()),
		}
		for _, dir := range tile.Directions {
			s, ok := d.Joints[dir.Name()]
			if !ok {
				continue
			}
			j, err := tile.ParseJoint(s)
			if err != nil {
				return nil, invalid("tile %q: %s joint %q: %v", d.ID, dir.Name(), s, err)
			}
			t.Joints[dir] = j
		}
		tiles = append(tiles, t)
	}
	return New(tiles)
}

// Marshal renders the catalog in the tiles.json format.
func (c *Catalog) Marshal() ([]byte, error) {
	defs := make([]tileJSON, len(c.tiles))
	for i, t := range c.tiles {
		defs[i] = toJSON(t)
	}
	return json.MarshalIndent(defs, "", "  ")
}
