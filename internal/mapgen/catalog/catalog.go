package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
)

var ErrInvalidCatalog = errors.New("invalid catalog")

// Catalog is the immutable tile vocabulary. Tiles are held in id order; that order
// is the tie-break everywhere the generator has to choose between equals.
type Catalog struct {
	tiles   []tile.Tile
	index   map[string]int
	byLayer map[int][]int
	layers  []int
	digest  string
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCatalog, fmt.Sprintf(format, args...))
}

func New(tiles []tile.Tile) (*Catalog, error) {
	if len(tiles) == 0 {
		return nil, invalid("no tiles")
	}
	c := &Catalog{
		tiles:   make([]tile.Tile, len(tiles)),
		index:   make(map[string]int, len(tiles)),
		byLayer: map[int][]int{},
	}
	copy(c.tiles, tiles)
	sort.Slice(c.tiles, func(i, j int) bool { return c.tiles[i].ID < c.tiles[j].ID })

	for i, t := range c.tiles {
		if strings.TrimSpace(t.ID) == "" {
			return nil, invalid("empty tile id")
		}
		if _, dup := c.index[t.ID]; dup {
			return nil, invalid("duplicate tile id %q", t.ID)
		}
		if t.Weight <= 0 {
			return nil, invalid("tile %q: weight must be > 0, got %d", t.ID, t.Weight)
		}
		if t.Layer < 0 {
			return nil, invalid("tile %q: negative layer %d", t.ID, t.Layer)
		}
		for _, d := range tile.Directions {
			if err := t.Joints[d].Validate(); err != nil {
				return nil, invalid("tile %q: %s joint: %v", t.ID, d, err)
			}
		}
		c.index[t.ID] = i
		if _, ok := c.byLayer[t.Layer]; !ok {
			c.layers = append(c.layers, t.Layer)
		}
		c.byLayer[t.Layer] = append(c.byLayer[t.Layer], i)
	}
	sort.Ints(c.layers)
	c.digest = digestOf(c.tiles)
	return c, nil
}

func (c *Catalog) Len() int { return len(c.tiles) }

// Tile returns the tile at catalog index i (id order).
func (c *Catalog) Tile(i int) tile.Tile { return c.tiles[i] }

func (c *Catalog) AllTiles() []tile.Tile {
	out := make([]tile.Tile, len(c.tiles))
	copy(out, c.tiles)
	return out
}

func (c *Catalog) Lookup(id string) (tile.Tile, bool) {
	i, ok := c.index[id]
	if !ok {
		return tile.Tile{}, false
	}
	return c.tiles[i], true
}

func (c *Catalog) IndexOf(id string) (int, bool) {
	i, ok := c.index[id]
	return i, ok
}

// Layers lists the layers that have at least one tile, ascending.
func (c *Catalog) Layers() []int {
	out := make([]int, len(c.layers))
	copy(out, c.layers)
	return out
}

// DefaultSuperposition returns the starting candidates for a pending slot on layer.
// An empty result means the layer is skipped.
func (c *Catalog) DefaultSuperposition(layer int) []tile.Tile {
	idx := c.byLayer[layer]
	out := make([]tile.Tile, len(idx))
	for i, k := range idx {
		out[i] = c.tiles[k]
	}
	return out
}

// DefaultIndices is DefaultSuperposition as catalog indices. The returned slice is
// freshly allocated and ascending.
func (c *Catalog) DefaultIndices(layer int) []int {
	idx := c.byLayer[layer]
	out := make([]int, len(idx))
	copy(out, idx)
	return out
}

// Digest is the sha256 of the canonical tile list.
func (c *Catalog) Digest() string { return c.digest }

type tileJSON struct {
	ID       string            `json:"id"`
	Layer    int               `json:"layer"`
	Weight   int               `json:"weight"`
	Collider string            `json:"collider,omitempty"`
	Joints   map[string]string `json:"joints"`
}

func toJSON(t tile.Tile) tileJSON {
	out := tileJSON{
		ID:       t.ID,
		Layer:    t.Layer,
		Weight:   t.Weight,
		Collider: t.Collider,
		Joints:   make(map[string]string, tile.NumDirections),
	}
	for _, d := range tile.Directions {
		out.Joints[d.Name()] = t.Joints[d].String()
	}
	return out
}

func digestOf(tiles []tile.Tile) string {
	defs := make([]tileJSON, len(tiles))
	for i, t := range tiles {
		defs[i] = toJSON(t)
	}
	// map keys are marshalled sorted, so this is canonical.
	b, _ := json.Marshal(defs)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
