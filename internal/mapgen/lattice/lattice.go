package lattice

import (
	"fmt"
	"sort"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/catalog"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
)

// Lattice is a sparse map from coordinate to slot over a region. Cells that were
// never set, or lie outside the region, are absent.
type Lattice struct {
	cat    *catalog.Catalog
	region Region
	layers []int

	slots map[tile.Coord]*Slot
	order []tile.Coord // (z, y, x) ascending
}

// New returns an empty lattice. layers[z] names the catalog layer used by plane z;
// planes past the end of layers use layer 0.
func New(cat *catalog.Catalog, region Region, layers []int) *Lattice {
	ls := make([]int, len(layers))
	copy(ls, layers)
	return &Lattice{
		cat:    cat,
		region: region,
		layers: ls,
		slots:  make(map[tile.Coord]*Slot, region.Volume()),
	}
}

func (l *Lattice) Catalog() *catalog.Catalog { return l.cat }
func (l *Lattice) Region() Region            { return l.region }

func (l *Lattice) LayerAt(z int) int {
	if z >= 0 && z < len(l.layers) {
		return l.layers[z]
	}
	return 0
}

func (l *Lattice) Len() int { return len(l.slots) }

func (l *Lattice) Get(c tile.Coord) (*Slot, bool) {
	s, ok := l.slots[c]
	return s, ok
}

// Set stores a copy of s at c. Coordinates outside the region are ignored.
func (l *Lattice) Set(c tile.Coord, s Slot) {
	if !l.region.Contains(c) {
		return
	}
	if cur, ok := l.slots[c]; ok {
		*cur = s
		return
	}
	cp := s
	l.slots[c] = &cp
	i := sort.Search(len(l.order), func(i int) bool { return !l.order[i].Less(c) })
	l.order = append(l.order, tile.Coord{})
	copy(l.order[i+1:], l.order[i:])
	l.order[i] = c
}

// Coords returns the present coordinates in (z, y, x) order. The slice is shared;
// callers must not modify it.
func (l *Lattice) Coords() []tile.Coord { return l.order }

type Neighbor struct {
	Dir   tile.Direction
	Coord tile.Coord
	Slot  *Slot // nil when absent
}

func (l *Lattice) Neighbors(c tile.Coord) [tile.NumDirections]Neighbor {
	var out [tile.NumDirections]Neighbor
	for i, d := range tile.Directions {
		nc := c.Neighbor(d)
		out[i] = Neighbor{Dir: d, Coord: nc, Slot: l.slots[nc]}
	}
	return out
}

func (l *Lattice) TileAt(c tile.Coord) (tile.Tile, bool) {
	s, ok := l.slots[c]
	if !ok || !s.Decided {
		return tile.Tile{}, false
	}
	return s.Tile, true
}

func (l *Lattice) CountDecided() int {
	n := 0
	for _, s := range l.slots {
		if s.Decided {
			n++
		}
	}
	return n
}

func (l *Lattice) CountPending() int { return len(l.slots) - l.CountDecided() }

// TileIDs maps every decided coordinate to its tile id.
func (l *Lattice) TileIDs() map[tile.Coord]string {
	out := make(map[tile.Coord]string, len(l.slots))
	for c, s := range l.slots {
		if s.Decided {
			out[c] = s.Tile.ID
		}
	}
	return out
}

// Verify checks the between-step invariants: pending entropy equals the option
// count, options are ascending catalog indices on the plane's layer, decided tiles
// are catalog tiles on the plane's layer, and adjacent decided slots are compatible.
func (l *Lattice) Verify() error {
	for _, c := range l.order {
		s := l.slots[c]
		layer := l.LayerAt(c.Z)
		if s.Decided {
			ct, ok := l.cat.Lookup(s.Tile.ID)
			if !ok {
				return fmt.Errorf("%s: tile %q not in catalog", c, s.Tile.ID)
			}
			if ct.Layer != layer {
				return fmt.Errorf("%s: tile %q on layer %d, plane wants %d", c, ct.ID, ct.Layer, layer)
			}
			if len(s.Options) != 0 || s.Entropy != 0 {
				return fmt.Errorf("%s: decided slot keeps %d options, entropy %d", c, len(s.Options), s.Entropy)
			}
			for _, n := range l.Neighbors(c) {
				if n.Slot == nil || !n.Slot.Decided {
					continue
				}
				if !s.Tile.Fits(n.Dir, n.Slot.Tile) {
					return fmt.Errorf("%s: %q incompatible with %q on %s", c, s.Tile.ID, n.Slot.Tile.ID, n.Dir)
				}
			}
			continue
		}
		if s.Entropy != len(s.Options) {
			return fmt.Errorf("%s: entropy %d but %d options", c, s.Entropy, len(s.Options))
		}
		for i, k := range s.Options {
			if k < 0 || k >= l.cat.Len() {
				return fmt.Errorf("%s: option %d out of catalog range", c, k)
			}
			if i > 0 && s.Options[i-1] >= k {
				return fmt.Errorf("%s: options not ascending", c)
			}
			if l.cat.Tile(k).Layer != layer {
				return fmt.Errorf("%s: option %q on layer %d, plane wants %d", c, l.cat.Tile(k).ID, l.cat.Tile(k).Layer, layer)
			}
		}
	}
	return nil
}
