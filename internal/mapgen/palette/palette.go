package palette

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/catalog"
)

// Unset is the palette index of a cell that holds no decided tile.
const Unset uint16 = 0

// Palette maps tile ids to compact indices. Index 0 is reserved for Unset, so
// IDs[0] is always "".
type Palette struct {
	IDs   []string
	index map[string]uint16
}

// FromCatalog numbers the catalog's tiles 1..n in id order.
func FromCatalog(cat *catalog.Catalog) (Palette, error) {
	ids := make([]string, 0, cat.Len()+1)
	ids = append(ids, "")
	for _, t := range cat.AllTiles() {
		ids = append(ids, t.ID)
	}
	return FromIDs(ids)
}

// FromIDs rebuilds a palette received over the wire or read from a snapshot.
func FromIDs(ids []string) (Palette, error) {
	if len(ids) == 0 || ids[0] != "" {
		return Palette{}, fmt.Errorf("palette must start with the unset entry")
	}
	if len(ids) > 0xFFFF {
		return Palette{}, fmt.Errorf("palette too large: %d entries", len(ids))
	}
	p := Palette{IDs: append([]string(nil), ids...), index: make(map[string]uint16, len(ids))}
	for i, id := range ids[1:] {
		if id == "" {
			return Palette{}, fmt.Errorf("palette entry %d is empty", i+1)
		}
		if _, dup := p.index[id]; dup {
			return Palette{}, fmt.Errorf("duplicate palette entry %q", id)
		}
		p.index[id] = uint16(i + 1)
	}
	return p, nil
}

func (p Palette) Len() int { return len(p.IDs) }

func (p Palette) Index(id string) (uint16, bool) {
	i, ok := p.index[id]
	return i, ok
}

// ID returns "" for Unset and for indices past the end.
func (p Palette) ID(i uint16) string {
	if int(i) >= len(p.IDs) {
		return ""
	}
	return p.IDs[i]
}

func (p Palette) Digest() string {
	b, _ := json.Marshal(p.IDs)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
