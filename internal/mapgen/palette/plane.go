package palette

import (
	"fmt"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/lattice"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
)

// Plane flattens plane z of l into palette indices in row-major (y, x) order,
// starting at the region's minimum corner. Absent and pending cells are Unset.
func Plane(l *lattice.Lattice, p Palette, z int) ([]uint16, error) {
	r := l.Region()
	if r.Volume() == 0 {
		return nil, nil
	}
	lo := r.Min()
	out := make([]uint16, 0, r.Size.X*r.Size.Y)
	for y := 0; y < r.Size.Y; y++ {
		for x := 0; x < r.Size.X; x++ {
			t, ok := l.TileAt(tile.Coord{X: lo.X + x, Y: lo.Y + y, Z: z})
			if !ok {
				out = append(out, Unset)
				continue
			}
			i, ok := p.Index(t.ID)
			if !ok {
				return nil, fmt.Errorf("tile %q at z=%d is not in the palette", t.ID, z)
			}
			out = append(out, i)
		}
	}
	return out, nil
}
