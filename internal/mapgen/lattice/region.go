package lattice

import (
	"fmt"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
)

type Size struct {
	X, Y, Z int
}

// Region is the box being generated. x and y span Size cells starting at
// Center-Size/2; z spans [0, Size.Z) regardless of Center.Z.
type Region struct {
	Center tile.Coord
	Size   Size
}

func (r Region) Validate() error {
	if r.Size.X < 0 || r.Size.Y < 0 || r.Size.Z < 0 {
		return fmt.Errorf("region size must be non-negative, got %dx%dx%d", r.Size.X, r.Size.Y, r.Size.Z)
	}
	return nil
}

func (r Region) Min() tile.Coord {
	return tile.Coord{X: r.Center.X - r.Size.X/2, Y: r.Center.Y - r.Size.Y/2, Z: 0}
}

// Max is the inclusive upper corner. It is meaningless for an empty region.
func (r Region) Max() tile.Coord {
	m := r.Min()
	return tile.Coord{X: m.X + r.Size.X - 1, Y: m.Y + r.Size.Y - 1, Z: r.Size.Z - 1}
}

func (r Region) Volume() int {
	if r.Size.X <= 0 || r.Size.Y <= 0 || r.Size.Z <= 0 {
		return 0
	}
	return r.Size.X * r.Size.Y * r.Size.Z
}

func (r Region) Contains(c tile.Coord) bool {
	if r.Volume() == 0 {
		return false
	}
	lo, hi := r.Min(), r.Max()
	return c.X >= lo.X && c.X <= hi.X &&
		c.Y >= lo.Y && c.Y <= hi.Y &&
		c.Z >= lo.Z && c.Z <= hi.Z
}

// Coords lists every cell in (z, y, x) order.
func (r Region) Coords() []tile.Coord {
	n := r.Volume()
	if n == 0 {
		return nil
	}
	out := make([]tile.Coord, 0, n)
	lo, hi := r.Min(), r.Max()
	for z := lo.Z; z <= hi.Z; z++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for x := lo.X; x <= hi.X; x++ {
				out = append(out, tile.Coord{X: x, Y: y, Z: z})
			}
		}
	}
	return out
}

func (r Region) String() string {
	return fmt.Sprintf("center=%s size=%dx%dx%d", r.Center, r.Size.X, r.Size.Y, r.Size.Z)
}
