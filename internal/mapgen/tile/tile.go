package tile

import "fmt"

type Coord struct {
	X, Y, Z int
}

func (c Coord) Add(o Coord) Coord {
	return Coord{X: c.X + o.X, Y: c.Y + o.Y, Z: c.Z + o.Z}
}

func (c Coord) Neighbor(d Direction) Coord {
	return c.Add(d.Offset())
}

// Less orders coordinates by (z, y, x).
func (c Coord) Less(o Coord) bool {
	if c.Z != o.Z {
		return c.Z < o.Z
	}
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.X < o.X
}

// Compare orders coordinates by (z, y, x) for slices.SortFunc.
func (c Coord) Compare(o Coord) int {
	switch {
	case c.Less(o):
		return -1
	case o.Less(c):
		return 1
	}
	return 0
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z)
}

type Direction uint8

const (
	Up Direction = iota
	Down
	Left
	Right
	Front
	Back
)

const NumDirections = 6

var Directions = [NumDirections]Direction{Up, Down, Left, Right, Front, Back}

func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	case Left:
		return Right
	case Right:
		return Left
	case Front:
		return Back
	default:
		return Front
	}
}

func (d Direction) Offset() Coord {
	switch d {
	case Up:
		return Coord{Y: 1}
	case Down:
		return Coord{Y: -1}
	case Left:
		return Coord{X: -1}
	case Right:
		return Coord{X: 1}
	case Front:
		return Coord{Z: 1}
	default:
		return Coord{Z: -1}
	}
}

func (d Direction) String() string {
	switch d {
	case Up:
		return "+Y"
	case Down:
		return "-Y"
	case Left:
		return "-X"
	case Right:
		return "+X"
	case Front:
		return "+Z"
	case Back:
		return "-Z"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// Name is the lowercase face name used in catalog files.
func (d Direction) Name() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	case Front:
		return "front"
	case Back:
		return "back"
	default:
		return ""
	}
}

type Tile struct {
	ID       string
	Layer    int
	Weight   int
	Collider string
	Joints   [NumDirections]Joint
}

func (t Tile) Joint(d Direction) Joint {
	return t.Joints[d]
}

// Fits reports whether t and n may touch with n in direction d of t. Both faces
// must admit each other.
func (t Tile) Fits(d Direction, n Tile) bool {
	a, b := t.Joints[d], n.Joints[d.Opposite()]
	return Compatible(a, b) && Compatible(b, a)
}

// Uniform returns a joint array with j on every face.
func Uniform(j Joint) [NumDirections]Joint {
	var out [NumDirections]Joint
	for i := range out {
		out[i] = j
	}
	return out
}
