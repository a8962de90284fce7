package lattice

import "github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"

// Slot is one lattice cell. A decided slot holds Tile and has no options; a pending
// slot holds the catalog indices still admissible, ascending, with Entropy equal to
// their count.
type Slot struct {
	Decided bool
	Tile    tile.Tile
	Options []int
	Entropy int

	// Hydrated marks slots loaded as decided from a store.
	Hydrated bool
}

func PendingSlot(options []int) Slot {
	return Slot{Options: options, Entropy: len(options)}
}

func DecidedSlot(t tile.Tile) Slot {
	return Slot{Decided: true, Tile: t}
}

// Contradicted reports a pending slot with nothing left.
func (s *Slot) Contradicted() bool {
	return !s.Decided && len(s.Options) == 0
}

// Decide collapses the slot to t.
func (s *Slot) Decide(t tile.Tile) {
	s.Decided = true
	s.Tile = t
	s.Options = nil
	s.Entropy = 0
}

// Retain filters Options in place, keeping those for which keep returns true, and
// refreshes Entropy. It reports whether anything was removed.
func (s *Slot) Retain(keep func(k int) bool) bool {
	if s.Decided {
		return false
	}
	n := 0
	for _, k := range s.Options {
		if keep(k) {
			s.Options[n] = k
			n++
		}
	}
	changed := n != len(s.Options)
	s.Options = s.Options[:n]
	s.Entropy = n
	return changed
}
