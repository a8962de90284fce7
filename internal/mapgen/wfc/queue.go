package wfc

import (
	"container/heap"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/lattice"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
)

type pendingEntry struct {
	coord   tile.Coord
	entropy int
}

// pendingQueue orders pending slots by (entropy, z, y, x). Entropy only shrinks,
// so a slot is pushed again on every change and superseded entries are dropped
// lazily when they reach the top.
type pendingQueue []pendingEntry

func (pq pendingQueue) Len() int { return len(pq) }

func (pq pendingQueue) Less(i, j int) bool {
	if pq[i].entropy != pq[j].entropy {
		return pq[i].entropy < pq[j].entropy
	}
	return pq[i].coord.Less(pq[j].coord)
}

func (pq pendingQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *pendingQueue) Push(x any) { *pq = append(*pq, x.(pendingEntry)) }

func (pq *pendingQueue) Pop() any {
	old := *pq
	n := len(old)
	e := old[n-1]
	*pq = old[:n-1]
	return e
}

func (pq *pendingQueue) track(c tile.Coord, s *lattice.Slot) {
	heap.Push(pq, pendingEntry{coord: c, entropy: s.Entropy})
}

// peek returns the live entry with the lowest key, or a nil slot when no pending
// slot remains. The returned entry stays queued until its slot is decided.
func (pq *pendingQueue) peek(l *lattice.Lattice) (tile.Coord, *lattice.Slot) {
	for pq.Len() > 0 {
		top := (*pq)[0]
		s, ok := l.Get(top.coord)
		if ok && !s.Decided && s.Entropy == top.entropy {
			return top.coord, s
		}
		heap.Pop(pq)
	}
	return tile.Coord{}, nil
}
