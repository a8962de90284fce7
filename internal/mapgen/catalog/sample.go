package catalog

import "sort"

// Source is the randomness a pick draws from. *math/rand/v2.Rand satisfies it.
type Source interface {
	Uint64N(n uint64) uint64
}

// Pick draws one of candidates (catalog indices) with probability proportional to
// tile weight, using a cumulative-weight table and binary search. It returns -1 for
// an empty candidate list.
func (c *Catalog) Pick(candidates []int, rng Source) int {
	switch len(candidates) {
	case 0:
		return -1
	case 1:
		return candidates[0]
	}
	cum := make([]uint64, len(candidates))
	var total uint64
	for i, k := range candidates {
		total += uint64(c.tiles[k].Weight)
		cum[i] = total
	}
	r := rng.Uint64N(total)
	i := sort.Search(len(cum), func(i int) bool { return cum[i] > r })
	return candidates[i]
}

// TotalWeight sums the weights of candidates.
func (c *Catalog) TotalWeight(candidates []int) uint64 {
	var total uint64
	for _, k := range candidates {
		total += uint64(c.tiles[k].Weight)
	}
	return total
}
