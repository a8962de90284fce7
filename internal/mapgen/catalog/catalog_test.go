package catalog

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
)

func mk(id string, layer, weight int) tile.Tile {
	return tile.Tile{ID: id, Layer: layer, Weight: weight, Joints: tile.Uniform(tile.All())}
}

func TestNewRejectsInvalidTiles(t *testing.T) {
	bad := tile.Tile{ID: "x", Weight: 1}
	cases := map[string][]tile.Tile{
		"empty":        nil,
		"zero weight":  {mk("a", 0, 0)},
		"neg weight":   {mk("a", 0, -2)},
		"duplicate id": {mk("a", 0, 1), mk("a", 0, 2)},
		"blank id":     {mk(" ", 0, 1)},
		"zero joints":  {bad},
		"neg layer":    {mk("a", -1, 1)},
	}
	for name, tiles := range cases {
		_, err := New(tiles)
		require.ErrorIs(t, err, ErrInvalidCatalog, name)
	}
}

func TestDefaultSuperpositionFiltersLayerInIDOrder(t *testing.T) {
	c, err := New([]tile.Tile{mk("water", 0, 1), mk("flower", 1, 1), mk("grass", 0, 3), mk("dirt", 0, 2)})
	require.NoError(t, err)

	var ids []string
	for _, tl := range c.DefaultSuperposition(0) {
		ids = append(ids, tl.ID)
	}
	require.Equal(t, []string{"dirt", "grass", "water"}, ids)
	require.Len(t, c.DefaultSuperposition(1), 1)
	require.Empty(t, c.DefaultSuperposition(7))
	require.Equal(t, []int{0, 1}, c.Layers())

	all := c.AllTiles()
	require.Equal(t, "dirt", all[0].ID)
	require.Equal(t, "water", all[3].ID)
}

type fixedSource uint64

func (f fixedSource) Uint64N(n uint64) uint64 { return uint64(f) % n }

func TestPickCumulativeWeights(t *testing.T) {
	c, err := New([]tile.Tile{mk("a", 0, 1), mk("b", 0, 3)})
	require.NoError(t, err)
	cands := c.DefaultIndices(0)

	// total weight 4: r=0 -> a, r=1..3 -> b
	require.Equal(t, "a", c.Tile(c.Pick(cands, fixedSource(0))).ID)
	for r := uint64(1); r < 4; r++ {
		require.Equal(t, "b", c.Tile(c.Pick(cands, fixedSource(r))).ID, "r=%d", r)
	}
	require.Equal(t, -1, c.Pick(nil, fixedSource(0)))
	require.Equal(t, uint64(4), c.TotalWeight(cands))
}

func TestPickDistribution(t *testing.T) {
	c, err := New([]tile.Tile{mk("a", 0, 1), mk("b", 0, 3)})
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(1, 2))
	cands := c.DefaultIndices(0)
	const n = 20000
	b := 0
	for i := 0; i < n; i++ {
		if c.Tile(c.Pick(cands, rng)).ID == "b" {
			b++
		}
	}
	require.InDelta(t, 0.75, float64(b)/n, 0.03)
}

func TestParseAndMarshalRoundTrip(t *testing.T) {
	raw := []byte(`[
	  {"id":"grass","layer":0,"weight":4,"collider":"none","joints":{"up":"grass","down":"grass","left":"grass","right":"grass"}},
	  {"id":"shore","layer":0,"weight":1,"joints":{"up":"grass-empty","down":"-"}},
	  {"id":"tree","layer":1,"weight":2,"collider":"solid","joints":{"back":"*","front":"-"}}
	]`)
	c, err := Parse(raw)
	require.NoError(t, err)

	g, ok := c.Lookup("grass")
	require.True(t, ok)
	require.Equal(t, 4, g.Weight)
	require.Equal(t, "none", g.Collider)
	require.True(t, g.Joints[tile.Front].IsAll(), "omitted joint should default to All")

	s, _ := c.Lookup("shore")
	require.True(t, s.Joints[tile.Down].IsNone())
	require.Equal(t, "grass-empty", s.Joints[tile.Up].Tag)

	out, err := c.Marshal()
	require.NoError(t, err)
	c2, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, c.Digest(), c2.Digest())
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := []string{
		`[]`,
		`[{"id":"a","weight":0}]`,
		`[{"id":"a","weight":1,"joints":{"top":"x"}}]`,
		`[{"id":"a","weight":1,"joints":{"up":""}}]`,
		`[{"id":"a","weight":1,"extra":true}]`,
		`[{"weight":1}]`,
	}
	for _, raw := range cases {
		_, err := Parse([]byte(raw))
		require.ErrorIs(t, err, ErrInvalidCatalog, raw)
	}
}

func TestLoad_TilesJSON(t *testing.T) {
	c, err := Load("../../../configs/tiles.json")
	require.NoError(t, err)
	require.Len(t, c.DefaultSuperposition(0), 4)
	require.Len(t, c.DefaultSuperposition(1), 3)

	air, ok := c.Lookup("air")
	require.True(t, ok)
	require.True(t, air.Joints[tile.Front].IsNone())
	require.True(t, air.Joints[tile.Back].IsAll())
}
