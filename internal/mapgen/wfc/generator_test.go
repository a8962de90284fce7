package wfc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/catalog"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/lattice"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
)

func TestGenerate_SingleTileFillsRegion(t *testing.T) {
	cat := mkCatalog(t, mkTile("T", 0, 1, nil))
	store := NewMemStore()

	res, err := Generate(context.Background(), Config{Catalog: cat, Region: region(3, 3, 1), Store: store, Seed: 7})
	require.NoError(t, err)
	require.Equal(t, 9, res.Lattice.Len())
	for c, id := range res.Lattice.TileIDs() {
		require.Equal(t, "T", id, "cell %s", c)
	}
	require.Equal(t, 9, res.Summary.Observations)
	require.Equal(t, 9, res.Summary.CellsDecided)
	require.Equal(t, 9, res.Summary.Saved)
	require.Equal(t, 9, store.Len())
	require.NoError(t, res.Lattice.Verify())
}

func TestGenerate_PreseededTileSpreads(t *testing.T) {
	g := tile.Tile{ID: "G", Layer: 0, Weight: 1, Joints: tile.Uniform(tile.Tag("grass"))}
	st := tile.Tile{ID: "S", Layer: 0, Weight: 1, Joints: tile.Uniform(tile.Tag("stone"))}
	cat := mkCatalog(t, g, st)

	for seed := uint64(0); seed < 16; seed++ {
		store := NewMemStore()
		store.Preload(tile.Coord{}, g)
		res, err := Generate(context.Background(), Config{Catalog: cat, Region: region(2, 2, 1), Store: store, Seed: seed})
		require.NoError(t, err)

		ids := res.Lattice.TileIDs()
		require.Len(t, ids, 4)
		for c, id := range ids {
			require.Equal(t, "G", id, "seed %d cell %s", seed, c)
		}
		require.Equal(t, 1, res.Summary.Hydrated)
		require.Equal(t, 3, res.Summary.Saved)
		// Propagation leaves one option per open cell; each still takes an observation.
		require.Equal(t, 3, res.Summary.Observations)
	}
}

func TestGenerate_RowAgreesOnOneTile(t *testing.T) {
	a := mkTile("A", 0, 1, joints{tile.Right: tile.Tag("a"), tile.Left: tile.Tag("a")})
	b := mkTile("B", 0, 1, joints{tile.Right: tile.Tag("b"), tile.Left: tile.Tag("b")})
	cat := mkCatalog(t, a, b)

	seen := map[string]bool{}
	for seed := uint64(0); seed < 64; seed++ {
		res, err := Generate(context.Background(), Config{Catalog: cat, Region: region(3, 1, 1), Seed: seed})
		require.NoError(t, err)
		row := rowString(res.Lattice, 0, 0)
		require.Contains(t, []string{"AAA", "BBB"}, row, "seed %d", seed)
		seen[row] = true
		require.Equal(t, 3, res.Summary.Observations)
	}
	require.Len(t, seen, 2)
}

func TestGenerate_NoneFaceContradictsPlaneAbove(t *testing.T) {
	top := mkTile("T", 0, 1, joints{tile.Front: tile.None()})
	cat := mkCatalog(t, top)

	res, err := Generate(context.Background(), Config{Catalog: cat, Region: region(1, 1, 2), Seed: 1})
	at := requireContradictionAt(t, err)
	require.Equal(t, 1, at.Z)
	require.Equal(t, "contradiction", Outcome(err))
	require.True(t, Retryable(err))

	require.NotNil(t, res)
	low, ok := res.Lattice.Get(tile.Coord{})
	require.True(t, ok)
	require.False(t, low.Decided)
	require.Equal(t, []int{0}, low.Options)
	require.Equal(t, 1, low.Entropy)
	require.Zero(t, res.Summary.Saved)
}

func TestGenerate_WeightedDistribution(t *testing.T) {
	cat := mkCatalog(t, mkTile("A", 0, 1, nil), mkTile("B", 0, 3, nil))

	const n = 1000
	bs := 0
	for seed := uint64(0); seed < n; seed++ {
		res, err := Generate(context.Background(), Config{Catalog: cat, Region: region(1, 1, 1), Seed: seed})
		require.NoError(t, err)
		id, ok := res.Lattice.TileAt(tile.Coord{})
		require.True(t, ok)
		if id.ID == "B" {
			bs++
		}
	}
	freq := float64(bs) / n
	require.InDelta(t, 0.75, freq, 0.05)
}

func TestGenerate_CancelAfterFirstObservation(t *testing.T) {
	cat := mkCatalog(t, mkTile("T", 0, 1, nil))
	store := NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := Generate(ctx, Config{
		Catalog: cat,
		Region:  region(10, 10, 1),
		Store:   store,
		Seed:    3,
		Options: Options{AfterObserve: func(tile.Coord, tile.Tile, int) { cancel() }},
	})
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, "cancelled", Outcome(err))
	require.False(t, Retryable(err))

	require.Equal(t, 1, res.Lattice.CountDecided())
	require.Equal(t, 99, res.Lattice.CountPending())
	require.Zero(t, store.Len())
	require.Zero(t, store.Saves())
	require.NoError(t, res.Lattice.Verify())
}

func TestGenerate_CancelledBeforeStart(t *testing.T) {
	cat := coastCatalog(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Generate(ctx, Config{Catalog: cat, Region: region(4, 4, 2), Seed: 1, Options: Options{Layers: coastLayers}})
	require.ErrorIs(t, err, ErrCancelled)
	require.Zero(t, res.Summary.Observations)
	require.Zero(t, res.Lattice.CountDecided())
}

func TestGenerate_InvariantsHoldBetweenSteps(t *testing.T) {
	cat := coastCatalog(t)
	successes := 0
	for seed := uint64(0); seed < 24; seed++ {
		prev := map[tile.Coord][]string{}
		check := func(l *lattice.Lattice, when string) {
			require.NoError(t, l.Verify(), "seed %d %s", seed, when)
			for _, c := range l.Coords() {
				s, _ := l.Get(c)
				cur := optionIDs(l.Catalog(), s)
				if old, ok := prev[c]; ok {
					require.Subset(t, old, cur, "seed %d %s: %s grew", seed, when, c)
				}
				prev[c] = cur
			}
		}
		var lat *lattice.Lattice
		opts := Options{
			Layers: coastLayers,
			AfterPass: func(l *lattice.Lattice, pass int) {
				lat = l
				check(l, fmt.Sprintf("pass %d", pass))
			},
			AfterObserve: func(c tile.Coord, tl tile.Tile, n int) {
				if lat != nil {
					check(lat, fmt.Sprintf("observation %d", n))
				}
			},
		}
		res, err := Generate(context.Background(), Config{Catalog: cat, Region: region(6, 5, 2), Seed: seed, Options: opts})
		require.NoError(t, res.Lattice.Verify(), "seed %d final", seed)
		if err != nil {
			requireContradictionAt(t, err)
			continue
		}
		successes++
		require.Zero(t, res.Lattice.CountPending())
		requireAdjacencyHolds(t, res.Lattice)
	}
	require.Positive(t, successes)
}

func TestGenerate_Deterministic(t *testing.T) {
	cat := coastCatalog(t)
	run := func(seed uint64) *Result {
		store := NewMemStore()
		store.Preload(tile.Coord{X: 1, Y: 0, Z: 0}, mustLookup(t, cat, "grass"))
		res, err := Generate(context.Background(), Config{
			Catalog: cat, Region: region(7, 7, 2), Store: store, Seed: seed,
			Options: Options{Layers: coastLayers},
		})
		require.NoError(t, err)
		return res
	}
	for _, seed := range []uint64{0, 1, 42, 1 << 40} {
		a, b := run(seed), run(seed)
		require.Equal(t, a.Lattice.TileIDs(), b.Lattice.TileIDs(), "seed %d", seed)
		require.Equal(t, a.Summary, b.Summary, "seed %d", seed)
	}
}

func TestGenerate_SeedChangesLayout(t *testing.T) {
	cat := coastCatalog(t)
	layouts := map[string]bool{}
	for seed := uint64(0); seed < 16; seed++ {
		res, err := Generate(context.Background(), Config{Catalog: cat, Region: region(5, 5, 2), Seed: seed, Options: Options{Layers: coastLayers}})
		if err != nil {
			continue
		}
		layouts[layoutKey(res.Lattice)] = true
	}
	require.Greater(t, len(layouts), 1)
}

func TestGenerate_PreseededCellSurvivesAnySeed(t *testing.T) {
	cat := coastCatalog(t)
	c0 := tile.Coord{X: -1, Y: 1, Z: 0}
	shore := mustLookup(t, cat, "shore_e")
	for seed := uint64(0); seed < 20; seed++ {
		store := NewMemStore()
		store.Preload(c0, shore)
		res, err := Generate(context.Background(), Config{
			Catalog: cat, Region: region(5, 5, 2), Store: store, Seed: seed,
			Options: Options{Layers: coastLayers},
		})
		require.NoError(t, err, "seed %d", seed)
		got, ok := res.Lattice.TileAt(c0)
		require.True(t, ok)
		require.Equal(t, shore, got)
		s, _ := res.Lattice.Get(c0)
		require.True(t, s.Hydrated)
		// A shore cell pins its whole column.
		for y := -2; y <= 2; y++ {
			col, _ := res.Lattice.TileAt(tile.Coord{X: -1, Y: y})
			require.Equal(t, "shore_e", col.ID, "seed %d y=%d", seed, y)
		}
	}
}

func TestGenerate_SecondRunHydratesEverything(t *testing.T) {
	cat := coastCatalog(t)
	store := NewMemStore()
	cfg := Config{Catalog: cat, Region: region(4, 3, 2), Store: store, Seed: 11, Options: Options{Layers: coastLayers}}

	first, err := Generate(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 24, first.Summary.Saved)
	require.Equal(t, 24, store.Len())

	cfg.Seed = 99
	second, err := Generate(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, first.Lattice.TileIDs(), second.Lattice.TileIDs())
	require.Equal(t, 24, second.Summary.Hydrated)
	require.Zero(t, second.Summary.Observations)
	require.Zero(t, second.Summary.Saved)
	require.Equal(t, 24, store.Saves())
}

func TestGenerate_SkipsPlanesWithoutTiles(t *testing.T) {
	cat := coastCatalog(t)
	res, err := Generate(context.Background(), Config{
		Catalog: cat, Region: region(3, 3, 3), Seed: 5,
		Options: Options{Layers: []int{0, 7, 1}},
	})
	require.NoError(t, err)
	require.Equal(t, 18, res.Lattice.Len())
	_, ok := res.Lattice.Get(tile.Coord{Z: 1})
	require.False(t, ok)
	for _, c := range res.Lattice.Coords() {
		require.NotEqual(t, 1, c.Z)
	}
}

func TestGenerate_ObservationBudget(t *testing.T) {
	cat := mkCatalog(t, mkTile("T", 0, 1, nil))
	store := NewMemStore()
	res, err := Generate(context.Background(), Config{
		Catalog: cat, Region: region(3, 3, 1), Store: store, Seed: 1,
		Options: Options{MaxObservations: 3},
	})
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	require.Equal(t, 3, ex.After)
	require.Equal(t, "exhausted", Outcome(err))
	require.True(t, Retryable(err))
	require.Equal(t, 3, res.Lattice.CountDecided())
	require.Zero(t, store.Len())

	// A budget equal to the work needed is enough.
	res, err = Generate(context.Background(), Config{
		Catalog: cat, Region: region(3, 3, 1), Seed: 1,
		Options: Options{MaxObservations: 9},
	})
	require.NoError(t, err)
	require.Equal(t, 9, res.Summary.Observations)
}

func TestGenerate_HydratedTileMustBelongToCatalog(t *testing.T) {
	cat := coastCatalog(t)

	store := NewMemStore()
	store.Preload(tile.Coord{}, mkTile("lava", 0, 1, nil))
	_, err := Generate(context.Background(), Config{Catalog: cat, Region: region(3, 3, 2), Store: store, Options: Options{Layers: coastLayers}})
	require.ErrorIs(t, err, catalog.ErrInvalidCatalog)

	store = NewMemStore()
	store.Preload(tile.Coord{}, mustLookup(t, cat, "tree"))
	_, err = Generate(context.Background(), Config{Catalog: cat, Region: region(3, 3, 2), Store: store, Options: Options{Layers: coastLayers}})
	require.ErrorIs(t, err, catalog.ErrInvalidCatalog)
}

func TestGenerate_IncompatibleHydratedNeighbours(t *testing.T) {
	cat := coastCatalog(t)
	store := NewMemStore()
	store.Preload(tile.Coord{X: 0}, mustLookup(t, cat, "grass"))
	store.Preload(tile.Coord{X: 1}, mustLookup(t, cat, "water"))

	res, err := Generate(context.Background(), Config{Catalog: cat, Region: region(3, 3, 2), Store: store, Options: Options{Layers: coastLayers}})
	at := requireContradictionAt(t, err)
	require.Equal(t, tile.Coord{X: 1}, at)
	require.Equal(t, 2, res.Summary.Hydrated)
	require.Zero(t, store.Saves())
}

func TestGenerate_StoreFailures(t *testing.T) {
	cat := mkCatalog(t, mkTile("T", 0, 1, nil))
	boom := errors.New("disk on fire")

	ls := newFailingStore()
	ls.loadErr = boom
	_, err := Generate(context.Background(), Config{Catalog: cat, Region: region(2, 2, 1), Store: ls})
	var se *StoreError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "load", se.Op)
	require.Equal(t, tile.Coord{X: -1, Y: -1}, se.At)
	require.ErrorIs(t, err, boom)
	require.Equal(t, "store_error", Outcome(err))
	require.False(t, Retryable(err))

	ss := newFailingStore()
	ss.saveErr = boom
	res, err := Generate(context.Background(), Config{Catalog: cat, Region: region(2, 2, 1), Store: ss})
	require.ErrorAs(t, err, &se)
	require.Equal(t, "save", se.Op)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 4, res.Lattice.CountDecided())
}

func TestGenerate_RejectsBadConfig(t *testing.T) {
	cat := mkCatalog(t, mkTile("T", 0, 1, nil))
	_, err := Generate(context.Background(), Config{Region: region(1, 1, 1)})
	require.ErrorIs(t, err, catalog.ErrInvalidCatalog)

	_, err = Generate(context.Background(), Config{Catalog: cat, Region: region(-1, 1, 1)})
	require.Error(t, err)

	_, err = Generate(context.Background(), Config{Catalog: cat, Region: region(1, 1, 1), Options: Options{Layers: []int{-2}}})
	require.Error(t, err)

	g, err := New(Config{Catalog: cat, Region: region(1, 1, 1)})
	require.NoError(t, err)
	_, err = g.Run(context.Background())
	require.NoError(t, err)
	_, err = g.Run(context.Background())
	require.Error(t, err)
}

func TestGenerate_EmptyRegionSucceeds(t *testing.T) {
	cat := mkCatalog(t, mkTile("T", 0, 1, nil))
	res, err := Generate(context.Background(), Config{Catalog: cat, Region: region(0, 4, 1)})
	require.NoError(t, err)
	require.Zero(t, res.Lattice.Len())
	require.Zero(t, res.Summary.Observations)
}

func rowString(l *lattice.Lattice, y, z int) string {
	var b strings.Builder
	r := l.Region()
	for x := r.Min().X; x <= r.Max().X; x++ {
		t, ok := l.TileAt(tile.Coord{X: x, Y: y, Z: z})
		if !ok {
			b.WriteByte('?')
			continue
		}
		b.WriteString(t.ID)
	}
	return b.String()
}

func layoutKey(l *lattice.Lattice) string {
	var b strings.Builder
	for _, c := range l.Coords() {
		t, _ := l.TileAt(c)
		fmt.Fprintf(&b, "%s=%s;", c, t.ID)
	}
	return b.String()
}

func optionIDs(cat *catalog.Catalog, s *lattice.Slot) []string {
	if s.Decided {
		return []string{s.Tile.ID}
	}
	out := make([]string, 0, len(s.Options))
	for _, k := range s.Options {
		out = append(out, cat.Tile(k).ID)
	}
	sort.Strings(out)
	return out
}

func requireAdjacencyHolds(t *testing.T, l *lattice.Lattice) {
	t.Helper()
	for _, c := range l.Coords() {
		a, ok := l.TileAt(c)
		require.True(t, ok)
		for _, n := range l.Neighbors(c) {
			if n.Slot == nil {
				continue
			}
			require.True(t, n.Slot.Decided)
			require.True(t, tile.Compatible(a.Joints[n.Dir], n.Slot.Tile.Joints[n.Dir.Opposite()]),
				"%s %s -> %s %s", c, a.ID, n.Coord, n.Slot.Tile.ID)
		}
	}
}

func mustLookup(t *testing.T, cat *catalog.Catalog, id string) tile.Tile {
	t.Helper()
	tl, ok := cat.Lookup(id)
	require.True(t, ok, "tile %q", id)
	return tl
}
