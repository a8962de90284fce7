package wfc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/catalog"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/lattice"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
)

type joints map[tile.Direction]tile.Joint

// mkTile builds a tile whose faces default to All.
func mkTile(id string, layer, weight int, js joints) tile.Tile {
	t := tile.Tile{ID: id, Layer: layer, Weight: weight, Joints: tile.Uniform(tile.All())}
	for d, j := range js {
		t.Joints[d] = j
	}
	return t
}

func flat(tag string) joints {
	return joints{
		tile.Up:    tile.Tag(tag),
		tile.Down:  tile.Tag(tag),
		tile.Left:  tile.Tag(tag),
		tile.Right: tile.Tag(tag),
	}
}

func mkCatalog(t *testing.T, tiles ...tile.Tile) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(tiles)
	require.NoError(t, err)
	return c
}

func region(sx, sy, sz int) lattice.Region {
	return lattice.Region{Size: lattice.Size{X: sx, Y: sy, Z: sz}}
}

// coastCatalog: grass and water columns joined by shore tiles on layer 0, with
// trees (never adjacent, only over grass or shore) or air on layer 1.
func coastCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	grass := mkTile("grass", 0, 4, flat("g"))
	grass.Joints[tile.Front] = tile.Tag("g")
	water := mkTile("water", 0, 3, flat("w"))
	water.Joints[tile.Front] = tile.Tag("w")
	shoreE := mkTile("shore_e", 0, 1, joints{
		tile.Left: tile.Tag("g"), tile.Right: tile.Tag("w"),
		tile.Up: tile.Tag("shore-e"), tile.Down: tile.Tag("shore-e"),
	})
	shoreW := mkTile("shore_w", 0, 1, joints{
		tile.Left: tile.Tag("w"), tile.Right: tile.Tag("g"),
		tile.Up: tile.Tag("shore-w"), tile.Down: tile.Tag("shore-w"),
	})
	air := mkTile("air", 1, 5, flat(tile.EmptyMarker))
	air.Joints[tile.Front] = tile.None()
	tree := mkTile("tree", 1, 2, flat("tree-empty"))
	tree.Joints[tile.Back] = tile.Tag("g")
	tree.Joints[tile.Front] = tile.None()
	return mkCatalog(t, grass, water, shoreE, shoreW, air, tree)
}

var coastLayers = []int{0, 1}

func requireContradictionAt(t *testing.T, err error) tile.Coord {
	t.Helper()
	var ce *ContradictionError
	require.True(t, errors.As(err, &ce), "expected ContradictionError, got %v", err)
	return ce.At
}

type failingStore struct {
	*MemStore
	loadErr error
	saveErr error
}

func newFailingStore() *failingStore {
	return &failingStore{MemStore: NewMemStore()}
}

func (f *failingStore) Load(ctx context.Context, c tile.Coord) (tile.Tile, error) {
	if f.loadErr != nil {
		return tile.Tile{}, f.loadErr
	}
	return f.MemStore.Load(ctx, c)
}

func (f *failingStore) Save(ctx context.Context, c tile.Coord, t tile.Tile) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.MemStore.Save(ctx, c, t)
}

type captureRecorder struct {
	recs []RunRecord
}

func (c *captureRecorder) RecordRun(rec RunRecord) error {
	c.recs = append(c.recs, rec)
	return nil
}
