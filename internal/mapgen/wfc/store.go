package wfc

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
)

var ErrNotFound = errors.New("wfc: tile not found")

// TileStore hydrates already-known cells and persists newly decided ones. Load
// returns ErrNotFound for unknown cells; any other error aborts generation. Saving
// the same (coord, tile) twice must succeed.
type TileStore interface {
	Load(ctx context.Context, c tile.Coord) (tile.Tile, error)
	Save(ctx context.Context, c tile.Coord, t tile.Tile) error
}

type nopStore struct{}

func (nopStore) Load(context.Context, tile.Coord) (tile.Tile, error) { return tile.Tile{}, ErrNotFound }
func (nopStore) Save(context.Context, tile.Coord, tile.Tile) error  { return nil }

// MemStore is a map-backed TileStore.
type MemStore struct {
	mu    sync.Mutex
	tiles map[tile.Coord]tile.Tile
	saves int
}

func NewMemStore() *MemStore {
	return &MemStore{tiles: map[tile.Coord]tile.Tile{}}
}

func (m *MemStore) Load(_ context.Context, c tile.Coord) (tile.Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tiles[c]
	if !ok {
		return tile.Tile{}, ErrNotFound
	}
	return t, nil
}

func (m *MemStore) Save(_ context.Context, c tile.Coord, t tile.Tile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[c] = t
	m.saves++
	return nil
}

// Preload seeds a cell without counting it as a save.
func (m *MemStore) Preload(c tile.Coord, t tile.Tile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[c] = t
}

func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tiles)
}

// Saves counts Save calls, including repeats.
func (m *MemStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Coords lists stored coordinates in (z, y, x) order.
func (m *MemStore) Coords() []tile.Coord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tile.Coord, 0, len(m.tiles))
	for c := range m.tiles {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
