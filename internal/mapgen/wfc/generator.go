package wfc

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/catalog"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/lattice"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
)

type Options struct {
	// MaxObservations bounds the number of collapses; 0 means unlimited.
	MaxObservations int

	// Layers[z] is the catalog layer for plane z. Planes without an entry use layer 0.
	Layers []int

	// AfterPass runs after every completed propagation pass.
	AfterPass func(l *lattice.Lattice, pass int)
	// AfterObserve runs after every collapse, before propagation.
	AfterObserve func(c tile.Coord, t tile.Tile, observation int)
}

type Config struct {
	Catalog *catalog.Catalog
	Region  lattice.Region
	Store   TileStore // nil: nothing hydrated, nothing saved
	Seed    uint64
	Options Options
}

type Summary struct {
	CellsDecided      int `json:"cells_decided"`
	Hydrated          int `json:"hydrated"`
	Observations      int `json:"observations"`
	PropagationPasses int `json:"propagation_passes"`
	Saved             int `json:"saved"`
}

// Result is returned on success and failure alike; on failure Lattice is the
// partial state at the point generation stopped.
type Result struct {
	Lattice *lattice.Lattice
	Summary Summary
	Seed    uint64
}

// Generator runs one generation. It owns its lattice for the duration of Run and
// is not safe for concurrent use.
type Generator struct {
	cat   *catalog.Catalog
	store TileStore
	opts  Options
	seed  uint64
	rng   *rand.Rand

	lat     *lattice.Lattice
	dirty   map[tile.Coord]struct{}
	pending pendingQueue
	summary Summary
	ran     bool
}

// seedStream keeps the PCG increment distinct from the state for small seeds.
const seedStream = 0x9e3779b97f4a7c15

func New(cfg Config) (*Generator, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("%w: nil catalog", catalog.ErrInvalidCatalog)
	}
	if err := cfg.Region.Validate(); err != nil {
		return nil, err
	}
	for z, layer := range cfg.Options.Layers {
		if layer < 0 {
			return nil, fmt.Errorf("plane %d: negative layer %d", z, layer)
		}
	}
	if cfg.Options.MaxObservations < 0 {
		return nil, fmt.Errorf("max observations must be >= 0, got %d", cfg.Options.MaxObservations)
	}
	store := cfg.Store
	if store == nil {
		store = nopStore{}
	}
	return &Generator{
		cat:   cfg.Catalog,
		store: store,
		opts:  cfg.Options,
		seed:  cfg.Seed,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^seedStream)),
		lat:   lattice.New(cfg.Catalog, cfg.Region, cfg.Options.Layers),
		dirty: map[tile.Coord]struct{}{},
	}, nil
}

// Generate is New followed by Run.
func Generate(ctx context.Context, cfg Config) (*Result, error) {
	g, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return g.Run(ctx)
}

// Run initializes the lattice, alternates propagation and observation until every
// slot is decided, and then saves newly decided cells to the store.
func (g *Generator) Run(ctx context.Context) (*Result, error) {
	if g.ran {
		return nil, errors.New("wfc: generator already ran")
	}
	g.ran = true

	if err := g.initialize(ctx); err != nil {
		return g.result(), err
	}
	if err := g.propagate(ctx); err != nil {
		return g.result(), err
	}
	for {
		if err := ctx.Err(); err != nil {
			return g.result(), fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		c, s, err := g.next()
		if err != nil {
			return g.result(), err
		}
		if s == nil {
			break
		}
		if limit := g.opts.MaxObservations; limit > 0 && g.summary.Observations >= limit {
			return g.result(), &ExhaustedError{After: g.summary.Observations}
		}
		g.observe(c, s)
		if err := g.propagate(ctx); err != nil {
			return g.result(), err
		}
	}

	if err := ctx.Err(); err != nil {
		return g.result(), fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if err := g.persist(ctx); err != nil {
		return g.result(), err
	}
	return g.result(), nil
}

func (g *Generator) result() *Result {
	g.summary.CellsDecided = g.lat.CountDecided()
	return &Result{Lattice: g.lat, Summary: g.summary, Seed: g.seed}
}

func (g *Generator) initialize(ctx context.Context) error {
	for _, c := range g.lat.Region().Coords() {
		layer := g.lat.LayerAt(c.Z)
		def := g.cat.DefaultIndices(layer)
		if len(def) == 0 {
			continue
		}
		t, err := g.store.Load(ctx, c)
		switch {
		case err == nil:
			ct, ok := g.cat.Lookup(t.ID)
			if !ok {
				return fmt.Errorf("%w: stored tile %q at %s is not in the catalog", catalog.ErrInvalidCatalog, t.ID, c)
			}
			if ct.Layer != layer {
				return fmt.Errorf("%w: stored tile %q at %s is on layer %d, plane wants %d", catalog.ErrInvalidCatalog, t.ID, c, ct.Layer, layer)
			}
			s := lattice.DecidedSlot(ct)
			s.Hydrated = true
			g.lat.Set(c, s)
			g.summary.Hydrated++
		case errors.Is(err, ErrNotFound):
			g.lat.Set(c, lattice.PendingSlot(def))
			g.dirty[c] = struct{}{}
			s, _ := g.lat.Get(c)
			g.pending.track(c, s)
		default:
			return &StoreError{At: c, Op: "load", Err: err}
		}
	}

	// Hydrated neighbours never pass through propagation, so check them here.
	for _, c := range g.lat.Coords() {
		s, _ := g.lat.Get(c)
		if !s.Decided {
			continue
		}
		for _, n := range g.lat.Neighbors(c) {
			if n.Slot == nil || !n.Slot.Decided || !n.Coord.Less(c) {
				continue
			}
			if !s.Tile.Fits(n.Dir, n.Slot.Tile) {
				return &ContradictionError{At: c}
			}
		}
	}
	return nil
}

// propagate filters dirty pending slots against their neighbours until a pass
// removes nothing. Slots whose neighbour shrank are re-examined in the next pass.
func (g *Generator) propagate(ctx context.Context) error {
	for len(g.dirty) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		g.summary.PropagationPasses++
		next := map[tile.Coord]struct{}{}
		for _, c := range g.dirtyOrder() {
			s, _ := g.lat.Get(c)
			if s.Decided {
				continue
			}
			if g.restrict(c, s) {
				if s.Contradicted() {
					g.dirty = map[tile.Coord]struct{}{}
					return &ContradictionError{At: c}
				}
				g.pending.track(c, s)
				g.markNeighbors(next, c)
			}
		}
		g.dirty = next
		if g.opts.AfterPass != nil {
			g.opts.AfterPass(g.lat, g.summary.PropagationPasses)
		}
	}
	return nil
}

// dirtyOrder lists the dirty coordinates in (z, y, x) order.
func (g *Generator) dirtyOrder() []tile.Coord {
	out := make([]tile.Coord, 0, len(g.dirty))
	for c := range g.dirty {
		out = append(out, c)
	}
	slices.SortFunc(out, tile.Coord.Compare)
	return out
}

// restrict removes from s every candidate lacking a compatible partner on some
// present neighbour face.
func (g *Generator) restrict(c tile.Coord, s *lattice.Slot) bool {
	ns := g.lat.Neighbors(c)
	return s.Retain(func(k int) bool {
		t := g.cat.Tile(k)
		for _, n := range ns {
			if n.Slot == nil {
				continue
			}
			if !g.supported(t, n) {
				return false
			}
		}
		return true
	})
}

// supported checks candidate t against one neighbour. A decided neighbour must fit
// both ways; a pending one needs at least one option that t's face admits.
func (g *Generator) supported(t tile.Tile, n lattice.Neighbor) bool {
	if n.Slot.Decided {
		return t.Fits(n.Dir, n.Slot.Tile)
	}
	j, opp := t.Joints[n.Dir], n.Dir.Opposite()
	for _, u := range n.Slot.Options {
		if tile.Compatible(j, g.cat.Tile(u).Joints[opp]) {
			return true
		}
	}
	return false
}

func (g *Generator) markNeighbors(set map[tile.Coord]struct{}, c tile.Coord) {
	for _, n := range g.lat.Neighbors(c) {
		if n.Slot != nil && !n.Slot.Decided {
			set[n.Coord] = struct{}{}
		}
	}
}

// next picks the pending slot with the smallest positive entropy, lowest (z, y, x)
// first. It returns a nil slot when nothing is pending.
func (g *Generator) next() (tile.Coord, *lattice.Slot, error) {
	c, s := g.pending.peek(g.lat)
	if s != nil && s.Entropy == 0 {
		return c, nil, &ContradictionError{At: c}
	}
	return c, s, nil
}

func (g *Generator) observe(c tile.Coord, s *lattice.Slot) {
	t := g.cat.Tile(g.cat.Pick(s.Options, g.rng))
	s.Decide(t)
	g.summary.Observations++
	if g.opts.AfterObserve != nil {
		g.opts.AfterObserve(c, t, g.summary.Observations)
	}
	g.markNeighbors(g.dirty, c)
}

func (g *Generator) persist(ctx context.Context) error {
	for _, c := range g.lat.Coords() {
		s, _ := g.lat.Get(c)
		if !s.Decided || s.Hydrated {
			continue
		}
		if err := g.store.Save(ctx, c, s.Tile); err != nil {
			return &StoreError{At: c, Op: "save", Err: err}
		}
		g.summary.Saved++
	}
	return nil
}
