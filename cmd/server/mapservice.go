package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/catalog"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/lattice"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tuning"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/wfc"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/archive"
	persistlog "github.com/JLerxky/prime-game-sub000/internal/persistence/log"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/snapshot"
	"github.com/JLerxky/prime-game-sub000/internal/protocol"
	"github.com/JLerxky/prime-game-sub000/internal/transport/ws"
)

type snapshotRecorder interface {
	RecordSnapshot(path string, snap snapshot.MapV1)
}

// mapService owns generation for the server: one run at a time, the resulting
// map published to ws clients.
type mapService struct {
	cat       *catalog.Catalog
	tune      tuning.Tuning
	store     wfc.TileStore
	recorders []wfc.RunRecorder
	snapIdx   []snapshotRecorder
	trace     *persistlog.TraceLogger
	archive   bool

	holder *ws.Holder
	srv    *ws.Server
	log    *log.Logger

	mu sync.Mutex

	runsOK     atomic.Uint64
	runsFailed atomic.Uint64
	busy       atomic.Bool
}

type generateRequest struct {
	Seed   uint64
	Region lattice.Region
}

func (m *mapService) defaultRequest() generateRequest {
	return generateRequest{Seed: m.tune.Seed, Region: m.tune.GenRegion()}
}

// Generate runs the retrying generator, writes the snapshot, and swaps it in as
// the served map. On failure every connected client gets an ERROR.
func (m *mapService) Generate(ctx context.Context, req generateRequest) (*snapshot.MapV1, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy.Store(true)
	defer m.busy.Store(false)

	runner := &wfc.Runner{
		Catalog: m.cat,
		Region:  req.Region,
		Store:   m.store,
		Options: wfc.Options{
			MaxObservations: m.tune.MaxObservations,
			Layers:          m.tune.Layers,
		},
		Retries:   m.tune.Retries,
		Recorders: m.recorders,
		Log:       m.log,
	}
	if m.trace != nil {
		runner.Observe = m.trace.Hook
	}

	res, err := runner.Run(ctx, req.Seed)
	if err != nil {
		m.runsFailed.Add(1)
		code := protocol.CodeForOutcome(wfc.Outcome(err))
		m.srv.Broadcast(protocol.NewError(code, err.Error()))
		return nil, err
	}
	if m.trace != nil {
		if terr := m.trace.Err(); terr != nil {
			m.log.Printf("trace: %v", terr)
		}
	}

	snap, err := snapshot.FromResult(uuid.NewString(), m.cat, res)
	if err != nil {
		m.runsFailed.Add(1)
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	path := snapshot.Path(m.tune.DataDir, res.Seed)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		m.runsFailed.Add(1)
		return nil, fmt.Errorf("snapshot write: %w", err)
	}
	m.runsOK.Add(1)
	for _, idx := range m.snapIdx {
		idx.RecordSnapshot(path, snap)
	}
	if m.archive {
		if _, err := archive.ArchiveMap(m.tune.DataDir, path, snap); err != nil {
			m.log.Printf("archive map: %v", err)
		}
	}

	m.holder.Set(&snap)
	m.srv.Notify()
	m.log.Printf("map=%s seed=%d region=%s decided=%d hydrated=%d saved=%d path=%s",
		snap.Header.MapID, res.Seed, req.Region, res.Summary.CellsDecided, res.Summary.Hydrated, res.Summary.Saved, path)
	return &snap, nil
}

// LoadExisting serves the snapshot already written for seed when it was built
// from the same catalog over the same region. It reports whether it did.
func (m *mapService) LoadExisting(seed uint64, region lattice.Region) (bool, error) {
	path := snapshot.Path(m.tune.DataDir, seed)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return false, err
	}
	if snap.CatalogDigest != m.cat.Digest() || snap.Region() != region {
		return false, nil
	}
	m.holder.Set(&snap)
	m.srv.Notify()
	m.log.Printf("resumed map=%s from %s", snap.Header.MapID, path)
	return true, nil
}

// Restore writes a saved map's cells into the tile store before any generation.
func (m *mapService) Restore(ctx context.Context, path string) (int, error) {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return 0, err
	}
	return snapshot.Restore(ctx, snap, m.cat, m.store)
}
