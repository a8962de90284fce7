package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/catalog"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/palette"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tuning"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/wfc"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/snapshot"
)

// SQLiteIndex is both the durable tile store consulted by generation and a
// secondary index of runs and snapshots. Tile reads and writes are synchronous;
// run and snapshot records go through a buffered writer goroutine and are dropped
// when it falls behind.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// sendMu orders sends on ch before Close closes it.
	sendMu sync.RWMutex
	closed atomic.Bool

	dropRun      atomic.Uint64
	dropSnapshot atomic.Uint64
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropRunTotal      uint64 `json:"drop_run_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

type reqKind int

const (
	reqRun reqKind = iota + 1
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	run      wfc.RunRecord
	snapshot snapshotRow
	done     chan struct{}
}

type snapshotRow struct {
	Path          string
	MapID         string
	Seed          uint64
	CatalogDigest string
	Planes        int
	Cells         int
	CreatedAt     string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tiles (
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			tile_id TEXT NOT NULL,
			tile_json TEXT NOT NULL,
			saved_at TEXT NOT NULL,
			PRIMARY KEY (x, y, z)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tiles_tile ON tiles(tile_id);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			catalog_digest TEXT NOT NULL,
			cells_decided INTEGER NOT NULL,
			observations INTEGER NOT NULL,
			passes INTEGER NOT NULL,
			saved INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, attempt)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			path TEXT PRIMARY KEY,
			map_id TEXT NOT NULL,
			seed INTEGER NOT NULL,
			catalog_digest TEXT NOT NULL,
			planes INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.sendMu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.sendMu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Load implements wfc.TileStore.
func (s *SQLiteIndex) Load(ctx context.Context, c tile.Coord) (tile.Tile, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT tile_json FROM tiles WHERE x=? AND y=? AND z=?`, c.X, c.Y, c.Z).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return tile.Tile{}, wfc.ErrNotFound
	}
	if err != nil {
		return tile.Tile{}, err
	}
	var t tile.Tile
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return tile.Tile{}, fmt.Errorf("tile at %s: %w", c, err)
	}
	return t, nil
}

// Save implements wfc.TileStore. Saving a cell again replaces it.
func (s *SQLiteIndex) Save(ctx context.Context, c tile.Coord, t tile.Tile) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tiles(x,y,z,tile_id,tile_json,saved_at) VALUES(?,?,?,?,?,?)
		ON CONFLICT(x,y,z) DO UPDATE SET tile_id=excluded.tile_id, tile_json=excluded.tile_json, saved_at=excluded.saved_at`,
		c.X, c.Y, c.Z, t.ID, string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteIndex) CountTiles(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tiles`).Scan(&n)
	return n, err
}

// RecordRun implements wfc.RunRecorder.
func (s *SQLiteIndex) RecordRun(rec wfc.RunRecord) error {
	if s == nil {
		return nil
	}
	if !s.trySend(req{kind: reqRun, run: rec}) {
		// Drop if the indexer falls behind; the JSONL run log remains the source of truth.
		s.dropRun.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.MapV1) {
	if s == nil {
		return
	}
	r := snapshotRow{
		Path:          path,
		MapID:         snap.Header.MapID,
		Seed:          snap.Header.Seed,
		CatalogDigest: snap.CatalogDigest,
		Planes:        len(snap.Planes),
		CreatedAt:     snap.CreatedAt,
	}
	for _, p := range snap.Planes {
		r.Cells += len(p.Cells)
	}
	if !s.trySend(req{kind: reqSnapshot, snapshot: r}) {
		s.dropSnapshot.Add(1)
	}
}

// trySend queues r without blocking. It reports false when the queue is full;
// records sent after Close are discarded and reported as sent.
func (s *SQLiteIndex) trySend(r req) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed.Load() {
		return true
	}
	select {
	case s.ch <- r:
		return true
	default:
		return false
	}
}

// Flush blocks until every record queued before it is committed.
func (s *SQLiteIndex) Flush() {
	if s == nil {
		return
	}
	done := make(chan struct{})
	s.sendMu.RLock()
	if s.closed.Load() {
		s.sendMu.RUnlock()
		return
	}
	s.ch <- req{kind: reqFlush, done: done}
	s.sendMu.RUnlock()
	<-done
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropRunTotal:      s.dropRun.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

// Runs returns up to limit recorded attempts, newest first.
func (s *SQLiteIndex) Runs(ctx context.Context, limit int) ([]wfc.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT raw_json FROM runs ORDER BY started_at DESC, attempt DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []wfc.RunRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec wfc.RunRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertCatalog stores the applied catalog, its palette and the tuning values so
// the index can be queried without the config files.
func (s *SQLiteIndex) UpsertCatalog(ctx context.Context, cat *catalog.Catalog, tune tuning.Tuning) error {
	if s == nil || cat == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b, err := cat.Marshal(); err == nil {
		rows = append(rows, kv{name: "tiles", digest: cat.Digest(), json: b})
	}
	if pal, err := palette.FromCatalog(cat); err == nil {
		b, _ := json.Marshal(pal.IDs)
		rows = append(rows, kv{name: "palette", digest: pal.Digest(), json: b})
	}
	if b, err := json.Marshal(tune); err == nil {
		rows = append(rows, kv{name: "tuning", digest: tune.Digest(), json: b})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CatalogDigest returns the digest stored under name, or "" when absent.
func (s *SQLiteIndex) CatalogDigest(ctx context.Context, name string) (string, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM catalogs WHERE name=?`, name).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return d, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,attempt,seed,outcome,catalog_digest,cells_decided,observations,passes,saved,started_at,duration_ms,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(path,map_id,seed,catalog_digest,planes,cells,created_at) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertRun != nil {
			_ = insertRun.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx          *sql.Tx
		opCount     int
		commitEvery = 500
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRun:
			ru := r.run
			raw, _ := json.Marshal(ru)
			if insertRun != nil {
				if _, err := tx.Stmt(insertRun).Exec(
					ru.RunID,
					ru.Attempt,
					int64(ru.Seed),
					ru.Outcome,
					ru.CatalogDigest,
					ru.CellsDecided,
					ru.Observations,
					ru.PropagationPasses,
					ru.Saved,
					ru.StartedAt,
					ru.DurationMs,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					sn.Path,
					sn.MapID,
					int64(sn.Seed),
					sn.CatalogDigest,
					sn.Planes,
					sn.Cells,
					sn.CreatedAt,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		// The connection is shared with the tile store, so never hold a
		// transaction open while the queue is idle.
		if opCount >= commitEvery || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}
