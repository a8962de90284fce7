package wfc

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/catalog"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/lattice"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
)

// RunRecord is one generation attempt, as written to run logs and the index.
type RunRecord struct {
	RunID         string  `json:"run_id"`
	Attempt       int     `json:"attempt"`
	Seed          uint64  `json:"seed"`
	Center        [3]int  `json:"center"`
	Size          [3]int  `json:"size"`
	CatalogDigest string  `json:"catalog_digest"`
	Outcome       string  `json:"outcome"`
	At            *[3]int `json:"at,omitempty"`
	Error         string  `json:"error,omitempty"`
	Summary

	StartedAt  string `json:"started_at"`
	DurationMs int64  `json:"duration_ms"`
}

type RunRecorder interface {
	RecordRun(rec RunRecord) error
}

// Runner retries generation with successive seeds when a run ends in a
// contradiction or exhausts its observation budget. Other failures are returned
// immediately.
type Runner struct {
	Catalog *catalog.Catalog
	Region  lattice.Region
	Store   TileStore
	Options Options

	// Retries is the number of extra seeds tried after the first.
	Retries   int
	Recorders []RunRecorder
	Log       *log.Logger

	// Observe, when set, supplies the AfterObserve hook for each attempt.
	Observe func(runID string, seed uint64) func(c tile.Coord, t tile.Tile, n int)

	now func() time.Time
}

func (r *Runner) Run(ctx context.Context, seed uint64) (*Result, error) {
	now := r.now
	if now == nil {
		now = time.Now
	}
	runID := uuid.NewString()
	attempts := r.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var (
		res *Result
		err error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		s := seed + uint64(attempt-1)
		opts := r.Options
		if r.Observe != nil {
			opts.AfterObserve = r.Observe(runID, s)
		}
		start := now()
		res, err = Generate(ctx, Config{
			Catalog: r.Catalog,
			Region:  r.Region,
			Store:   r.Store,
			Seed:    s,
			Options: opts,
		})
		rec := r.record(runID, attempt, s, res, err, start, now())
		if r.Log != nil {
			r.Log.Printf("mapgen run=%s attempt=%d seed=%d outcome=%s decided=%d obs=%d passes=%d saved=%d took=%dms",
				runID, attempt, s, rec.Outcome, rec.CellsDecided, rec.Observations, rec.PropagationPasses, rec.Saved, rec.DurationMs)
		}
		for _, rr := range r.Recorders {
			if rerr := rr.RecordRun(rec); rerr != nil && r.Log != nil {
				r.Log.Printf("mapgen run=%s: record run: %v", runID, rerr)
			}
		}
		if err == nil || !Retryable(err) {
			return res, err
		}
	}
	return res, err
}

func (r *Runner) record(runID string, attempt int, seed uint64, res *Result, err error, start, end time.Time) RunRecord {
	rec := RunRecord{
		RunID:      runID,
		Attempt:    attempt,
		Seed:       seed,
		Center:     [3]int{r.Region.Center.X, r.Region.Center.Y, r.Region.Center.Z},
		Size:       [3]int{r.Region.Size.X, r.Region.Size.Y, r.Region.Size.Z},
		Outcome:    Outcome(err),
		StartedAt:  start.UTC().Format(time.RFC3339Nano),
		DurationMs: end.Sub(start).Milliseconds(),
	}
	if r.Catalog != nil {
		rec.CatalogDigest = r.Catalog.Digest()
	}
	if res != nil {
		rec.Summary = res.Summary
	}
	if err != nil {
		rec.Error = err.Error()
		var (
			c *ContradictionError
			s *StoreError
		)
		switch {
		case errors.As(err, &c):
			rec.At = &[3]int{c.At.X, c.At.Y, c.At.Z}
		case errors.As(err, &s):
			rec.At = &[3]int{s.At.X, s.At.Y, s.At.Z}
		}
	}
	return rec
}
