package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/catalog"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tuning"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/wfc"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/archive"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/indexdb"
	persistlog "github.com/JLerxky/prime-game-sub000/internal/persistence/log"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "runs":
			runsCmd(os.Args[2:])
			return
		case "archives":
			archivesCmd(os.Args[2:])
			return
		case "replay":
			replayCmd(os.Args[2:])
			return
		case "generate":
			generateCmd(os.Args[2:])
			return
		}
	}
	generateCmd(os.Args[1:])
}

func generateCmd(args []string) {
	if code := generate(args); code != 0 {
		os.Exit(code)
	}
}

// generate returns the process exit code so deferred closes flush the run and
// trace logs on failure too.
func generate(args []string) int {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	tuningPath := fs.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
	catalogPath := fs.String("catalog", "", "tile catalog path (default: tuning catalog)")
	dataDir := fs.String("data", "", "runtime data directory (default: tuning data_dir)")
	seed := fs.Uint64("seed", 0, "generation seed (default: tuning seed)")
	out := fs.String("out", "", "snapshot output path (default: <data>/maps/seed-N.map.zst)")
	useDB := fs.Bool("db", false, "hydrate from and save to the sqlite tile store")
	restorePath := fs.String("restore", "", "snapshot whose cells seed the tile store first")
	trace := fs.Bool("trace", false, "write every observation to <data>/trace")
	runLog := fs.Bool("runlog", true, "append attempts to <data>/runs")
	doArchive := fs.Bool("archive", false, "copy the snapshot into <data>/archives/<map_id>")
	preview := fs.Int("preview", 0, "plane to print as ASCII (-1 to disable)")
	_ = fs.Parse(args)

	logger := log.New(os.Stderr, "[mapgen] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if s := strings.TrimSpace(*catalogPath); s != "" {
		tune.CatalogPath = s
	}
	if s := strings.TrimSpace(*dataDir); s != "" {
		tune.DataDir = s
		tune.DBPath = ""
		tune.Normalize()
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	cat, err := catalog.Load(tune.CatalogPath)
	if err != nil {
		logger.Fatalf("load catalog: %v", err)
	}

	ctx := context.Background()
	runner := &wfc.Runner{
		Catalog: cat,
		Region:  tune.GenRegion(),
		Options: wfc.Options{
			MaxObservations: tune.MaxObservations,
			Layers:          tune.Layers,
		},
		Retries: tune.Retries,
		Log:     logger,
	}
	if *useDB {
		idx, err := indexdb.OpenSQLite(tune.DBPath)
		if err != nil {
			logger.Printf("open index: %v", err)
			return 1
		}
		defer idx.Close()
		if err := idx.UpsertCatalog(ctx, cat, tune); err != nil {
			logger.Printf("index: upsert catalog: %v", err)
		}
		runner.Store = idx
		runner.Recorders = append(runner.Recorders, idx)
	} else {
		runner.Store = wfc.NewMemStore()
	}
	if *runLog {
		rl := persistlog.NewRunLogger(tune.DataDir)
		defer rl.Close()
		runner.Recorders = append(runner.Recorders, rl)
	}
	var tl *persistlog.TraceLogger
	if *trace || tune.Trace {
		tl = persistlog.NewTraceLogger(tune.DataDir)
		defer tl.Close()
		runner.Observe = tl.Hook
	}

	if p := strings.TrimSpace(*restorePath); p != "" {
		snap, err := snapshot.ReadSnapshot(p)
		if err != nil {
			logger.Printf("read %s: %v", p, err)
			return 1
		}
		n, err := snapshot.Restore(ctx, snap, cat, runner.Store)
		if err != nil {
			logger.Printf("restore %s: %v", p, err)
			return 1
		}
		logger.Printf("restored %d cells from %s", n, p)
	}

	res, err := runner.Run(ctx, tune.Seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generation failed (%s): %v\n", wfc.Outcome(err), err)
		return 1
	}
	if tl != nil {
		if err := tl.Err(); err != nil {
			logger.Printf("trace: %v", err)
		}
	}

	snap, err := snapshot.FromResult(uuid.NewString(), cat, res)
	if err != nil {
		logger.Printf("snapshot: %v", err)
		return 1
	}
	path := strings.TrimSpace(*out)
	if path == "" {
		path = snapshot.Path(tune.DataDir, res.Seed)
	}
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		logger.Printf("write snapshot: %v", err)
		return 1
	}
	if *doArchive {
		if _, err := archive.ArchiveMap(tune.DataDir, path, snap); err != nil {
			logger.Printf("archive: %v", err)
		}
	}

	printSummary(os.Stdout, path, snap)
	if *preview >= 0 {
		if err := printPlane(os.Stdout, snap, *preview); err != nil {
			fmt.Fprintln(os.Stderr, "preview:", err)
		}
	}
	return 0
}
