package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/catalog"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/wfc"
	persistlog "github.com/JLerxky/prime-game-sub000/internal/persistence/log"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/snapshot"
)

func replayCmd(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	snapPath := fs.String("snapshot", "", "path to .map.zst")
	traceDir := fs.String("trace", "", "trace dir containing trace-*.jsonl.zst (optional)")
	runID := fs.String("run", "", "only check observations of this run id (optional)")
	catalogPath := fs.String("catalog", "", "regenerate with this catalog and compare every plane (optional)")
	_ = fs.Parse(args)

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	if *traceDir != "" {
		files, err := listTraceFiles(*traceDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list trace:", err)
			os.Exit(1)
		}
		if len(files) == 0 {
			fmt.Fprintln(os.Stderr, "no trace files found in", *traceDir)
			os.Exit(1)
		}
		checked := 0
		for _, path := range files {
			if err := replayTraceFile(path, snap, *runID, &checked); err != nil {
				fmt.Fprintln(os.Stderr, "replay:", err)
				os.Exit(1)
			}
		}
		fmt.Printf("trace ok: checked=%d observations (seed=%d)\n", checked, snap.Header.Seed)
	}

	if *catalogPath != "" {
		cat, err := catalog.Load(*catalogPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load catalog:", err)
			os.Exit(1)
		}
		if err := verifyRegenerate(context.Background(), snap, cat); err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			os.Exit(1)
		}
		fmt.Printf("regenerate ok: seed=%d planes=%d\n", snap.Header.Seed, len(snap.Planes))
	}
}

func listTraceFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "trace-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// replayTraceFile checks that every observation recorded for the snapshot's seed
// chose the tile the snapshot holds at that position.
func replayTraceFile(path string, snap snapshot.MapV1, runID string, checked *int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		var entry persistlog.ObservationEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if entry.Seed != snap.Header.Seed || (runID != "" && entry.RunID != runID) {
			continue
		}
		c := tile.Coord{X: entry.Pos[0], Y: entry.Pos[1], Z: entry.Pos[2]}
		if got := snap.TileIDAt(c); got != entry.TileID {
			return fmt.Errorf("observation %d at %s: trace=%q snapshot=%q (file=%s)", entry.Observation, c, entry.TileID, got, filepath.Base(path))
		}
		*checked++
	}
	return sc.Err()
}

// verifyRegenerate reruns the snapshot's seed over its region with an empty store
// and requires identical planes. Maps that hydrated stored cells cannot be
// reproduced this way.
func verifyRegenerate(ctx context.Context, snap snapshot.MapV1, cat *catalog.Catalog) error {
	if snap.Summary.Hydrated > 0 {
		return fmt.Errorf("map hydrated %d stored cells; regeneration would differ", snap.Summary.Hydrated)
	}
	if snap.CatalogDigest != cat.Digest() {
		return fmt.Errorf("catalog digest %s does not match snapshot %s", shortDigest(cat.Digest()), shortDigest(snap.CatalogDigest))
	}
	res, err := wfc.Generate(ctx, wfc.Config{
		Catalog: cat,
		Region:  snap.Region(),
		Seed:    snap.Header.Seed,
		Options: wfc.Options{Layers: snap.Layers},
	})
	if err != nil {
		return fmt.Errorf("regenerate: %w", err)
	}
	again, err := snapshot.FromResult(snap.Header.MapID, cat, res)
	if err != nil {
		return err
	}
	if len(again.Planes) != len(snap.Planes) {
		return fmt.Errorf("planes: got %d want %d", len(again.Planes), len(snap.Planes))
	}
	for i, p := range snap.Planes {
		q := again.Planes[i]
		if p.Z != q.Z || !slices.Equal(p.Cells, q.Cells) {
			return fmt.Errorf("plane z=%d differs", p.Z)
		}
	}
	return nil
}
