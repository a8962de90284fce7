package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/JLerxky/prime-game-sub000/internal/persistence/archive"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/indexdb"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/snapshot"
)

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	snapPath := fs.String("snapshot", "", "path to .map.zst")
	plane := fs.Int("plane", -1, "plane to print as ASCII (-1 for none)")
	headerOnly := fs.Bool("header", false, "print only the header line")
	_ = fs.Parse(args)

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}
	if *headerOnly {
		h, err := snapshot.ReadHeader(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read header:", err)
			os.Exit(1)
		}
		_ = json.NewEncoder(os.Stdout).Encode(h)
		return
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printSummary(os.Stdout, *snapPath, snap)
	if *plane >= 0 {
		if err := printPlane(os.Stdout, snap, *plane); err != nil {
			fmt.Fprintln(os.Stderr, "plane:", err)
			os.Exit(1)
		}
	}
}

func printSummary(w io.Writer, path string, snap snapshot.MapV1) {
	fmt.Fprintf(w, "map v%d id=%s seed=%d size=%dx%dx%d layers=%v planes=%d catalog=%s\n",
		snap.Header.Version, snap.Header.MapID, snap.Header.Seed,
		snap.Size[0], snap.Size[1], snap.Size[2], snap.Layers, len(snap.Planes), shortDigest(snap.CatalogDigest))
	s := snap.Summary
	fmt.Fprintf(w, "decided=%d hydrated=%d observations=%d passes=%d saved=%d path=%s\n",
		s.CellsDecided, s.Hydrated, s.Observations, s.PropagationPasses, s.Saved, path)

	counts := snap.Counts()
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  %-16s %d\n", id, counts[id])
	}
}

// printPlane draws plane z with the highest y on top, one glyph per cell.
func printPlane(w io.Writer, snap snapshot.MapV1, z int) error {
	var cells []uint16
	found := false
	for _, p := range snap.Planes {
		if p.Z == z {
			cells, found = p.Cells, true
			break
		}
	}
	if !found {
		return fmt.Errorf("no plane at z=%d", z)
	}
	g := glyphs(snap.Palette)
	width, height := snap.Size[0], snap.Size[1]
	if len(cells) != width*height {
		return fmt.Errorf("plane z=%d has %d cells, want %d", z, len(cells), width*height)
	}

	fmt.Fprintf(w, "plane z=%d\n", z)
	var sb strings.Builder
	for y := height - 1; y >= 0; y-- {
		sb.Reset()
		for x := 0; x < width; x++ {
			v := cells[y*width+x]
			if int(v) < len(g) {
				sb.WriteRune(g[v])
			} else {
				sb.WriteRune('?')
			}
		}
		fmt.Fprintln(w, sb.String())
	}
	var legend []string
	for i, id := range snap.Palette {
		if i == 0 {
			continue
		}
		legend = append(legend, fmt.Sprintf("%c=%s", g[i], id))
	}
	fmt.Fprintln(w, strings.Join(legend, " "))
	return nil
}

// glyphs assigns each palette entry a distinct printable rune: the first unused
// letter of its id, then any unused letter or digit. Unset cells print as '.'.
func glyphs(pal []string) []rune {
	out := make([]rune, len(pal))
	used := map[rune]bool{'.': true}
	if len(out) > 0 {
		out[0] = '.'
	}
	const fallback = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	for i := 1; i < len(pal); i++ {
		out[i] = '?'
		for _, r := range pal[i] + fallback {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				continue
			}
			if !used[r] {
				out[i] = r
				used[r] = true
				break
			}
		}
	}
	return out
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func runsCmd(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dbPath := fs.String("db", "./data/index.sqlite", "sqlite index path")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	if _, err := os.Stat(*dbPath); err != nil {
		fmt.Fprintln(os.Stderr, "stat:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	runs, err := idx.Runs(context.Background(), *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	for _, r := range runs {
		_ = enc.Encode(r)
	}
}

func archivesCmd(args []string) {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	metas, err := archive.List(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, m := range metas {
		fmt.Printf("%s seed=%d size=%dx%dx%d decided=%d created=%s snapshot=%s\n",
			m.MapID, m.Seed, m.Size[0], m.Size[1], m.Size[2], m.Summary.CellsDecided, m.CreatedAt, m.Snapshot)
	}
}
