package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/catalog"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/lattice"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/wfc"
	persistlog "github.com/JLerxky/prime-game-sub000/internal/persistence/log"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/snapshot"
)

func repoCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, dir, parent, "go.mod not found")
		dir = parent
	}
	cat, err := catalog.Load(filepath.Join(dir, "configs", "tiles.json"))
	require.NoError(t, err)
	return cat
}

func generateTraced(t *testing.T, cat *catalog.Catalog, dataDir string) snapshot.MapV1 {
	t.Helper()
	tl := persistlog.NewTraceLogger(dataDir)
	r := &wfc.Runner{
		Catalog: cat,
		Region:  lattice.Region{Size: lattice.Size{X: 8, Y: 5, Z: 2}},
		Options: wfc.Options{Layers: []int{0, 1}},
		Retries: 5,
		Observe: tl.Hook,
	}
	res, err := r.Run(context.Background(), 3)
	require.NoError(t, err)
	require.NoError(t, tl.Close())
	require.NoError(t, tl.Err())
	snap, err := snapshot.FromResult("m-test", cat, res)
	require.NoError(t, err)
	return snap
}

func TestGlyphsAreDistinct(t *testing.T) {
	g := glyphs([]string{"", "grass", "gravel", "water", "w", "_"})
	require.Equal(t, '.', g[0])
	require.Equal(t, 'g', g[1])
	require.Equal(t, 'r', g[2])
	require.Equal(t, 'w', g[3])
	require.Equal(t, 'a', g[4])
	seen := map[rune]bool{}
	for _, r := range g {
		require.False(t, seen[r], "duplicate glyph %q", r)
		seen[r] = true
	}
}

func TestPrintPlane(t *testing.T) {
	snap := snapshot.MapV1{
		Size:    [3]int{3, 2, 1},
		Palette: []string{"", "grass", "water"},
		Planes:  []snapshot.PlaneV1{{Z: 0, Cells: []uint16{1, 1, 2, 0, 2, 2}}},
	}
	var buf bytes.Buffer
	require.NoError(t, printPlane(&buf, snap, 0))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Equal(t, []string{"plane z=0", ".ww", "ggw", "g=grass w=water"}, lines)

	require.Error(t, printPlane(&buf, snap, 1))
}

func TestReplayTraceMatchesSnapshot(t *testing.T) {
	cat := repoCatalog(t)
	dataDir := t.TempDir()
	snap := generateTraced(t, cat, dataDir)

	files, err := listTraceFiles(filepath.Join(dataDir, "trace"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	checked := 0
	for _, f := range files {
		require.NoError(t, replayTraceFile(f, snap, "", &checked))
	}
	require.Equal(t, snap.Summary.Observations, checked)

	// A different tile at an observed position is reported.
	bad := snap
	bad.Planes = append([]snapshot.PlaneV1(nil), snap.Planes...)
	cells := append([]uint16(nil), bad.Planes[0].Cells...)
	for i := range cells {
		cells[i] = 0
	}
	bad.Planes[0].Cells = cells
	checked = 0
	var firstErr error
	for _, f := range files {
		if err := replayTraceFile(f, bad, "", &checked); err != nil {
			firstErr = err
			break
		}
	}
	require.Error(t, firstErr)
}

func TestVerifyRegenerate(t *testing.T) {
	cat := repoCatalog(t)
	snap := generateTraced(t, cat, t.TempDir())
	require.NoError(t, verifyRegenerate(context.Background(), snap, cat))

	snap.Planes[0].Cells[0]++
	require.Error(t, verifyRegenerate(context.Background(), snap, cat))

	snap.Summary.Hydrated = 1
	require.ErrorContains(t, verifyRegenerate(context.Background(), snap, cat), "hydrated")
}
