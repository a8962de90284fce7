package snapshot

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/catalog"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/lattice"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/palette"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/wfc"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	MapID   string `json:"map_id"`
	Seed    uint64 `json:"seed"`
}

// MapV1 is a generated map: one palette-indexed plane per present z.
type MapV1 struct {
	Header Header `json:"header"`

	CatalogDigest string   `json:"catalog_digest"`
	Center        [3]int   `json:"center"`
	Size          [3]int   `json:"size"`
	Layers        []int    `json:"layers"`
	Palette       []string `json:"palette"`

	Planes []PlaneV1 `json:"planes"`

	Summary   wfc.Summary `json:"summary"`
	CreatedAt string      `json:"created_at"`
}

// PlaneV1 holds Size[0]*Size[1] palette indices in row-major (y, x) order from
// the region's minimum corner.
type PlaneV1 struct {
	Z     int      `json:"z"`
	Layer int      `json:"layer"`
	Cells []uint16 `json:"cells"`
}

func (m MapV1) Region() lattice.Region {
	return lattice.Region{
		Center: tile.Coord{X: m.Center[0], Y: m.Center[1], Z: m.Center[2]},
		Size:   lattice.Size{X: m.Size[0], Y: m.Size[1], Z: m.Size[2]},
	}
}

// TileIDAt returns "" for cells outside the map or on a skipped plane.
func (m MapV1) TileIDAt(c tile.Coord) string {
	r := m.Region()
	if !r.Contains(c) {
		return ""
	}
	lo := r.Min()
	for _, p := range m.Planes {
		if p.Z != c.Z {
			continue
		}
		i := (c.Y-lo.Y)*m.Size[0] + (c.X - lo.X)
		if i < 0 || i >= len(p.Cells) || int(p.Cells[i]) >= len(m.Palette) {
			return ""
		}
		return m.Palette[p.Cells[i]]
	}
	return ""
}

// Counts tallies decided cells per tile id.
func (m MapV1) Counts() map[string]int {
	out := map[string]int{}
	for _, p := range m.Planes {
		for _, v := range p.Cells {
			if v != palette.Unset && int(v) < len(m.Palette) {
				out[m.Palette[v]]++
			}
		}
	}
	return out
}

// FromResult captures a finished generation.
func FromResult(mapID string, cat *catalog.Catalog, res *wfc.Result) (MapV1, error) {
	pal, err := palette.FromCatalog(cat)
	if err != nil {
		return MapV1{}, err
	}
	l := res.Lattice
	r := l.Region()
	snap := MapV1{
		Header:        Header{Version: Version, MapID: mapID, Seed: res.Seed},
		CatalogDigest: cat.Digest(),
		Center:        [3]int{r.Center.X, r.Center.Y, r.Center.Z},
		Size:          [3]int{r.Size.X, r.Size.Y, r.Size.Z},
		Palette:       pal.IDs,
		Summary:       res.Summary,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	for z := 0; z < r.Size.Z; z++ {
		layer := l.LayerAt(z)
		snap.Layers = append(snap.Layers, layer)
		if len(cat.DefaultIndices(layer)) == 0 {
			continue
		}
		cells, err := palette.Plane(l, pal, z)
		if err != nil {
			return MapV1{}, err
		}
		snap.Planes = append(snap.Planes, PlaneV1{Z: z, Layer: layer, Cells: cells})
	}
	return snap, nil
}

// Restore saves every decided cell of snap into store, so a later generation over
// an overlapping region hydrates them. It returns the number of cells written.
func Restore(ctx context.Context, snap MapV1, cat *catalog.Catalog, store wfc.TileStore) (int, error) {
	if snap.CatalogDigest != "" && snap.CatalogDigest != cat.Digest() {
		return 0, fmt.Errorf("snapshot catalog %s does not match %s", short(snap.CatalogDigest), short(cat.Digest()))
	}
	if _, err := palette.FromIDs(snap.Palette); err != nil {
		return 0, err
	}
	r := snap.Region()
	lo := r.Min()
	n := 0
	for _, p := range snap.Planes {
		if len(p.Cells) != snap.Size[0]*snap.Size[1] {
			return n, fmt.Errorf("plane z=%d has %d cells, want %d", p.Z, len(p.Cells), snap.Size[0]*snap.Size[1])
		}
		for i, v := range p.Cells {
			if v == palette.Unset {
				continue
			}
			if int(v) >= len(snap.Palette) {
				return n, fmt.Errorf("plane z=%d: palette index %d out of range", p.Z, v)
			}
			id := snap.Palette[v]
			t, ok := cat.Lookup(id)
			if !ok {
				return n, fmt.Errorf("%w: snapshot tile %q", catalog.ErrInvalidCatalog, id)
			}
			c := tile.Coord{X: lo.X + i%snap.Size[0], Y: lo.Y + i/snap.Size[0], Z: p.Z}
			if err := store.Save(ctx, c, t); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func short(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// Path is the conventional location of the snapshot for seed under dataDir.
func Path(dataDir string, seed uint64) string {
	return filepath.Join(dataDir, "maps", fmt.Sprintf("seed-%d.map.zst", seed))
}

// WriteSnapshot reports any error from the final flush and close, so a nil
// return means the whole file reached the OS.
func WriteSnapshot(path string, snap MapV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encodeSnapshot(f, snap); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func encodeSnapshot(w io.Writer, snap MapV1) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	werr := func() error {
		hb, err := json.Marshal(snap.Header)
		if err != nil {
			return err
		}
		if _, err := bw.Write(hb); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
		if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
			return fmt.Errorf("gob encode: %w", err)
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		return nil
	}()
	if cerr := enc.Close(); werr == nil && cerr != nil {
		werr = fmt.Errorf("zstd close: %w", cerr)
	}
	return werr
}

func ReadSnapshot(path string) (MapV1, error) {
	var snap MapV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	hdr, err := readHeader(br)
	if err != nil {
		return snap, err
	}
	if hdr.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", hdr.Version)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader reads only the JSON header line.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, err
	}
	defer dec.Close()
	return readHeader(bufio.NewReader(dec))
}

func readHeader(br *bufio.Reader) (Header, error) {
	var hdr Header
	line, err := br.ReadBytes('\n')
	if err != nil {
		return hdr, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return hdr, fmt.Errorf("decode header: %w", err)
	}
	return hdr, nil
}
