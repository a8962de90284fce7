package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/wfc"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/snapshot"
)

type MapArchiveMeta struct {
	MapID         string         `json:"map_id"`
	Seed          uint64         `json:"seed"`
	CatalogDigest string         `json:"catalog_digest"`
	Size          [3]int         `json:"size"`
	Layers        []int          `json:"layers"`
	Counts        map[string]int `json:"counts"`
	Summary       wfc.Summary    `json:"summary"`
	Snapshot      string         `json:"snapshot"`
	CreatedAt     string         `json:"created_at"`
}

// ArchiveMap copies a written map snapshot into `dataDir/archives/<map_id>/`
// next to a meta.json describing it, and returns the archived path.
func ArchiveMap(dataDir, snapshotPath string, snap snapshot.MapV1) (string, error) {
	if snap.Header.MapID == "" {
		return "", fmt.Errorf("snapshot has no map id")
	}
	archiveDir := filepath.Join(dataDir, "archives", snap.Header.MapID)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", err
	}

	meta := MapArchiveMeta{
		MapID:         snap.Header.MapID,
		Seed:          snap.Header.Seed,
		CatalogDigest: snap.CatalogDigest,
		Size:          snap.Size,
		Layers:        snap.Layers,
		Counts:        snap.Counts(),
		Summary:       snap.Summary,
		Snapshot:      filepath.Base(dst),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return dst, err
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644); err != nil {
		return dst, err
	}
	return dst, nil
}

// List reads every archive's meta.json, newest first. Directories without a
// readable meta.json are skipped.
func List(dataDir string) ([]MapArchiveMeta, error) {
	ents, err := os.ReadDir(filepath.Join(dataDir, "archives"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []MapArchiveMeta
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dataDir, "archives", e.Name(), "meta.json"))
		if err != nil {
			continue
		}
		var m MapArchiveMeta
		if err := json.Unmarshal(b, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
