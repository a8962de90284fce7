package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/lattice"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	Seed            uint64     `yaml:"seed" json:"seed"`
	Region          RegionSpec `yaml:"region" json:"region"`
	Layers          []int      `yaml:"layers" json:"layers"`
	MaxObservations int        `yaml:"max_observations" json:"max_observations"`
	Retries         int        `yaml:"retries" json:"retries"`

	CatalogPath string `yaml:"catalog" json:"catalog"`
	DataDir     string `yaml:"data_dir" json:"data_dir"`
	DBPath      string `yaml:"db_path" json:"db_path"`
	Listen      string `yaml:"listen" json:"listen"`
	Trace       bool   `yaml:"trace" json:"trace"`

	Index IndexSpec `yaml:"index" json:"index"`
}

type RegionSpec struct {
	Center []int `yaml:"center" json:"center"`
	Size   []int `yaml:"size" json:"size"`
}

// IndexSpec configures the optional remote run index.
type IndexSpec struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint,omitempty"`
	Token     string `yaml:"token" json:"-"`
	BatchSize int    `yaml:"batch_size" json:"batch_size,omitempty"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Seed:            1,
		Region:          RegionSpec{Center: []int{0, 0, 0}, Size: []int{32, 32, 2}},
		Layers:          []int{0, 1},
		Retries:         3,
		CatalogPath:     "configs/tiles.json",
		DataDir:         "data",
		Listen:          ":8080",
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, t.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills derived defaults: a short center is padded with zeros and an
// empty db path lives under the data dir.
func (t *Tuning) Normalize() {
	t.ProtocolVersion = strings.TrimSpace(t.ProtocolVersion)
	t.CatalogPath = strings.TrimSpace(t.CatalogPath)
	t.DataDir = strings.TrimSpace(t.DataDir)
	t.DBPath = strings.TrimSpace(t.DBPath)
	t.Listen = strings.TrimSpace(t.Listen)
	t.Index.Endpoint = strings.TrimSpace(t.Index.Endpoint)

	for len(t.Region.Center) < 3 {
		t.Region.Center = append(t.Region.Center, 0)
	}
	if t.DataDir == "" {
		t.DataDir = "data"
	}
	if t.DBPath == "" {
		t.DBPath = filepath.Join(t.DataDir, "index.sqlite")
	}
	if t.Index.BatchSize <= 0 {
		t.Index.BatchSize = 64
	}
}

func (t Tuning) Validate() error {
	if t.ProtocolVersion == "" {
		return fmt.Errorf("protocol_version is required")
	}
	if len(t.Region.Center) != 3 {
		return fmt.Errorf("region.center must have 3 values, got %d", len(t.Region.Center))
	}
	if len(t.Region.Size) != 3 {
		return fmt.Errorf("region.size must have 3 values, got %d", len(t.Region.Size))
	}
	for i, v := range t.Region.Size {
		if v < 0 {
			return fmt.Errorf("region.size[%d] must be >= 0, got %d", i, v)
		}
	}
	for z, l := range t.Layers {
		if l < 0 {
			return fmt.Errorf("layers[%d] must be >= 0, got %d", z, l)
		}
	}
	if t.MaxObservations < 0 {
		return fmt.Errorf("max_observations must be >= 0, got %d", t.MaxObservations)
	}
	if t.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", t.Retries)
	}
	if t.CatalogPath == "" {
		return fmt.Errorf("catalog is required")
	}
	return nil
}

// GenRegion converts the validated region spec.
func (t Tuning) GenRegion() lattice.Region {
	c, s := t.Region.Center, t.Region.Size
	return lattice.Region{
		Center: tile.Coord{X: c[0], Y: c[1], Z: c[2]},
		Size:   lattice.Size{X: s[0], Y: s[1], Z: s[2]},
	}
}

// Digest is the sha256 of the canonical JSON of the applied values.
func (t Tuning) Digest() string {
	b, _ := json.Marshal(t)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
