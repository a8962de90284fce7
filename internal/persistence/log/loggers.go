package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/wfc"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// RunLogger writes one JSONL entry per generation attempt (compressed).
type RunLogger struct{ w *JSONLZstdWriter }

func NewRunLogger(dataDir string) *RunLogger {
	return &RunLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "runs"), "runs")}
}

func (l *RunLogger) RecordRun(v wfc.RunRecord) error { return l.w.Write(v) }
func (l *RunLogger) Close() error                    { return l.w.Close() }

// ObservationEntry is one collapse in a traced generation.
type ObservationEntry struct {
	RunID       string `json:"run_id,omitempty"`
	Seed        uint64 `json:"seed"`
	Observation int    `json:"observation"`
	Pos         [3]int `json:"pos"`
	TileID      string `json:"tile_id"`
}

// TraceLogger writes observation JSONL entries (compressed).
type TraceLogger struct {
	w *JSONLZstdWriter

	mu  sync.Mutex
	err error
}

func NewTraceLogger(dataDir string) *TraceLogger {
	return &TraceLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "trace"), "trace")}
}

func (l *TraceLogger) WriteObservation(v ObservationEntry) error { return l.w.Write(v) }

// Hook returns a function suitable for wfc.Options.AfterObserve. The first write
// error is kept and reported by Err; later observations are still attempted.
func (l *TraceLogger) Hook(runID string, seed uint64) func(tile.Coord, tile.Tile, int) {
	return func(c tile.Coord, t tile.Tile, n int) {
		err := l.WriteObservation(ObservationEntry{
			RunID:       runID,
			Seed:        seed,
			Observation: n,
			Pos:         [3]int{c.X, c.Y, c.Z},
			TileID:      t.ID,
		})
		if err != nil {
			l.mu.Lock()
			if l.err == nil {
				l.err = err
			}
			l.mu.Unlock()
		}
	}
}

func (l *TraceLogger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *TraceLogger) Close() error { return l.w.Close() }
