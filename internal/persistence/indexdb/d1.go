package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/catalog"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tuning"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/wfc"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/snapshot"
)

// D1Config points the remote index at an HTTP ingest endpoint that accepts
// {"events": [...]} batches.
type D1Config struct {
	Endpoint      string
	Token         string
	Source        string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        *log.Logger
}

type D1Index struct {
	cfg        D1Config
	httpClient *http.Client

	ch   chan d1Event
	wg   sync.WaitGroup
	once sync.Once

	sendMu sync.RWMutex
	closed atomic.Bool

	queueDropped atomic.Uint64
	flushFail    atomic.Uint64
	sent         atomic.Uint64
	retainDrop   atomic.Uint64
}

type D1Stats struct {
	QueueDepth         int    `json:"queue_depth"`
	QueueCapacity      int    `json:"queue_capacity"`
	QueueDroppedTotal  uint64 `json:"queue_dropped_total"`
	FlushFailTotal     uint64 `json:"flush_fail_total"`
	SentTotal          uint64 `json:"sent_total"`
	RetainDroppedTotal uint64 `json:"retain_dropped_total"`
}

type d1Event struct {
	Kind    string `json:"kind"`
	Source  string `json:"source"`
	Payload any    `json:"payload"`
}

type d1SnapshotPayload struct {
	Path          string `json:"path"`
	MapID         string `json:"map_id"`
	Seed          uint64 `json:"seed"`
	CatalogDigest string `json:"catalog_digest"`
	Planes        int    `json:"planes"`
	CreatedAt     string `json:"created_at"`
}

type d1CatalogPayload struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	JSON      string `json:"json"`
	UpdatedAt string `json:"updated_at"`
}

func OpenD1(cfg D1Config) (*D1Index, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Source = strings.TrimSpace(cfg.Source)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty d1 ingest endpoint")
	}
	if cfg.Source == "" {
		cfg.Source = "mapgen"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	d := &D1Index{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		ch: make(chan d1Event, 4096),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()

	return d, nil
}

// Close flushes what is queued and stops the sender.
func (d *D1Index) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.sendMu.Lock()
		d.closed.Store(true)
		close(d.ch)
		d.sendMu.Unlock()
		d.wg.Wait()
	})
	return nil
}

// RecordRun implements wfc.RunRecorder.
func (d *D1Index) RecordRun(rec wfc.RunRecord) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	d.enqueue(d1Event{Kind: "run", Source: d.cfg.Source, Payload: rec})
	return nil
}

func (d *D1Index) RecordSnapshot(path string, snap snapshot.MapV1) {
	if d == nil || d.closed.Load() {
		return
	}
	d.enqueue(d1Event{Kind: "snapshot", Source: d.cfg.Source, Payload: d1SnapshotPayload{
		Path:          path,
		MapID:         snap.Header.MapID,
		Seed:          snap.Header.Seed,
		CatalogDigest: snap.CatalogDigest,
		Planes:        len(snap.Planes),
		CreatedAt:     snap.CreatedAt,
	}})
}

func (d *D1Index) UpsertCatalog(cat *catalog.Catalog, tune tuning.Tuning) error {
	if d == nil || d.closed.Load() || cat == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	b, err := cat.Marshal()
	if err != nil {
		return err
	}
	d.enqueue(d1Event{Kind: "catalog", Source: d.cfg.Source, Payload: d1CatalogPayload{
		Name: "tiles", Digest: cat.Digest(), JSON: string(b), UpdatedAt: now,
	}})
	if tb, err := json.Marshal(tune); err == nil {
		d.enqueue(d1Event{Kind: "catalog", Source: d.cfg.Source, Payload: d1CatalogPayload{
			Name: "tuning", Digest: tune.Digest(), JSON: string(tb), UpdatedAt: now,
		}})
	}
	return nil
}

func (d *D1Index) Stats() D1Stats {
	if d == nil {
		return D1Stats{}
	}
	return D1Stats{
		QueueDepth:         len(d.ch),
		QueueCapacity:      cap(d.ch),
		QueueDroppedTotal:  d.queueDropped.Load(),
		FlushFailTotal:     d.flushFail.Load(),
		SentTotal:          d.sent.Load(),
		RetainDroppedTotal: d.retainDrop.Load(),
	}
}

func (d *D1Index) enqueue(ev d1Event) {
	if d == nil {
		return
	}
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()
	if d.closed.Load() {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.queueDropped.Add(1)
		d.printf("d1 index queue full; drop kind=%s source=%s", ev.Kind, ev.Source)
	}
}

func (d *D1Index) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	// A failed batch is kept for the next flush, up to a few batches' worth.
	maxRetained := 8 * d.cfg.BatchSize
	batch := make([]d1Event, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("d1 index flush failed batch=%d err=%v", len(batch), err)
			if over := len(batch) - maxRetained; over > 0 {
				d.retainDrop.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		d.sent.Add(uint64(len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *D1Index) sendBatch(events []d1Event) error {
	if len(events) == 0 {
		return nil
	}

	body := struct {
		Events []d1Event `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-mapgen-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *D1Index) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
