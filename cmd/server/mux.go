package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/JLerxky/prime-game-sub000/internal/persistence/indexdb"
	"github.com/JLerxky/prime-game-sub000/internal/protocol"
)

func buildMux(svc *mapService, sqlite *indexdb.SQLiteIndex, d1 *indexdb.D1Index, logger *log.Logger, enableAdmin, enablePprof bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/ws", svc.srv.Handler())
	mux.HandleFunc("/v1/map", svc.srv.MapHandler())
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, svc, sqlite, d1)
	})

	if enableAdmin {
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			resp := struct {
				MapID      string           `json:"map_id,omitempty"`
				Seed       uint64           `json:"seed,omitempty"`
				Generating bool             `json:"generating"`
				Clients    int              `json:"clients"`
				Index      *indexdb.Stats   `json:"index,omitempty"`
				Remote     *indexdb.D1Stats `json:"remote_index,omitempty"`
			}{
				Generating: svc.busy.Load(),
				Clients:    svc.srv.Clients(),
			}
			if m, ok := svc.holder.Current(); ok {
				resp.MapID = m.Header.MapID
				resp.Seed = m.Header.Seed
			}
			if sqlite != nil {
				st := sqlite.Stats()
				resp.Index = &st
			}
			if d1 != nil {
				st := d1.Stats()
				resp.Remote = &st
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/generate", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			req, err := parseGenerateRequest(r, svc.defaultRequest())
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(rw).Encode(protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
			defer cancel()
			snap, err := svc.Generate(ctx, req)
			if err != nil {
				logger.Printf("admin generate: %v", err)
				rw.WriteHeader(http.StatusUnprocessableEntity)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "map_id": snap.Header.MapID, "seed": snap.Header.Seed, "summary": snap.Summary})
		})
	} else {
		logger.Printf("admin endpoints disabled (MAPGEN_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// parseGenerateRequest reads optional seed, cx and cy query parameters on top of
// the configured defaults. Moving the center generates a neighbouring region that
// hydrates any overlap from the tile store.
func parseGenerateRequest(r *http.Request, req generateRequest) (generateRequest, error) {
	q := r.URL.Query()
	if v := q.Get("seed"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return req, fmt.Errorf("bad seed %q", v)
		}
		req.Seed = n
	}
	for _, p := range []struct {
		key string
		dst *int
	}{{"cx", &req.Region.Center.X}, {"cy", &req.Region.Center.Y}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("bad %s %q", p.key, v)
		}
		*p.dst = n
	}
	return req, req.Region.Validate()
}

func writeMetrics(rw http.ResponseWriter, svc *mapService, sqlite *indexdb.SQLiteIndex, d1 *indexdb.D1Index) {
	fmt.Fprintf(rw, "# HELP mapgen_ws_clients Connected map clients.\n")
	fmt.Fprintf(rw, "# TYPE mapgen_ws_clients gauge\n")
	fmt.Fprintf(rw, "mapgen_ws_clients %d\n", svc.srv.Clients())

	fmt.Fprintf(rw, "# HELP mapgen_generations_total Finished generations by result.\n")
	fmt.Fprintf(rw, "# TYPE mapgen_generations_total counter\n")
	fmt.Fprintf(rw, "mapgen_generations_total{result=%q} %d\n", "ok", svc.runsOK.Load())
	fmt.Fprintf(rw, "mapgen_generations_total{result=%q} %d\n", "failed", svc.runsFailed.Load())

	ready := 0
	if m, ok := svc.holder.Current(); ok {
		ready = 1
		fmt.Fprintf(rw, "# HELP mapgen_map_cells Decided cells in the served map.\n")
		fmt.Fprintf(rw, "# TYPE mapgen_map_cells gauge\n")
		fmt.Fprintf(rw, "mapgen_map_cells{map=%q} %d\n", m.Header.MapID, m.Summary.CellsDecided)
	}
	fmt.Fprintf(rw, "# HELP mapgen_map_ready Whether a map is being served.\n")
	fmt.Fprintf(rw, "# TYPE mapgen_map_ready gauge\n")
	fmt.Fprintf(rw, "mapgen_map_ready %d\n", ready)

	if sqlite != nil {
		s := sqlite.Stats()
		fmt.Fprintf(rw, "# HELP mapgen_index_queue_depth SQLite index writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE mapgen_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "mapgen_index_queue_depth %d\n", s.QueueDepth)
		fmt.Fprintf(rw, "# HELP mapgen_index_dropped_total Index records dropped because the queue was full.\n")
		fmt.Fprintf(rw, "# TYPE mapgen_index_dropped_total counter\n")
		fmt.Fprintf(rw, "mapgen_index_dropped_total{kind=%q} %d\n", "run", s.DropRunTotal)
		fmt.Fprintf(rw, "mapgen_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
	}
	if d1 != nil {
		s := d1.Stats()
		fmt.Fprintf(rw, "# HELP mapgen_remote_index_sent_total Events delivered to the remote index.\n")
		fmt.Fprintf(rw, "# TYPE mapgen_remote_index_sent_total counter\n")
		fmt.Fprintf(rw, "mapgen_remote_index_sent_total %d\n", s.SentTotal)
		fmt.Fprintf(rw, "# HELP mapgen_remote_index_flush_fail_total Failed remote index flushes.\n")
		fmt.Fprintf(rw, "# TYPE mapgen_remote_index_flush_fail_total counter\n")
		fmt.Fprintf(rw, "mapgen_remote_index_flush_fail_total %d\n", s.FlushFailTotal)
		fmt.Fprintf(rw, "# HELP mapgen_remote_index_dropped_total Remote index events dropped.\n")
		fmt.Fprintf(rw, "# TYPE mapgen_remote_index_dropped_total counter\n")
		fmt.Fprintf(rw, "mapgen_remote_index_dropped_total{stage=%q} %d\n", "queue", s.QueueDroppedTotal)
		fmt.Fprintf(rw, "mapgen_remote_index_dropped_total{stage=%q} %d\n", "retain", s.RetainDroppedTotal)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
