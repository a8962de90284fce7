package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/catalog"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tuning"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/wfc"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/indexdb"
	persistlog "github.com/JLerxky/prime-game-sub000/internal/persistence/log"
	"github.com/JLerxky/prime-game-sub000/internal/transport/ws"
)

func main() {
	var (
		tuningPath  = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		addr        = flag.String("addr", "", "http listen address (default: tuning listen)")
		catalogPath = flag.String("catalog", "", "tile catalog path (default: tuning catalog)")
		dataDir     = flag.String("data", "", "runtime data directory (default: tuning data_dir)")
		seed        = flag.Uint64("seed", 0, "generation seed (default: tuning seed)")
		disableDB   = flag.Bool("disable_db", false, "keep tiles in memory and skip the sqlite index")
		restorePath = flag.String("restore", "", "snapshot whose cells are written to the tile store before generating")
		loadLatest  = flag.Bool("load_latest_snapshot", true, "serve the existing snapshot for the seed instead of regenerating")
		trace       = flag.Bool("trace", false, "write every observation to <data>/trace (also tuning trace)")
		archiveMaps = flag.Bool("archive", true, "copy each generated map into <data>/archives/<map_id>")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if s := strings.TrimSpace(*addr); s != "" {
		tune.Listen = s
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
	tune.Trace = tune.Trace || *trace

	cat, err := catalog.Load(tune.CatalogPath)
	if err != nil {
		logger.Fatalf("load catalog: %v", err)
	}
	logger.Printf("catalog=%s tiles=%d digest=%s", tune.CatalogPath, cat.Len(), cat.Digest()[:12])

	runLog := persistlog.NewRunLogger(tune.DataDir)
	defer runLog.Close()

	holder := &ws.Holder{}
	svc := &mapService{
		cat:       cat,
		tune:      tune,
		recorders: []wfc.RunRecorder{runLog},
		archive:   *archiveMaps,
		holder:    holder,
		srv:       ws.NewServer(holder, logger),
		log:       logger,
	}

	var sqlite *indexdb.SQLiteIndex
	if *disableDB {
		svc.store = wfc.NewMemStore()
	} else {
		sqlite, err = indexdb.OpenSQLite(tune.DBPath)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer sqlite.Close()
		if err := sqlite.UpsertCatalog(context.Background(), cat, tune); err != nil {
			logger.Printf("index: upsert catalog: %v", err)
		}
		svc.store = sqlite
		svc.recorders = append(svc.recorders, sqlite)
		svc.snapIdx = append(svc.snapIdx, sqlite)
	}

	d1, err := openRemoteIndex(tune, logger)
	if err != nil {
		logger.Fatalf("open remote index: %v", err)
	}
	if d1 != nil {
		defer d1.Close()
		if err := d1.UpsertCatalog(cat, tune); err != nil {
			logger.Printf("remote index: upsert catalog: %v", err)
		}
		svc.recorders = append(svc.recorders, d1)
		svc.snapIdx = append(svc.snapIdx, d1)
	}

	if tune.Trace {
		tl := persistlog.NewTraceLogger(tune.DataDir)
		defer tl.Close()
		svc.trace = tl
	}

	ctx, cancel := signalContext()
	defer cancel()

	if p := strings.TrimSpace(*restorePath); p != "" {
		n, err := svc.Restore(ctx, p)
		if err != nil {
			logger.Fatalf("restore %s: %v", p, err)
		}
		logger.Printf("restored %d cells from %s", n, p)
	}

	req := svc.defaultRequest()
	resumed := false
	if *loadLatest {
		resumed, err = svc.LoadExisting(req.Seed, req.Region)
		if err != nil {
			logger.Printf("load snapshot: %v", err)
		}
	}
	if !resumed {
		go func() {
			if _, err := svc.Generate(ctx, req); err != nil {
				logger.Printf("generate: %v", err)
			}
		}()
	}

	enableAdmin := envBool("MAPGEN_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprof := envBool("MAPGEN_ENABLE_PPROF_HTTP", false)
	srv := &http.Server{
		Addr:              tune.Listen,
		Handler:           buildMux(svc, sqlite, d1, logger, enableAdmin, enablePprof),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", tune.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
