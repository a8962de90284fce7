package main

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tuning"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/indexdb"
)

// openRemoteIndex starts the optional HTTP run index. Environment variables
// override tuning.yaml so the token never has to live in the config file.
func openRemoteIndex(tune tuning.Tuning, logger *log.Logger) (*indexdb.D1Index, error) {
	endpoint := tune.Index.Endpoint
	if v := strings.TrimSpace(os.Getenv("MAPGEN_INDEX_D1_INGEST_URL")); v != "" {
		endpoint = v
	}
	if endpoint == "" {
		return nil, nil
	}
	token := tune.Index.Token
	if v := strings.TrimSpace(os.Getenv("MAPGEN_INDEX_D1_TOKEN")); v != "" {
		token = v
	}
	return indexdb.OpenD1(indexdb.D1Config{
		Endpoint:      endpoint,
		Token:         token,
		Source:        envString("MAPGEN_INDEX_SOURCE", "mapgen"),
		BatchSize:     envInt("MAPGEN_INDEX_D1_BATCH_SIZE", tune.Index.BatchSize),
		FlushInterval: time.Duration(envInt("MAPGEN_INDEX_D1_FLUSH_MS", 500)) * time.Millisecond,
		Logger:        logger,
	})
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
