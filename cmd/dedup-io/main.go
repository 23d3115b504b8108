// Command dedup-io stores files as deduplicated items and reports how
// much physical space chunk sharing saved.
//
// A regular file is stored as a single item; a directory is walked
// depth-first and every regular file below it becomes an item named by
// its path with '/' replaced by '-'. Per-file and aggregate logical and
// physical sizes are printed.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/prn-tf/leopold-dedup/internal/batch"
	"github.com/prn-tf/leopold-dedup/internal/config"
	"github.com/prn-tf/leopold-dedup/internal/fingerprint"
	"github.com/prn-tf/leopold-dedup/internal/item"
	"github.com/prn-tf/leopold-dedup/internal/metrics"
	"github.com/prn-tf/leopold-dedup/internal/store"
	"github.com/prn-tf/leopold-dedup/internal/store/filesystem"
	"github.com/prn-tf/leopold-dedup/internal/store/memory"
	"github.com/prn-tf/leopold-dedup/internal/store/postgres"
	"github.com/prn-tf/leopold-dedup/internal/store/redis"
	"github.com/prn-tf/leopold-dedup/internal/store/sqlite"
)

const collectionName = "dedup-io"

func main() {
	flags := flag.NewFlagSet("dedup-io", flag.ContinueOnError)
	chunkSize := flags.Uint64P("chunk_size", "d", 128000, "Chunk size to use")
	path := flags.StringP("path", "p", "", "File path to use")
	configPath := flags.String("config", "", "Configuration file")

	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *path == "" {
		fmt.Fprintln(os.Stderr, "Error: --path is required")
		flags.Usage()
		os.Exit(1)
	}

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !flags.Changed("chunk_size") {
		*chunkSize = cfg.Chunk.DefaultSize
	}

	logger := newLogger(cfg.Log)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, registry, logger)
	}

	algo, err := fingerprint.Get(cfg.Chunk.Algorithm)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	objects, kv, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeStores()

	items := item.NewStore(objects, kv, algo, m, logger)

	b := batch.New(batch.DefaultSemantics(), logger)
	collection, err := items.CreateCollection(collectionName, b)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := b.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	files, err := collectFiles(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var sizeTotal, sizePhysical uint64
	for _, file := range files {
		contents, err := os.ReadFile(file)
		if err != nil {
			logger.Error().Err(err).Str("file", file).Msg("failed to read file")
			continue
		}
		fmt.Printf("Open file: %s | Size: %d\n", file, len(contents))
		sizeTotal += uint64(len(contents))

		it, err := collection.CreateItem(strings.ReplaceAll(file, "/", "-"), nil, b)
		if err != nil {
			logger.Error().Err(err).Str("file", file).Msg("failed to create item")
			continue
		}
		if err := it.SetChunkSize(*chunkSize); err != nil {
			logger.Error().Err(err).Str("file", file).Msg("failed to set chunk size")
			continue
		}

		var bytesWritten uint64
		it.Write(contents, 0, &bytesWritten, b)
		if err := b.Execute(ctx); err != nil {
			logger.Error().Err(err).Str("file", file).Msg("failed to store file")
			continue
		}

		physical := it.PhysicalSize()
		fmt.Printf("Physical Size: %d\n", physical)
		sizePhysical += physical
	}

	fmt.Printf("\nTotal Size: %d | Total Physical Size: %d\n", sizeTotal, sizePhysical)
}

// collectFiles returns the regular files to store: the path itself, or
// every regular file below it in depth-first order.
func collectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if info.Mode().IsRegular() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk path: %w", err)
	}
	return files, nil
}

// openStores builds the configured object and KV store backends.
func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.ObjectStore, store.KVStore, func(), error) {
	var objects store.ObjectStore
	switch cfg.Store.ObjectBackend {
	case "memory":
		objects = memory.NewObjectStore()
	case "filesystem":
		fsStore, err := filesystem.NewObjectStore(filesystem.Config{DataDir: cfg.Store.DataDir}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		objects = fsStore
	}

	closer := func() {}
	var kv store.KVStore
	switch cfg.Store.KVBackend {
	case "memory":
		kv = memory.NewKVStore()
	case "sqlite":
		s, err := sqlite.NewKVStore(sqlite.Config{Path: cfg.Store.SQLitePath}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		kv, closer = s, func() { _ = s.Close() }
	case "postgres":
		s, err := postgres.NewKVStore(ctx, postgres.Config{DSN: cfg.Postgres.DSN}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		kv, closer = s, s.Close
	case "redis":
		s, err := redis.NewKVStore(ctx, redis.Config{
			Addr:        cfg.Redis.Addr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		kv, closer = s, func() { _ = s.Close() }
	}

	return objects, kv, closer, nil
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func serveMetrics(addr string, registry *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics endpoint failed")
	}
}
