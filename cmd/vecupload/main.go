// Command vecupload bulk-loads precomputed embedding shards into a
// vector-store namespace, pairing each vector with its dataset row by
// position.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zanussbaum/fast-penguin/internal/dataset"
	"github.com/zanussbaum/fast-penguin/internal/shard"
	"github.com/zanussbaum/fast-penguin/internal/uploader"
	"github.com/zanussbaum/fast-penguin/pkg/vectorstore"
	"github.com/zanussbaum/fast-penguin/pkg/vectorstore/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	var (
		namespace = flag.String("namespace", "", "vector-store namespace to upload into (required)")
		datasetPt = flag.String("dataset", "", "path to the metadata dataset file, JSON lines (required)")
		partition = flag.String("partition", "20231101.en", "dataset partition label to keep")
		vectorDir = flag.String("vector-dir", "", "directory holding the .npy embedding shards (required)")
		batchSize = flag.Int("batch-size", uploader.DefaultBatchSize, "vectors per write")
		workers   = flag.Int("workers", uploader.DefaultWorkers, "concurrent batch writes")
		dsn       = flag.String("dsn", "", "Postgres connection string (or WIKIVEC_DSN env)")
		maxRows   = flag.Int("max-rows", 0, "stop reading the dataset after this many matching rows (0 = all)")
		logLevel  = flag.String("log-level", "info", "log level: debug, info, warn or error")
	)
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	// ── Flag validation ───────────────────────────────────────────────────────
	if *dsn == "" {
		*dsn = os.Getenv("WIKIVEC_DSN")
	}
	var missing []string
	if *namespace == "" {
		missing = append(missing, "-namespace")
	}
	if *datasetPt == "" {
		missing = append(missing, "-dataset")
	}
	if *vectorDir == "" {
		missing = append(missing, "-vector-dir")
	}
	if *dsn == "" {
		missing = append(missing, "-dsn (or WIKIVEC_DSN)")
	}
	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "vecupload: missing required flags: %v\n", missing)
		flag.Usage()
		return 2
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Dataset ───────────────────────────────────────────────────────────────
	slog.Info("loading dataset", "path", *datasetPt, "partition", *partition)
	start := time.Now()

	var opts []dataset.Option
	if *maxRows > 0 {
		opts = append(opts, dataset.WithMaxRows(*maxRows))
	}
	rows, err := dataset.Load(*datasetPt, *partition, opts...)
	if err != nil {
		if errors.Is(err, dataset.ErrNoMatchingRows) {
			slog.Error("no dataset rows match the partition", "partition", *partition)
		} else {
			slog.Error("failed to load dataset", "err", err)
		}
		return 1
	}
	slog.Info("dataset loaded", "rows", len(rows), "elapsed", time.Since(start).Round(time.Millisecond))

	// ── Shards ────────────────────────────────────────────────────────────────
	shards, err := shard.Locate(*vectorDir)
	if err != nil {
		if errors.Is(err, shard.ErrNoShards) {
			slog.Error("no embedding shards found", "dir", *vectorDir)
		} else {
			slog.Error("failed to locate shards", "err", err)
		}
		return 1
	}
	slog.Info("located embedding shards", "count", len(shards), "dir", *vectorDir)

	// ── Vector store ──────────────────────────────────────────────────────────
	store, err := postgres.New(ctx, *dsn)
	if err != nil {
		slog.Error("failed to connect to vector store", "err", err)
		return 1
	}
	defer store.Close()

	ns, err := store.Namespace(*namespace)
	if err != nil {
		slog.Error("invalid namespace", "namespace", *namespace, "err", err)
		return 1
	}

	// A fresh upload replaces the namespace wholesale. A namespace that does
	// not exist yet is fine, it will be created on first write.
	switch err := ns.Clear(ctx); {
	case errors.Is(err, vectorstore.ErrNamespaceNotFound):
		slog.Info("namespace does not exist yet, nothing to clear", "namespace", *namespace)
	case err != nil:
		slog.Error("failed to clear namespace", "namespace", *namespace, "err", err)
		return 1
	default:
		slog.Info("cleared existing namespace", "namespace", *namespace)
	}

	// ── Upload ────────────────────────────────────────────────────────────────
	up := uploader.New(ns, rows, uploader.Config{
		BatchSize: *batchSize,
		Workers:   *workers,
		Logger:    logger,
	})

	res, err := up.Run(ctx, shards)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Warn("upload interrupted",
				"uploaded", res.Uploaded,
				"total_vectors", res.TotalVectors,
			)
			return 1
		}
		slog.Error("upload failed", "err", err)
		return 1
	}

	slog.Info("done",
		"namespace", *namespace,
		"uploaded", res.Uploaded,
		"total_vectors", res.TotalVectors,
		"skipped_batches", res.SkippedBatches,
		"skipped_vectors", res.SkippedVectors,
		"failed_batches", res.FailedBatches,
	)
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
