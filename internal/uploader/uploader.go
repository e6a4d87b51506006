// Package uploader implements the batch upload pipeline: it aligns vector
// shard slices with dataset row slices index-for-index across shard
// boundaries, fans aligned batches out to a bounded worker pool, retries
// failed writes with exponential backoff, and accounts for every vector
// seen.
//
// Shards are processed strictly in order relative to each other; batches
// within one shard upload concurrently. The global vector offset advances by
// each shard's full vector count once all of its batches resolve, so the
// dataset alignment tracks position, not upload success.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/metric"

	"github.com/zanussbaum/fast-penguin/internal/dataset"
	"github.com/zanussbaum/fast-penguin/internal/observe"
	"github.com/zanussbaum/fast-penguin/internal/resilience"
	"github.com/zanussbaum/fast-penguin/internal/shard"
	"github.com/zanussbaum/fast-penguin/pkg/vectorstore"
)

// Defaults for Config fields left zero.
const (
	DefaultBatchSize = 1000
	DefaultWorkers   = 8
)

// Config tunes an upload run.
type Config struct {
	// BatchSize is the maximum number of vectors per write. Default
	// [DefaultBatchSize].
	BatchSize int

	// Workers bounds the number of concurrent batch writes. Default
	// [DefaultWorkers].
	Workers int

	// Retry is the per-batch retry policy. Zero value gets the policy
	// defaults (3 attempts, 1s initial backoff, 10s cap).
	Retry resilience.Policy

	// ProgressStep is the number of processed vectors between progress log
	// lines. Default 10000.
	ProgressStep int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Result is the final tally of an upload run.
type Result struct {
	// TotalVectors is the number of vectors across all shards.
	TotalVectors int

	// Uploaded is the number of rows acknowledged by the store.
	Uploaded int

	// SkippedBatches and SkippedVectors count batches dropped before
	// submission because their vector and row counts did not line up.
	SkippedBatches int
	SkippedVectors int

	// FailedBatches counts batches dropped after exhausting retries.
	FailedBatches int
}

// Uploader drives one upload run against a namespace. Construct with [New]
// and call [Uploader.Run] once; an Uploader is not reusable across runs.
type Uploader struct {
	ns   vectorstore.Namespace
	rows []dataset.Row
	cfg  Config
	log  *slog.Logger
}

// New returns an Uploader that writes rows paired with shard vectors to ns.
func New(ns vectorstore.Namespace, rows []dataset.Row, cfg Config) *Uploader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Uploader{
		ns:   ns,
		rows: rows,
		cfg:  cfg,
		log:  cfg.Logger.With("namespace", ns.Name()),
	}
}

// batchOutcome is what a worker reports back for one submitted batch.
type batchOutcome struct {
	vectors int
	written int
	err     error
}

// Run uploads every shard in order and returns the final tally. Misaligned
// batches are skipped and failed batches dropped without aborting the run;
// only shard open errors, pool setup errors, and context cancellation end
// it early.
func (u *Uploader) Run(ctx context.Context, shardPaths []string) (Result, error) {
	if len(shardPaths) == 0 {
		return Result{}, shard.ErrNoShards
	}

	// Open every shard up front. The mmap reads are lazy, so this only
	// parses headers, and it lets the row-count check run before the first
	// write instead of surfacing as per-batch skips deep into the run.
	files := make([]*shard.File, 0, len(shardPaths))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	total := 0
	for _, p := range shardPaths {
		f, err := shard.Open(p)
		if err != nil {
			return Result{}, fmt.Errorf("open shard %s: %w", p, err)
		}
		files = append(files, f)
		total += f.Rows()
	}

	if total != len(u.rows) {
		u.log.Warn("vector count does not match dataset row count, misaligned batches will be skipped",
			"vectors", total,
			"rows", len(u.rows),
		)
	}

	pool, err := ants.NewPool(u.cfg.Workers)
	if err != nil {
		return Result{}, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	res := Result{TotalVectors: total}
	prog := newProgress(u.log, total, u.cfg.ProgressStep)

	// offset counts vectors in all fully-processed prior shards.
	offset := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		u.uploadShard(ctx, pool, f, offset, prog, &res)
		offset += f.Rows()
	}

	u.log.Info("upload complete",
		"uploaded", res.Uploaded,
		"total_vectors", res.TotalVectors,
		"skipped_batches", res.SkippedBatches,
		"failed_batches", res.FailedBatches,
	)
	return res, ctx.Err()
}

// uploadShard slices one shard into batches, dispatches the aligned ones to
// the pool, and blocks until all of them resolve. Totals in res are only
// mutated here, on the run loop, as outcomes are collected.
func (u *Uploader) uploadShard(ctx context.Context, pool *ants.Pool, f *shard.File, offset int, prog *progress, res *Result) {
	var wg sync.WaitGroup
	nBatches := (f.Rows() + u.cfg.BatchSize - 1) / u.cfg.BatchSize
	outcomes := make(chan batchOutcome, nBatches)
	submitted := 0

	for i := 0; i < f.Rows(); i += u.cfg.BatchSize {
		j := min(i+u.cfg.BatchSize, f.Rows())

		// Global dataset row range for this batch, clamped to the dataset.
		lo := min(offset+i, len(u.rows))
		hi := min(offset+j, len(u.rows))

		if hi-lo != j-i {
			u.log.Warn("skipping misaligned batch",
				"shard", f.Path(),
				"vectors", j-i,
				"rows", hi-lo,
				"offset", offset+i,
			)
			u.cfg.Metrics.RecordBatchSkipped(ctx, u.ns.Name())
			res.SkippedBatches++
			res.SkippedVectors += j - i
			prog.Advance(j - i)
			continue
		}

		rows := u.rows[lo:hi]
		lof, hif := i, j
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			outcomes <- u.uploadBatch(ctx, f, lof, hif, rows)
		})
		if err != nil {
			// Pool rejected the task (released or overloaded). Account for
			// the batch as failed rather than aborting the run.
			wg.Done()
			outcomes <- batchOutcome{vectors: j - i, err: fmt.Errorf("submit batch: %w", err)}
		}
		submitted++
	}

	wg.Wait()

	for k := 0; k < submitted; k++ {
		out := <-outcomes
		if out.err != nil {
			u.log.Error("batch permanently dropped",
				"shard", f.Path(),
				"vectors", out.vectors,
				"error", out.err,
			)
			u.cfg.Metrics.RecordBatchFailed(ctx, u.ns.Name())
			res.FailedBatches++
		} else {
			res.Uploaded += out.written
			u.cfg.Metrics.RecordRowsUploaded(ctx, u.ns.Name(), int64(out.written))
		}
		prog.Advance(out.vectors)
	}
}

// uploadBatch runs on a pool worker: read the vector slice, pair it with the
// dataset rows, and write it under the retry policy.
func (u *Uploader) uploadBatch(ctx context.Context, f *shard.File, i, j int, rows []dataset.Row) batchOutcome {
	out := batchOutcome{vectors: j - i}

	vecs, err := f.ReadRange(i, j)
	if err != nil {
		out.err = fmt.Errorf("read vectors [%d,%d): %w", i, j, err)
		return out
	}

	batch := vectorstore.Batch{
		IDs:     make([]int64, len(rows)),
		Vectors: vecs,
		Titles:  make([]string, len(rows)),
		URLs:    make([]string, len(rows)),
	}
	for k, r := range rows {
		batch.IDs[k] = r.ID
		batch.Titles[k] = r.Title
		batch.URLs[k] = r.URL
	}

	start := time.Now()
	var written int
	err = u.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		n, werr := u.ns.Write(ctx, batch)
		if werr != nil {
			return werr
		}
		written = n
		return nil
	})
	u.cfg.Metrics.BatchWriteDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("namespace", u.ns.Name())),
	)
	if err != nil {
		out.err = err
		return out
	}
	out.written = written
	return out
}
