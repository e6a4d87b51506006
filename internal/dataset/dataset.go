// Package dataset loads the vector metadata table and filters it down to the
// partition whose vectors are being uploaded.
//
// The on-disk format is JSON Lines: one object per row with the fields
// "wid" (int64 id), "title", "url" and "subset" (the partition label). Row
// order in the file is semantically fixed (row k is assumed to describe
// vector k of the concatenated shard sequence), so filtering must preserve
// the original order among surviving rows even when it runs in parallel.
package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ErrNoMatchingRows is returned by [Load] when filtering leaves nothing.
// An upload with zero rows is always a misconfiguration, so callers treat
// this as fatal.
var ErrNoMatchingRows = errors.New("no rows match the partition label")

// Row is one filtered metadata row, projected to the columns the uploader
// writes alongside each vector. Rows are immutable once loaded.
type Row struct {
	ID    int64  `json:"wid"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// record is the raw on-disk row, including the partition label that is
// dropped by projection.
type record struct {
	ID     int64  `json:"wid"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Subset string `json:"subset"`
}

// options holds optional knobs collected from functional options.
type options struct {
	maxRows int
	workers int
}

// Option is a functional option for [Load] and [LoadFromReader].
type Option func(*options)

// WithMaxRows truncates the filtered dataset to the first n rows. Zero or
// negative means no cap. Intended for test runs against a small slice of
// the data.
func WithMaxRows(n int) Option {
	return func(o *options) { o.maxRows = n }
}

// WithWorkers sets the number of parallel filter workers. Defaults to
// runtime.NumCPU()/2, minimum 1.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Load reads the JSONL metadata file at path and returns the rows whose
// subset field equals partition, in their original file order, projected to
// [Row]. Returns [ErrNoMatchingRows] when the filter leaves nothing.
func Load(path, partition string, opts ...Option) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %q: %w", path, err)
	}
	defer f.Close()

	rows, err := LoadFromReader(f, partition, opts...)
	if err != nil {
		return nil, fmt.Errorf("dataset: %q: %w", path, err)
	}
	return rows, nil
}

// LoadFromReader is the io.Reader form of [Load]. Useful in tests where
// datasets are built from string literals.
func LoadFromReader(r io.Reader, partition string, opts ...Option) ([]Row, error) {
	o := &options{workers: max(1, runtime.NumCPU()/2)}
	for _, opt := range opts {
		opt(o)
	}
	if o.workers < 1 {
		o.workers = 1
	}

	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}

	rows, err := filterParallel(lines, partition, o.workers)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoMatchingRows
	}

	if o.maxRows > 0 && len(rows) > o.maxRows {
		rows = rows[:o.maxRows]
	}
	return rows, nil
}

// readLines slurps all non-empty lines. The metadata table is small compared
// to the vector data, so holding the raw lines while filtering is fine.
func readLines(r io.Reader) ([][]byte, error) {
	var lines [][]byte
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		lines = append(lines, cp)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return lines, nil
}

// filterParallel splits lines into one contiguous chunk per worker, filters
// each chunk concurrently, and concatenates the per-chunk results in chunk
// order. Surviving rows therefore keep their original relative order.
func filterParallel(lines [][]byte, partition string, workers int) ([]Row, error) {
	if workers > len(lines) {
		workers = max(1, len(lines))
	}

	chunks := make([][]Row, workers)
	chunkSize := (len(lines) + workers - 1) / workers

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		lo := w * chunkSize
		hi := min(lo+chunkSize, len(lines))
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			out := make([]Row, 0, hi-lo)
			for i := lo; i < hi; i++ {
				var rec record
				if err := json.Unmarshal(lines[i], &rec); err != nil {
					return fmt.Errorf("parse line %d: %w", i+1, err)
				}
				if rec.Subset != partition {
					continue
				}
				out = append(out, Row{ID: rec.ID, Title: rec.Title, URL: rec.URL})
			}
			chunks[w] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	rows := make([]Row, 0, total)
	for _, c := range chunks {
		rows = append(rows, c...)
	}
	return rows, nil
}
