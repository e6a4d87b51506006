// Package shard locates and reads the on-disk vector shard files consumed by
// the upload pipeline.
//
// A shard is a NumPy .npy file holding a dense (rows × dim) float32 matrix.
// The full vector sequence is the concatenation of all shards in a directory,
// ordered by natural (human-numeric) filename sort so that "part_2.npy"
// precedes "part_10.npy". Shards can be large; [Open] memory-maps them so
// batches are paged in lazily rather than loaded eagerly.
package shard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Ext is the filename extension shard files must carry.
const Ext = ".npy"

// ErrNoShards is returned by [Locate] when the directory holds no shard
// files. There is nothing to upload, so callers treat this as fatal.
var ErrNoShards = errors.New("no vector shard files found")

// Locate lists the shard files in dir and returns their full paths in
// natural sort order. Subdirectories are not descended into.
//
// Returns [ErrNoShards] (wrapped with the directory name) when no file with
// the .npy extension is present.
func Locate(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("shard: read dir %q: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), Ext) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("shard: %q: %w", dir, ErrNoShards)
	}

	sort.Slice(paths, func(i, j int) bool {
		return naturalLess(filepath.Base(paths[i]), filepath.Base(paths[j]))
	})
	return paths, nil
}
