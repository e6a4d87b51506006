// Package mock provides an in-memory [vectorstore.Namespace] test double
// with injectable failures.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/zanussbaum/fast-penguin/pkg/vectorstore"
)

var _ vectorstore.Namespace = (*Namespace)(nil)

// Namespace is an in-memory namespace. The zero value is usable; configure
// the exported fields before first use, not concurrently with it.
type Namespace struct {
	// NamespaceName is returned by Name. Defaults to "mock".
	NamespaceName string

	// Missing makes Clear report ErrNamespaceNotFound, mimicking a
	// namespace that has never been written to.
	Missing bool

	// ClearErr, when set, is returned by Clear as-is (takes precedence
	// over Missing). Use it to simulate non-404 backend failures.
	ClearErr error

	// FailFunc, when set, is consulted on every Write with the batch and
	// its 1-based attempt number (attempts are tracked per batch, keyed by
	// the first row id). A non-nil return fails the write.
	FailFunc func(batch vectorstore.Batch, attempt int) error

	mu       sync.Mutex
	writes   []vectorstore.Batch
	attempts map[int64]int
	rows     int
	cleared  int
}

// Name implements [vectorstore.Namespace].
func (n *Namespace) Name() string {
	if n.NamespaceName == "" {
		return "mock"
	}
	return n.NamespaceName
}

// Clear implements [vectorstore.Namespace].
func (n *Namespace) Clear(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ClearErr != nil {
		return n.ClearErr
	}
	if n.Missing {
		return fmt.Errorf("%q: %w", n.Name(), vectorstore.ErrNamespaceNotFound)
	}
	n.cleared++
	n.writes = nil
	n.rows = 0
	return nil
}

// Write implements [vectorstore.Namespace].
func (n *Namespace) Write(_ context.Context, batch vectorstore.Batch) (int, error) {
	if err := batch.Validate(); err != nil {
		return 0, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.attempts == nil {
		n.attempts = make(map[int64]int)
	}
	key := batch.IDs[0]
	n.attempts[key]++

	if n.FailFunc != nil {
		if err := n.FailFunc(batch, n.attempts[key]); err != nil {
			return 0, &vectorstore.APIError{Op: "write", Namespace: n.Name(), Err: err}
		}
	}

	n.writes = append(n.writes, batch)
	n.rows += batch.Len()
	return batch.Len(), nil
}

// Rows returns the total number of rows accepted so far.
func (n *Namespace) Rows() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rows
}

// Writes returns a copy of the accepted batches in acceptance order.
func (n *Namespace) Writes() []vectorstore.Batch {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]vectorstore.Batch, len(n.writes))
	copy(out, n.writes)
	return out
}

// Attempts returns how many Write attempts were made for the batch whose
// first row id is key.
func (n *Namespace) Attempts(key int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attempts[key]
}

// Cleared returns how many times Clear succeeded.
func (n *Namespace) Cleared() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cleared
}
