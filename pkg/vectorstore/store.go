// Package vectorstore defines the contract this pipeline relies on from the
// hosted vector-search backend: named namespaces that accept column-oriented
// upserts of id/vector/title/url rows, configured for cosine distance with
// full-text search enabled on the title column.
//
// The backend's own storage, indexing and query machinery are out of scope;
// only the write-side call contract lives here. See the postgres subpackage
// for the pgvector-backed implementation and the mock subpackage for an
// in-memory test double.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNamespaceNotFound reports that the addressed namespace does not exist.
// Callers clearing a namespace before upload treat it as "nothing to clear".
var ErrNamespaceNotFound = errors.New("namespace not found")

// APIError wraps any backend failure other than a missing namespace.
type APIError struct {
	// Op is the operation that failed ("clear", "write").
	Op string

	// Namespace is the namespace the operation addressed.
	Namespace string

	// Err is the underlying backend error.
	Err error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vectorstore: %s %q: %v", e.Op, e.Namespace, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Batch is a column-oriented upsert payload. All columns must have equal
// length; row i is (IDs[i], Vectors[i], Titles[i], URLs[i]).
type Batch struct {
	IDs     []int64
	Vectors [][]float32
	Titles  []string
	URLs    []string
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int { return len(b.IDs) }

// Validate checks column cardinalities and vector dimensions. Every vector
// must share the dimension of the first; a batch of mixed dimensions can
// never be written.
func (b Batch) Validate() error {
	n := len(b.IDs)
	if n == 0 {
		return fmt.Errorf("vectorstore: empty batch")
	}
	if len(b.Vectors) != n || len(b.Titles) != n || len(b.URLs) != n {
		return fmt.Errorf("vectorstore: column lengths differ: ids=%d vectors=%d titles=%d urls=%d",
			n, len(b.Vectors), len(b.Titles), len(b.URLs))
	}
	dim := len(b.Vectors[0])
	if dim == 0 {
		return fmt.Errorf("vectorstore: zero-dimension vector at row 0")
	}
	for i, v := range b.Vectors {
		if len(v) != dim {
			return fmt.Errorf("vectorstore: vector dimension mismatch at row %d: got %d, want %d", i, len(v), dim)
		}
	}
	return nil
}

// Namespace is a handle to one named collection in the backend.
//
// Implementations must be safe for concurrent use: the uploader issues
// Write calls from multiple workers against the same handle.
type Namespace interface {
	// Name returns the namespace name this handle addresses.
	Name() string

	// Clear removes all rows from the namespace. A missing namespace is
	// reported as [ErrNamespaceNotFound]; any other failure as [*APIError].
	Clear(ctx context.Context) error

	// Write upserts the batch, keyed by row id, and returns the number of
	// rows written. A namespace that does not exist yet is created
	// implicitly by the first write. Failures are reported as [*APIError].
	Write(ctx context.Context, batch Batch) (int, error)
}
