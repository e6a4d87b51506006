package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/zanussbaum/fast-penguin/pkg/vectorstore"
)

// Namespace is a handle to one namespace table. Obtain via [Store.Namespace].
//
// Write is safe for concurrent use from multiple uploader workers. The table
// is created on the first write that gets that far; a creation failure is
// not cached, so the retry policy wrapping Write gets a fresh attempt.
type Namespace struct {
	pool  *pgxpool.Pool
	name  string
	table string

	mu      sync.Mutex
	created bool
	ensure  func(ctx context.Context, dim int) error
}

// Name implements [vectorstore.Namespace].
func (n *Namespace) Name() string { return n.name }

// Clear implements [vectorstore.Namespace]. It deletes every row in the
// namespace table. A table that does not exist yet maps to
// [vectorstore.ErrNamespaceNotFound]; any other failure to an APIError.
func (n *Namespace) Clear(ctx context.Context) error {
	_, err := n.pool.Exec(ctx, "DELETE FROM "+n.table)
	if err == nil {
		return nil
	}
	if isUndefinedTable(err) {
		return fmt.Errorf("%q: %w", n.name, vectorstore.ErrNamespaceNotFound)
	}
	return apiErr("clear", n.name, err)
}

// Write implements [vectorstore.Namespace]. It validates the batch, lazily
// creates the namespace table (vector dimension taken from the batch), and
// upserts all rows keyed by id in a single round trip.
func (n *Namespace) Write(ctx context.Context, batch vectorstore.Batch) (int, error) {
	if err := batch.Validate(); err != nil {
		return 0, apiErr("write", n.name, err)
	}

	if err := n.ensureReady(ctx, len(batch.Vectors[0])); err != nil {
		return 0, apiErr("write", n.name, err)
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, title, url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
		    embedding = EXCLUDED.embedding,
		    title     = EXCLUDED.title,
		    url       = EXCLUDED.url`, n.table)

	b := &pgx.Batch{}
	for i := 0; i < batch.Len(); i++ {
		b.Queue(q, batch.IDs[i], pgvector.NewVector(batch.Vectors[i]), batch.Titles[i], batch.URLs[i])
	}

	br := n.pool.SendBatch(ctx, b)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return 0, apiErr("write", n.name, fmt.Errorf("row %d: %w", i, err))
		}
	}
	if err := br.Close(); err != nil {
		return 0, apiErr("write", n.name, err)
	}
	return batch.Len(), nil
}

// ensureReady runs table creation until it succeeds once, then becomes a
// no-op. Only success latches: a transient DDL failure (a connection blip
// while creating the table) surfaces to the caller and the next Write tries
// again instead of failing every remaining batch in the run.
func (n *Namespace) ensureReady(ctx context.Context, dim int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.created {
		return nil
	}
	if err := n.ensure(ctx, dim); err != nil {
		return err
	}
	n.created = true
	return nil
}

// ensureTable creates the namespace table and its indexes: cosine-distance
// HNSW on the embedding column, GIN full-text search on title. Idempotent.
func (n *Namespace) ensureTable(ctx context.Context, dim int) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id        BIGINT        PRIMARY KEY,
    embedding vector(%[2]d)  NOT NULL,
    title     TEXT          NOT NULL DEFAULT '',
    url       TEXT          NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding
    ON %[1]s USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_%[1]s_title_fts
    ON %[1]s USING GIN (to_tsvector('english', title));
`, n.table, dim)

	if _, err := n.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create namespace table: %w", err)
	}
	return nil
}
